package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"concierge/internal/notification/models"
	"concierge/pkg/platform/sentinel"
)

const (
	defaultBlockStep = time.Second
	promoteBatch     = 100
)

// promoteScript moves due members of the delayed set onto the waiting list
// and recovers stalled jobs, in one atomic step so two workers cannot promote
// or recover the same job twice.
//
// An active id without a lease (its claimer died before recording one) gets
// a fresh lease. An id whose lease expired leaves active, has the lost
// attempt counted in its hash, and is pushed to the claim end of waiting.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end

local active = redis.call('LRANGE', KEYS[4], -tonumber(ARGV[2]), -1)
for _, id in ipairs(active) do
	if not redis.call('ZSCORE', KEYS[3], id) then
		redis.call('ZADD', KEYS[3], tonumber(ARGV[1]) + tonumber(ARGV[3]), id)
	end
end

local stalled = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(stalled) do
	redis.call('ZREM', KEYS[3], id)
	if redis.call('LREM', KEYS[4], 1, id) > 0 then
		redis.call('HINCRBY', ARGV[4] .. id, 'stalls', 1)
		redis.call('RPUSH', KEYS[2], id)
	end
end
return #ids + #stalled
`)

// retryScript moves a retained job back to waiting with its reset body. It
// returns 0 when the job is not in the failed list.
var retryScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then
	return 0
end
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[3], 'data', ARGV[2])
redis.call('HDEL', KEYS[3], 'stalls')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// RedisQueue is a Queue backed by Redis.
//
// Layout under prefix "concierge:queue:<name>:":
//   - job:<id>  hash with the JSON job in field "data" and, after a stall,
//     the number of expired leases in field "stalls"
//   - waiting   list, LPUSH on enqueue and BLMOVE from the right on claim
//   - active    list of claimed ids
//   - lease     sorted set of active ids scored by lease expiry in unix milliseconds
//   - delayed   sorted set scored by due time in unix milliseconds
//   - failed    list of retained ids, newest at the head
type RedisQueue struct {
	client    redis.UniversalClient
	prefix    string
	now       func() time.Time
	lease     time.Duration
	blockStep time.Duration
}

type RedisOption func(*RedisQueue)

// WithRedisClock sets the clock used for backoff and lease scheduling.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(q *RedisQueue) {
		q.now = now
	}
}

// WithRedisLease sets how long a claimed job may stay active before it is
// recovered as stalled.
func WithRedisLease(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func NewRedis(client redis.UniversalClient, name string, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client:    client,
		prefix:    "concierge:queue:" + name + ":",
		now:       time.Now,
		lease:     DefaultLease,
		blockStep: defaultBlockStep,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) jobKey(id string) string { return q.prefix + "job:" + id }
func (q *RedisQueue) waitingKey() string      { return q.prefix + "waiting" }
func (q *RedisQueue) activeKey() string       { return q.prefix + "active" }
func (q *RedisQueue) leaseKey() string        { return q.prefix + "lease" }
func (q *RedisQueue) delayedKey() string      { return q.prefix + "delayed" }
func (q *RedisQueue) failedKey() string       { return q.prefix + "failed" }

func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload models.SendMailOptions, opts models.Options) (*models.Job, error) {
	job := newJob(name, payload, opts, q.now())
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	id := job.ID.String()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), "data", data)
		pipe.LPush(ctx, q.waitingKey(), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Claim(ctx context.Context, wait time.Duration) (*models.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		if err := q.promote(ctx); err != nil {
			return nil, err
		}

		block := min(max(time.Until(deadline), time.Millisecond), q.blockStep)
		id, err := q.client.BLMove(ctx, q.waitingKey(), q.activeKey(), "RIGHT", "LEFT", block).Result()
		if errors.Is(err, redis.Nil) {
			if time.Now().After(deadline) {
				return nil, ErrNoJob
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("claim job: %w", err)
		}

		job, stalls, err := q.loadClaimed(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Hash vanished underneath the id; drop the orphan and keep going.
			q.client.LRem(ctx, q.activeKey(), 1, id)
			continue
		}
		if err != nil {
			if rerr := q.release(ctx, id); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return nil, err
		}

		now := q.now()
		if stalls > 0 && !recordStalls(job, stalls, now) {
			if err := q.retire(ctx, job); err != nil {
				return nil, err
			}
			continue
		}
		job.State = models.StateActive
		job.ProcessedAt = &now
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := q.save(ctx, pipe, job); err != nil {
				return err
			}
			pipe.HDel(ctx, q.jobKey(id), "stalls")
			pipe.ZAdd(ctx, q.leaseKey(), redis.Z{Score: float64(now.Add(q.lease).UnixMilli()), Member: id})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("record claim: %w", err)
		}
		return job, nil
	}
}

// release hands a claimed id back to the claim end of waiting. It runs even
// when ctx is already cancelled so the id is not stranded in active.
func (q *RedisQueue) release(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.ZRem(ctx, q.leaseKey(), id)
		pipe.RPush(ctx, q.waitingKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}
	return nil
}

// retire moves a job whose attempts were all lost to stalls out of active.
func (q *RedisQueue) retire(ctx context.Context, job *models.Job) error {
	id := job.ID.String()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.ZRem(ctx, q.leaseKey(), id)
		if job.Options.RemoveOnFail {
			pipe.Del(ctx, q.jobKey(id))
			return nil
		}
		pipe.HDel(ctx, q.jobKey(id), "stalls")
		pipe.LPush(ctx, q.failedKey(), id)
		return q.save(ctx, pipe, job)
	})
	if err != nil {
		return fmt.Errorf("retire stalled job: %w", err)
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	keys := []string{q.delayedKey(), q.waitingKey(), q.leaseKey(), q.activeKey()}
	err := promoteScript.Run(ctx, q.client, keys, now, promoteBatch, q.lease.Milliseconds(), q.prefix+"job:").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote delayed jobs: %w", err)
	}
	return nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *models.Job) error {
	id := job.ID.String()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.ZRem(ctx, q.leaseKey(), id)
		if job.Options.RemoveOnComplete {
			pipe.Del(ctx, q.jobKey(id))
			return nil
		}
		done := *job
		done.State = models.StateCompleted
		return q.save(ctx, pipe, &done)
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *models.Job, cause error) (bool, error) {
	id := job.ID.String()
	retry, due := recordFailure(job, cause, q.now())

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.ZRem(ctx, q.leaseKey(), id)
		switch {
		case retry:
			pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due.UnixMilli()), Member: id})
		case job.Options.RemoveOnFail:
			pipe.Del(ctx, q.jobKey(id))
			return nil
		default:
			pipe.LPush(ctx, q.failedKey(), id)
		}
		return q.save(ctx, pipe, job)
	})
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return retry, nil
}

// Failed returns retained jobs, most recently failed first.
func (q *RedisQueue) Failed(ctx context.Context, limit int) ([]*models.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := q.client.LRange(ctx, q.failedKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	out := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *RedisQueue) Retry(ctx context.Context, jobID uuid.UUID) error {
	id := jobID.String()
	job, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	resetForRetry(job)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	keys := []string{q.failedKey(), q.waitingKey(), q.jobKey(id)}
	moved, err := retryScript.Run(ctx, q.client, keys, id, data).Int()
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if moved == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (q *RedisQueue) Counts(ctx context.Context) (models.Counts, error) {
	var waiting, active, delayed, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.waitingKey())
		active = pipe.LLen(ctx, q.activeKey())
		delayed = pipe.ZCard(ctx, q.delayedKey())
		failed = pipe.LLen(ctx, q.failedKey())
		return nil
	})
	if err != nil {
		return models.Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	return models.Counts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*models.Job, error) {
	job, _, err := q.loadClaimed(ctx, id)
	return job, err
}

// loadClaimed returns the job and how many of its leases expired since it
// was last claimed.
func (q *RedisQueue) loadClaimed(ctx context.Context, id string) (*models.Job, int, error) {
	vals, err := q.client.HMGet(ctx, q.jobKey(id), "data", "stalls").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load job %s: %w", id, err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, 0, sentinel.ErrNotFound
	}
	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, 0, fmt.Errorf("decode job %s: %w", id, err)
	}
	stalls := 0
	if raw, ok := vals[1].(string); ok {
		if stalls, err = strconv.Atoi(raw); err != nil {
			return nil, 0, fmt.Errorf("decode stalls of job %s: %w", id, err)
		}
	}
	return &job, stalls, nil
}

func (q *RedisQueue) save(ctx context.Context, c redis.Cmdable, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return c.HSet(ctx, q.jobKey(job.ID.String()), "data", data).Err()
}
