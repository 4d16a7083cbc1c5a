// Package commands implements the concierge subcommands and the wiring they
// share.
package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"concierge/internal/notification/mail"
	notificationmetrics "concierge/internal/notification/metrics"
	notification "concierge/internal/notification/models"
	"concierge/internal/notification/queue"
	"concierge/internal/notification/templates"
	"concierge/internal/notification/worker"
	"concierge/internal/platform/config"
	"concierge/internal/platform/logger"
	"concierge/internal/platform/postgres"
	platformredis "concierge/internal/platform/redis"
)

type Globals struct {
	EnvFiles []string
	Version  string
}

// app holds the process-wide resources every command may need.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB
	redis  *platformredis.Client
	queue  queue.Queue

	notificationMetrics *notificationmetrics.Metrics
}

func bootstrap(ctx context.Context, globals *Globals) (*app, error) {
	cfg, err := config.Load(globals.EnvFiles...)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger.New(cfg.Log)}
	a.logger.InfoContext(ctx, "starting concierge", "version", globals.Version)

	if cfg.Database.URL != "" {
		if a.db, err = postgres.Open(ctx, cfg.Database); err != nil {
			a.close()
			return nil, err
		}
	} else {
		a.logger.WarnContext(ctx, "DATABASE_URL not set; using in-memory stores")
	}

	if a.redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
		a.close()
		return nil, err
	}
	if a.redis != nil {
		a.queue = queue.NewRedis(a.redis.Client, cfg.Queue.Name, queue.WithRedisLease(cfg.Queue.LeaseDuration))
	} else {
		a.logger.WarnContext(ctx, "REDIS_URL not set; using in-process notification queue")
		a.queue = queue.NewMemory(queue.WithLease(cfg.Queue.LeaseDuration))
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) metrics() *notificationmetrics.Metrics {
	if a.notificationMetrics == nil {
		a.notificationMetrics = notificationmetrics.New()
	}
	return a.notificationMetrics
}

func (a *app) jobOptions() notification.Options {
	opts := notification.DefaultOptions()
	opts.Attempts = a.cfg.Queue.Attempts
	opts.Backoff.Delay = a.cfg.Queue.BackoffDelay
	return opts
}

func (a *app) newWorker() (*worker.Worker, error) {
	renderer, err := templates.New(templates.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	var transport mail.Transport
	if a.cfg.Mail.Host != "" {
		transport = mail.NewSMTP(a.cfg.Mail)
	} else {
		a.logger.Warn("MAIL_HOST not set; welcome mail is logged instead of sent")
		transport = mail.NewLogTransport(a.logger)
	}

	return worker.New(a.queue, renderer, transport, a.cfg.Mail.From,
		worker.WithLogger(a.logger),
		worker.WithMetrics(a.metrics()),
		worker.WithConcurrency(a.cfg.Queue.Concurrency),
		worker.WithPollTimeout(a.cfg.Queue.PollTimeout),
		worker.WithSendTimeout(a.cfg.Queue.SendTimeout),
	), nil
}
