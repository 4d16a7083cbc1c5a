package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	strutil "concierge/pkg/platform/strings"
)

// Config is the full process configuration, read from the environment.
type Config struct {
	Server   Server
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Mail     MailConfig
	Queue    QueueConfig
	Kafka    KafkaConfig
	Security SecurityConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"CONCIERGE_ADDR" envDefault:":3000"`
	AdminToken      string        `env:"ADMIN_API_TOKEN"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	EmbeddedWorker  bool          `env:"EMBEDDED_WORKER" envDefault:"true"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// DatabaseConfig configures the PostgreSQL pool. An empty URL selects the
// in-memory stores, which is only meant for local development.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"1h"`
	TxTimeout       time.Duration `env:"DATABASE_TX_TIMEOUT" envDefault:"5s"`
}

// RedisConfig configures the queue backend. An empty URL selects the
// in-memory queue.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// MailConfig configures the SMTP transport. An empty host selects the
// logging transport.
type MailConfig struct {
	Host string `env:"MAIL_HOST"`
	Port int    `env:"MAIL_PORT" envDefault:"587"`
	User string `env:"MAIL_USER"`
	Pass string `env:"MAIL_PASS"`
	From string `env:"MAIL_FROM" envDefault:"no-reply@concierge.local"`
}

// QueueConfig configures the notification queue and its workers.
// LeaseDuration bounds how long a claimed job may stay active before it is
// treated as stalled and handed to another worker.
type QueueConfig struct {
	Name           string        `env:"QUEUE_NAME" envDefault:"email-queue"`
	Attempts       int           `env:"QUEUE_ATTEMPTS" envDefault:"3"`
	BackoffDelay   time.Duration `env:"QUEUE_BACKOFF_DELAY" envDefault:"5s"`
	LeaseDuration  time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"2m"`
	Concurrency    int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	PollTimeout    time.Duration `env:"WORKER_POLL_TIMEOUT" envDefault:"5s"`
	SendTimeout    time.Duration `env:"WORKER_SEND_TIMEOUT" envDefault:"30s"`
	AsyncBuffer    int           `env:"DISPATCH_ASYNC_BUFFER" envDefault:"0"`
	EnqueueTimeout time.Duration `env:"DISPATCH_ENQUEUE_TIMEOUT" envDefault:"5s"`
}

// KafkaConfig configures the audit publisher. No brokers selects the
// logging publisher.
type KafkaConfig struct {
	Brokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"concierge.audit"`
	Partitions int32    `env:"KAFKA_AUDIT_PARTITIONS" envDefault:"3"`
	Replicas   int16    `env:"KAFKA_AUDIT_REPLICAS" envDefault:"1"`
}

// SecurityConfig holds credential settings.
type SecurityConfig struct {
	BcryptCost     int `env:"BCRYPT_COST" envDefault:"10"`
	PasswordLength int `env:"TEMP_PASSWORD_LENGTH" envDefault:"12"`
}

// Load reads an optional .env file and parses the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Kafka.Brokers = strutil.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("QUEUE_ATTEMPTS must be at least 1")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.Queue.LeaseDuration <= c.Queue.SendTimeout {
		return fmt.Errorf("QUEUE_LEASE_DURATION must exceed WORKER_SEND_TIMEOUT")
	}
	if c.Security.PasswordLength < 8 {
		return fmt.Errorf("TEMP_PASSWORD_LENGTH must be at least 8")
	}
	return nil
}
