package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"concierge/internal/audit"
	"concierge/internal/credentials"
	"concierge/internal/notification/dispatcher"
	notificationhandler "concierge/internal/notification/handler"
	orghandler "concierge/internal/organization/handler"
	orgmetrics "concierge/internal/organization/metrics"
	"concierge/internal/organization/service"
	accountstore "concierge/internal/organization/store/account"
	orgstore "concierge/internal/organization/store/organization"
	"concierge/internal/platform/httpserver"
	httpmetrics "concierge/internal/platform/metrics"
	"concierge/internal/platform/middleware"
	"concierge/internal/platform/postgres"
	"concierge/pkg/platform/circuit"
	"concierge/pkg/platform/httputil"
	"concierge/pkg/platform/tx"
)

const auditBuffer = 1024

type ServeCmd struct {
	Addr     string `help:"listen address; overrides CONCIERGE_ADDR" default:""`
	NoWorker bool   `help:"do not run the notification worker in this process"`
	Migrate  bool   `help:"apply the database schema before serving"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if c.Migrate && a.db != nil {
		if err := postgres.Migrate(ctx, a.db); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	auditSink, err := c.auditSink(ctx, a, g)
	if err != nil {
		return err
	}

	orgs, accounts, runner := c.stores(a)
	d := dispatcher.New(a.queue,
		dispatcher.WithLogger(a.logger),
		dispatcher.WithMetrics(a.metrics()),
		dispatcher.WithJobOptions(a.jobOptions()),
		dispatcher.WithAsyncBuffer(a.cfg.Queue.AsyncBuffer),
		dispatcher.WithEnqueueTimeout(a.cfg.Queue.EnqueueTimeout),
	)
	defer d.Close()

	hasher := credentials.NewHasher(a.cfg.Security.BcryptCost)
	publisher := audit.NewPublisher(auditSink)
	svc := service.New(orgs, service.NewProvisioner(runner, orgs, accounts), d,
		service.WithLogger(a.logger),
		service.WithAuditPublisher(publisher),
		service.WithMetrics(orgmetrics.New()),
		service.WithHasher(hasher),
		service.WithPasswordLength(a.cfg.Security.PasswordLength),
	)
	accountSvc := service.NewAccountService(orgs, accounts,
		service.WithAccountLogger(a.logger),
		service.WithAccountAuditPublisher(publisher),
		service.WithAccountHasher(hasher),
	)

	if a.cfg.Server.AdminToken == "" {
		a.logger.WarnContext(ctx, "ADMIN_API_TOKEN not set; admin routes will reject every request")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.LatencyMiddleware(httpmetrics.New()))
	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAdminToken(a.cfg.Server.AdminToken, a.logger))
		orghandler.New(svc, a.logger).Register(r)
		orghandler.NewAccounts(accountSvc, a.logger).Register(r)
		notificationhandler.New(a.queue, a.logger).Register(r)
	})

	addr := a.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}
	srv := httpserver.New(addr, r)
	g.Go(func() error {
		return httpserver.Run(ctx, srv, a.cfg.Server.ShutdownTimeout, a.logger)
	})

	if a.cfg.Server.EmbeddedWorker && !c.NoWorker {
		w, err := a.newWorker()
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}

func (c *ServeCmd) stores(a *app) (service.OrganizationStore, service.AccountStore, tx.Runner) {
	if a.db == nil {
		runner := tx.NewInMemory()
		return orgstore.NewInMemory(orgstore.WithGuard(runner)),
			accountstore.NewInMemory(accountstore.WithGuard(runner)),
			runner
	}
	return orgstore.NewPostgres(a.db),
		accountstore.NewPostgres(a.db),
		tx.NewSQL(a.db, tx.WithTimeout(a.cfg.Database.TxTimeout))
}

// auditSink publishes to Kafka through a buffering worker when brokers are
// configured, and to the log otherwise. A Kafka outage diverts events to the
// log until the circuit closes.
func (c *ServeCmd) auditSink(ctx context.Context, a *app, g *errgroup.Group) (audit.Sink, error) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return audit.NewLogPublisher(a.logger), nil
	}
	kp, err := audit.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.AuditTopic)
	if err != nil {
		return nil, err
	}
	if err := kp.EnsureTopic(ctx, a.cfg.Kafka.Partitions, a.cfg.Kafka.Replicas); err != nil {
		kp.Close()
		return nil, err
	}
	sink := audit.NewFallbackSink(kp, audit.NewLogPublisher(a.logger),
		circuit.New("kafka-audit", circuit.WithCooldown(30*time.Second)),
		a.logger,
	)
	w := audit.NewWorker(sink, auditBuffer, a.logger)
	g.Go(func() error {
		defer kp.Close()
		_ = w.Run(ctx)
		return nil
	})
	return w, nil
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			status["database"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			status["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	httputil.WriteJSON(w, code, status)
}
