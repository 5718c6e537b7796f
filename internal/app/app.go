// Package app wires configuration, persistence, telemetry, sessions and the web
// router into the storefront server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/db/migrate"
	"storefront/internal/guard"
	"storefront/internal/session"
	"storefront/internal/telemetry"
	"storefront/internal/telemetry/loki"
	otelsetup "storefront/internal/telemetry/otel"
	"storefront/internal/telemetry/producer"
	"storefront/internal/tokenstore"
	"storefront/internal/web"
)

const (
	sweepInterval       = time.Minute
	readHeaderTimeout   = 10 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

// Application owns every long-lived dependency of the server.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	providers *otelsetup.Providers
	kafka     *producer.KafkaProducer
	events    telemetry.EventEmitter

	db        *sql.DB
	memTokens *tokenstore.MemoryBackend
	sqlTokens *tokenstore.SQLBackend

	policy    *guard.RegoPolicy
	registry  *session.Registry
	templates *web.Templates
	handler   http.Handler
	server    *http.Server
}

// New builds the Application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Application{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	if err := a.initTelemetry(ctx); err != nil {
		return err
	}
	tokens, err := a.initTokens(ctx)
	if err != nil {
		return err
	}
	a.policy, err = guard.LoadRegoPolicy(ctx, a.cfg.AdminPolicyFile)
	if err != nil {
		return fmt.Errorf("admin policy: %w", err)
	}
	a.templates, err = web.NewTemplates(a.cfg.TemplateDir, a.logger.Named("templates"))
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}

	a.registry = session.NewRegistry(session.ClientFactory(session.ClientConfig{
		BaseURL:     a.cfg.APIBaseURL,
		BackendURL:  a.cfg.BackendURL,
		Timeout:     a.cfg.Timeout(),
		Tokens:      tokens,
		Events:      a.events,
		Logger:      a.logger.Named("session"),
		OTPSendRate: a.cfg.OTPSendRate,
	}), a.cfg.IdleTTL(), a.logger.Named("registry"))

	checks := []web.HealthCheck{{Name: "policy", Check: a.policy.HealthCheck}}
	if a.db != nil {
		checks = append(checks, web.HealthCheck{Name: "database", Check: a.db.PingContext})
	}
	a.handler = web.NewRouter(web.Config{
		Registry:     a.registry,
		Templates:    a.templates,
		Logger:       a.logger.Named("http"),
		AdminPolicy:  a.policy,
		Events:       a.events,
		CookieSecure: a.cfg.CookieSecure,
		VisitorTTL:   a.cfg.IdleTTL(),
		Checks:       checks,
	})
	a.server = &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// initTelemetry sets up OTel and the auth event fan-out: OTel logs always, Kafka when
// brokers are configured, and a direct Loki push only when Kafka is off (otherwise
// cmd/worker ships the Kafka stream to Loki).
func (a *Application) initTelemetry(ctx context.Context) error {
	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    a.cfg.OTLPEndpoint,
		ServiceName: otelsetup.ServiceName,
		Insecure:    a.cfg.OTLPInsecure,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	a.providers = providers

	fanout := telemetry.Fanout{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if k := producer.NewKafkaProducer(a.cfg.KafkaBrokersList(), a.cfg.AuthEventsTopic, a.logger); k != nil {
		a.kafka = k
		fanout = append(fanout, k)
	} else if a.cfg.LokiURL != "" {
		lc, err := loki.New(a.cfg.LokiURL)
		if err != nil {
			return fmt.Errorf("loki: %w", err)
		}
		fanout = append(fanout, lc)
	}
	a.events = fanout
	return nil
}

// initTokens opens the durable token store when DATABASE_URL is set, applying
// migrations first; otherwise tokens live in memory.
func (a *Application) initTokens(ctx context.Context) (tokenstore.Backend, error) {
	if a.cfg.DatabaseURL == "" {
		a.memTokens = tokenstore.NewMemoryBackend(a.cfg.IdleTTL())
		a.logger.Info("token store: memory")
		return a.memTokens, nil
	}
	if err := migrate.Run(a.cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	conn, dialect, err := db.Open(a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.db = conn
	a.sqlTokens = tokenstore.NewSQLBackend(conn, dialect, a.logger)
	a.logger.Info("token store: sql", zap.String("dialect", string(dialect)))
	return a.sqlTokens, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *Application) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs background jobs until ctx is done or the server fails,
// then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	bg, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.janitor(bg)
	if dir := a.cfg.TemplateDir; dir != "" {
		if err := a.templates.Watch(bg, dir); err != nil {
			a.logger.Warn("template watcher disabled", zap.String("dir", dir), zap.Error(err))
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("storefront listening", zap.String("addr", a.cfg.HTTPAddr))
		serverErr <- a.server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.close(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	}
	return a.Shutdown()
}

// Shutdown stops the HTTP server, closes sessions, drains telemetry and closes the database.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	var err error
	if a.server != nil {
		if serr := a.server.Shutdown(ctx); serr != nil {
			a.logger.Error("graceful server shutdown failed", zap.Error(serr))
			_ = a.server.Close()
			err = serr
		}
	}
	a.close(ctx)
	a.logger.Info("storefront stopped")
	return err
}

// close releases dependencies in reverse order of init. Safe on a partly built Application.
func (a *Application) close(ctx context.Context) {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.exportsEvents() {
		// Let in-flight async emits finish.
		select {
		case <-time.After(telemetry.ShutdownDrainDuration):
		case <-ctx.Done():
		}
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.providers != nil {
		if err := a.providers.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown otel providers", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}

func (a *Application) exportsEvents() bool {
	return a.cfg.OTLPEndpoint != "" || a.kafka != nil || a.cfg.LokiURL != ""
}

// janitor evicts idle sessions and expired tokens.
func (a *Application) janitor(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.sweep(ctx)
		}
	}
}

func (a *Application) sweep(ctx context.Context) {
	a.registry.Sweep()
	if a.memTokens != nil {
		a.memTokens.Sweep()
	}
	if a.sqlTokens != nil {
		if _, err := a.sqlTokens.Purge(ctx, time.Now().Add(-a.cfg.IdleTTL())); err != nil {
			a.logger.Warn("purge tokens", zap.Error(err))
		}
	}
}
