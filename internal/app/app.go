// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsdeck/incident-commander/internal/auth"
	"github.com/opsdeck/incident-commander/internal/config"
	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/escalation"
	"github.com/opsdeck/incident-commander/internal/incidents"
	incidentsmemory "github.com/opsdeck/incident-commander/internal/incidents/memory"
	incidentspostgres "github.com/opsdeck/incident-commander/internal/incidents/postgres"
	"github.com/opsdeck/incident-commander/internal/notify"
	"github.com/opsdeck/incident-commander/internal/notify/email"
	"github.com/opsdeck/incident-commander/internal/notify/slack"
	"github.com/opsdeck/incident-commander/internal/notify/twilio"
	"github.com/opsdeck/incident-commander/internal/oncall"
	oncallmemory "github.com/opsdeck/incident-commander/internal/oncall/memory"
	oncallpostgres "github.com/opsdeck/incident-commander/internal/oncall/postgres"
	"github.com/opsdeck/incident-commander/internal/pkg/ctxlog"
	"github.com/opsdeck/incident-commander/internal/pkg/httputil"
	"github.com/opsdeck/incident-commander/internal/pkg/metrics"
	"github.com/opsdeck/incident-commander/internal/pkg/postgres"
	"github.com/opsdeck/incident-commander/internal/postmortem"
	"github.com/opsdeck/incident-commander/internal/version"
)

// App represents the application instance. All engine components hang off
// the instance; there is no package-level engine state.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool // nil for the memory backend
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	escalations  *escalation.Scheduler
	postmortems  *postmortem.Scheduler
	workerCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	clock := clockwork.NewRealClock()

	app := &App{
		config: cfg,
		logger: logger,
	}

	var incidentRepo incidents.Repository
	var rotationRepo oncall.Repository

	switch cfg.Storage.Backend {
	case "postgres":
		if cfg.Database.Migrate {
			if err := postgres.Migrate(cfg.Database.URL); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		app.db = db
		incidentRepo = incidentspostgres.NewRepository(db)
		rotationRepo = oncallpostgres.NewRepository(db)
	default:
		logger.Info("using in-memory storage, state is lost on restart")
		incidentRepo = incidentsmemory.NewRepository()
		rotationRepo = oncallmemory.NewRepository()
	}

	oncallService := oncall.NewService(rotationRepo, clock)

	notifier, err := buildNotifier(cfg.Notifications, oncallService)
	if err != nil {
		app.closeDB()
		return nil, err
	}

	app.escalations = escalation.NewScheduler(escalation.Config{
		SweepInterval: cfg.Escalation.SweepInterval,
	}, oncallService, clock)

	app.postmortems = postmortem.NewScheduler(postmortem.Config{
		Delay: cfg.Postmortem.Delay,
	}, incidentRepo, notifier, clock)

	incidentService := incidents.NewService(
		incidentRepo,
		oncallService,
		app.escalations,
		app.postmortems,
		notifier,
		clock,
	)
	app.escalations.Bind(incidentService, incidentService)

	authenticator, err := auth.NewAuthenticator(authConfig(cfg.Auth))
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel
	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	app.workerCancel = workerCancel
	app.escalations.Run(workerCtx)

	router := app.setupRouter(incidentService, oncallService, authenticator)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()
	a.workerCancel()

	// Stop schedulers before the servers so no timer fires into a
	// half-closed stack.
	a.escalations.Stop()
	a.postmortems.Stop()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeDB()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) closeDB() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter(
	incidentService *incidents.Service,
	oncallService *oncall.Service,
	authenticator *auth.Authenticator,
) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	incidentsHandler := incidents.NewHandler(incidentService)
	oncallHandler := oncall.NewHandler(oncallService)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(authenticator))

		incidentsHandler.RegisterReadRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleOperator))
			incidentsHandler.RegisterOperatorRoutes(r)
			oncallHandler.RegisterOperatorRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			oncallHandler.RegisterRoutes(r)
		})
	})

	return r
}

// buildNotifier assembles the dispatcher from the configured channel
// senders. Disabled notifications yield a notifier with a nil dispatcher,
// which logs and skips.
func buildNotifier(cfg config.NotificationsConfig, rotations notify.RotationSource) (*notify.Notifier, error) {
	if !cfg.Enabled {
		slog.Warn("notifications disabled: incident transitions will not be announced")
		return notify.NewNotifier(nil, rotations), nil
	}

	emailSender, err := email.NewSender(email.Config{
		Enabled:      cfg.Email.Enabled,
		SMTPHost:     cfg.Email.SMTPHost,
		SMTPPort:     cfg.Email.SMTPPort,
		SMTPUser:     cfg.Email.SMTPUser,
		SMTPPassword: cfg.Email.SMTPPassword,
		FromAddress:  cfg.Email.FromAddress,
		Timeout:      cfg.Email.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}

	// Slack is always available (webhook URL is the recipient address)
	slackSender := slack.NewSender(slack.Config{
		Username: cfg.Slack.Username,
		IconURL:  cfg.Slack.IconURL,
		Timeout:  cfg.Slack.Timeout,
	})

	twilioClient, err := twilio.NewClient(twilio.Config{
		Enabled:    cfg.Twilio.Enabled,
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
		RateLimit:  cfg.Twilio.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create twilio client: %w", err)
	}

	dispatcher := notify.NewDispatcher(emailSender, slackSender, twilioClient.SMS(), twilioClient.Voice())
	return notify.NewNotifier(dispatcher, rotations), nil
}

func authConfig(cfg config.AuthConfig) auth.Config {
	keys := make([]auth.APIKey, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		role := domain.Role(k.Role)
		if !role.IsValid() {
			role = domain.RoleViewer
		}
		keys = append(keys, auth.APIKey{Name: k.Name, Hash: k.Hash, Role: role})
	}
	return auth.Config{
		SecretKey:     cfg.SecretKey,
		TokenDuration: cfg.TokenDuration,
		APIKeys:       keys,
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
