// Package bootstrap wires all dependencies and starts the application:
// stores, services with their hook pipelines, the connection registry and
// publisher, and the HTTP server carrying both transports.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/plume/adapters/auth"
	"github.com/artpar/plume/adapters/clock"
	"github.com/artpar/plume/adapters/hasher"
	resthttp "github.com/artpar/plume/adapters/http"
	"github.com/artpar/plume/adapters/idgen"
	"github.com/artpar/plume/adapters/metrics"
	"github.com/artpar/plume/adapters/socket"
	"github.com/artpar/plume/adapters/storage/memory"
	"github.com/artpar/plume/adapters/storage/sqlite"
	"github.com/artpar/plume/config"
	"github.com/artpar/plume/core/realtime"
	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/ports"
	"github.com/artpar/plume/services/authentication"
	"github.com/artpar/plume/services/messages"
	"github.com/artpar/plume/services/users"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Holder     *config.Holder
	DB         *sql.DB
	Services   *service.App
	Registry   *realtime.Registry
	Publisher  *realtime.Publisher
	Metrics    *metrics.Collector
	Tokens     *auth.TokenService
	HTTPServer *http.Server
}

// New initializes the application from the config file at path. An empty
// or missing path falls back to environment variables and defaults.
func New(path string) (*App, error) {
	var (
		cfg    *config.Config
		holder *config.Holder
	)

	logger := setupLogger(config.Default())

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			h, err := config.NewHolder(path, logger)
			if err != nil {
				return nil, err
			}
			holder = h
			cfg = h.Get()
		}
	}
	if cfg == nil {
		cfg = config.Default()
	}

	logger = setupLogger(cfg)

	a := &App{
		Logger: logger,
		Config: cfg,
		Holder: holder,
	}

	if err := a.init(); err != nil {
		return nil, err
	}

	if holder != nil {
		holder.OnChange(func(c *config.Config) {
			if level, err := zerolog.ParseLevel(c.Logging.Level); err == nil {
				zerolog.SetGlobalLevel(level)
			}
		})
	}

	return a, nil
}

func (a *App) init() error {
	cfg := a.Config

	ids := idgen.UUID{}
	clk := clock.Real{}
	h := hasher.NewBcrypt(0)

	promReg := prometheus.NewRegistry()
	a.Metrics = metrics.New(promReg)

	userStore, messageStore, err := a.openStores(ids)
	if err != nil {
		return err
	}

	a.Services = service.NewApp(service.Config{IDs: ids, Logger: a.Logger})
	a.Registry = realtime.NewRegistry(ids, a.Logger)
	a.Publisher = realtime.NewPublisher(a.Registry, a.Logger)
	a.Tokens = auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenExpiry)

	// New connections see everything until a resolver says otherwise.
	a.Registry.OnConnect(func(c *realtime.Connection) {
		a.Registry.Join(realtime.Everybody, c)
	})

	userSvc := a.Services.Use(users.Path, userStore).Hooks(users.Hooks(h))
	a.Services.Use(messages.Path, messageStore).Hooks(messages.Hooks(userSvc, clk))
	a.Services.Use(authentication.Path, authentication.Storage{}).
		Hooks(authentication.Hooks(userSvc, a.Tokens, h, a.Registry))

	// Events never carry password hashes or raw embedded users, and
	// login results stay between the caller and the service.
	a.Publisher.Serialize(users.Path, users.Serializer())
	a.Publisher.Serialize(messages.Path, messages.Serializer())
	a.Publisher.Resolve(authentication.Path, authentication.Resolver())
	a.Publisher.SetObserver(a.Metrics)

	a.Services.SetPublisher(a.Publisher)
	a.Services.SetObserver(a.Metrics)

	if err := a.seed(context.Background()); err != nil {
		a.Logger.Warn().Err(err).Msg("seed failed")
	}

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.router(promReg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return nil
}

func (a *App) openStores(ids ports.IDGenerator) (ports.Storage, ports.Storage, error) {
	switch a.Config.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(a.Config.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		a.DB = db

		userStore, err := sqlite.New(db, "users", "email")
		if err != nil {
			return nil, nil, fmt.Errorf("users table: %w", err)
		}
		messageStore, err := sqlite.New(db, "messages")
		if err != nil {
			return nil, nil, fmt.Errorf("messages table: %w", err)
		}
		a.Logger.Info().Str("dsn", a.Config.Database.DSN).Msg("sqlite storage ready")
		return userStore, messageStore, nil

	default:
		a.Logger.Info().Msg("using in-memory storage")
		return memory.New(ids, "email"), memory.New(ids), nil
	}
}

// router assembles the full HTTP surface: REST services at the root,
// the socket transport at /ws, plus metrics and health.
func (a *App) router(gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	rest := resthttp.NewHandler(a.Services, a.Tokens, a.Logger)
	ws := socket.NewServer(a.Services, a.Registry, a.Metrics, a.Logger)

	r.Handle("/ws", ws)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if a.Config.Metrics.Enabled {
		r.Handle(a.Config.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Mount("/", rest.Router())

	return r
}

// seed creates the greeting message on an empty store so a fresh install
// has something to show.
func (a *App) seed(ctx context.Context) error {
	msgSvc, err := a.Services.Service(messages.Path)
	if err != nil {
		return err
	}

	result, err := msgSvc.Find(ctx, service.Params{Query: ports.Query{Limit: 1}})
	if err != nil {
		return err
	}
	if page, ok := result.(service.Page); ok && page.Total > 0 {
		return nil
	}

	userSvc, err := a.Services.Service(users.Path)
	if err != nil {
		return err
	}
	sys, err := userSvc.Create(ctx, ports.Record{
		"email":    "hello@plume.local",
		"password": "unused-seed-password",
	}, service.Params{})
	if err != nil {
		return err
	}

	_, err = msgSvc.Create(ctx, ports.Record{"text": "Welcome to plume!"}, service.Params{
		Identity: sys,
	})
	return err
}

// Run starts the server and blocks until interrupted or failed.
func (a *App) Run() error {
	if a.Holder != nil {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config watch unavailable")
		}
		a.Holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Str("driver", a.Config.Database.Driver).
			Msg("starting server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Holder != nil {
		a.Holder.Stop()
	}
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("server shutdown")
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close")
		}
	}

	a.Logger.Info().Msg("stopped")
	return nil
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
