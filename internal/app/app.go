package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"sheetledger/internal/config"
	"sheetledger/internal/credentials"
	"sheetledger/internal/gateway"
	"sheetledger/internal/infrastructure"
	"sheetledger/internal/ledger"
	"sheetledger/internal/middleware"
	"sheetledger/internal/operations"
	"sheetledger/internal/queue"
	"sheetledger/internal/ranking"
	"sheetledger/internal/scheduler"
	"sheetledger/internal/security"
	"sheetledger/internal/store"
	transport "sheetledger/internal/transport/http"
	"sheetledger/internal/websocket"
)

// Names of the two dispatchers
const (
	MainDispatcher = "main"
	RPCDispatcher  = "rpc"
)

// GoogleClient is the gateway surface the worker needs
type GoogleClient interface {
	gateway.Authorizer
	gateway.Connector
}

// Option customizes New
type Option func(*options)

type options struct {
	google GoogleClient
	logger *slog.Logger
}

// WithGoogle replaces the Google gateway
func WithGoogle(g GoogleClient) Option {
	return func(o *options) { o.google = g }
}

// WithLogger replaces the logger built from configuration
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Application is the assembled worker
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.WorkerMetrics

	DB          *store.DB
	Credentials *credentials.Manager
	Ledger      *ledger.Engine
	Ranking     *ranking.Engine
	Enqueuer    *operations.Enqueuer
	Hub         *websocket.Hub
	Scheduler   *scheduler.Periodic
	Router      http.Handler
	Server      *http.Server

	publisher   queue.Publisher
	sources     map[string]queue.Source
	dispatchers map[string]*operations.Dispatcher
	closers     []func() error

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	serveCh chan error
}

// New builds the application from cfg. Nothing is started yet.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	logger.Info("ledger worker starting",
		slog.String("version", infrastructure.ServiceVersion),
		slog.String("queue_driver", cfg.Queue.Driver),
		slog.String("store_driver", cfg.Store.Driver))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		sources:       make(map[string]queue.Source),
		dispatchers:   make(map[string]*operations.Dispatcher),
	}

	if err := a.initialize(ctx, o); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *Application) initialize(ctx context.Context, o options) error {
	cfg := a.Config

	metrics, err := infrastructure.NewWorkerMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	a.Metrics = metrics

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	cipher, err := security.NewTokenCipher(cfg.Store.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("failed to create token cipher: %w", err)
	}
	creds := store.NewCredentialRepository(db, cipher)

	states, err := a.stateStore(ctx)
	if err != nil {
		return err
	}

	google := o.google
	if google == nil {
		g, err := gateway.NewGoogle(cfg.Google, metrics, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create google gateway: %w", err)
		}
		google = g
	}

	a.Credentials = credentials.NewManager(google, creds, states,
		credentials.WithMetrics(metrics),
		credentials.WithLogger(a.Logger))

	ledgerOpts := []ledger.Option{ledger.WithLogger(a.Logger)}
	if cfg.Google.ServiceAccountEmail != "" {
		ledgerOpts = append(ledgerOpts, ledger.WithShareWith(cfg.Google.ServiceAccountEmail))
	}
	a.Ledger = ledger.NewEngine(store.NewApplicationDirectory(db), ledgerOpts...)

	a.Ranking = ranking.NewEngine(google,
		ranking.WithTopN(cfg.Ranking.TopN),
		ranking.WithMetrics(metrics),
		ranking.WithLogger(a.Logger))

	if err := a.connectQueue(); err != nil {
		return err
	}

	a.Hub = websocket.NewHub(a.Logger)

	handlers := operations.NewHandlers(a.Credentials, google, a.Ledger, a.Ranking, a.Logger)
	common := []operations.Option{
		operations.WithStatusSink(a.Hub),
		operations.WithMetrics(metrics),
		operations.WithLogger(a.Logger),
	}
	a.dispatchers[MainDispatcher] = operations.NewDispatcher(MainDispatcher, handlers, common...)
	if _, ok := a.sources[RPCDispatcher]; ok {
		a.dispatchers[RPCDispatcher] = operations.NewDispatcher(RPCDispatcher, handlers,
			append(common, operations.WithReplier(a.publisher))...)
	}

	a.Enqueuer = operations.NewEnqueuer(a.publisher, cfg.Queue.OperationsTopic)

	if cfg.Ranking.Enabled {
		a.Scheduler = scheduler.NewPeriodic(cfg.Ranking.Interval, a.Ranking.Refresh, a.Logger)
	}

	return a.setupRouter()
}

// stateStore keeps pending handshakes in redis when configured
func (a *Application) stateStore(ctx context.Context) (credentials.StateStore, error) {
	if a.Config.Redis.URL == "" {
		a.Logger.Info("authorization state kept in memory")
		return credentials.NewMemoryStateStore(), nil
	}
	client, err := credentials.ConnectRedis(ctx, a.Config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return credentials.NewRedisStateStore(client, a.Config.Redis.KeyPrefix), nil
}

func (a *Application) connectQueue() error {
	qc := a.Config.Queue

	switch strings.ToLower(qc.Driver) {
	case "kafka":
		pub, err := queue.NewKafkaPublisher(qc.Brokers)
		if err != nil {
			return fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)

		ops, err := queue.NewKafkaSource(qc.Brokers, qc.GroupID, qc.OperationsTopic)
		if err != nil {
			return fmt.Errorf("failed to create kafka source: %w", err)
		}
		a.sources[MainDispatcher] = ops
		a.closers = append(a.closers, ops.Close)

		if qc.RPCTopic != "" {
			rpc, err := queue.NewKafkaSource(qc.Brokers, qc.GroupID, qc.RPCTopic)
			if err != nil {
				return fmt.Errorf("failed to create kafka rpc source: %w", err)
			}
			a.sources[RPCDispatcher] = rpc
			a.closers = append(a.closers, rpc.Close)
		}
	default:
		mem := queue.NewMemory(qc.MemoryBuffer)
		a.publisher = mem
		a.closers = append(a.closers, mem.Close)
		a.sources[MainDispatcher] = mem.Source(qc.OperationsTopic)
		if qc.RPCTopic != "" {
			a.sources[RPCDispatcher] = mem.Source(qc.RPCTopic)
		}
	}
	return nil
}

func (a *Application) setupRouter() error {
	cfg := a.Config

	auth, err := middleware.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	a.Router = transport.NewRouter(transport.Dependencies{
		Auth:          a.Credentials,
		Queue:         a.Enqueuer,
		Ranking:       a.Ranking,
		Hub:           a.Hub,
		Authenticator: auth,
		Metrics:       a.Metrics,
		MetricsHTTP:   a.OTelProviders.PrometheusHTTP,
		Checks: map[string]transport.HealthCheck{
			"store": a.pingStore,
		},
		RateLimit: cfg.Security.RateLimit,
		Logger:    a.Logger,
	})

	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return nil
}

func (a *Application) pingStore(ctx context.Context) error {
	sqlDB, err := a.DB.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Dispatcher returns the named dispatcher, if configured
func (a *Application) Dispatcher(name string) (*operations.Dispatcher, bool) {
	d, ok := a.dispatchers[name]
	return d, ok
}

// Publisher returns the queue publisher
func (a *Application) Publisher() queue.Publisher { return a.publisher }

// Start launches the hub, the dispatchers, the scheduler and the HTTP server
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("application already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Hub.Start()

	g, gctx := errgroup.WithContext(runCtx)
	for name, d := range a.dispatchers {
		src := a.sources[name]
		g.Go(func() error { return d.Run(gctx, src) })
	}
	a.group = g

	if a.Scheduler != nil {
		a.Scheduler.Start(runCtx)
	}

	a.serveCh = make(chan error, 1)
	go func() {
		err := a.Server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			a.Logger.Error("server error", slog.String("error", err.Error()))
		}
		a.serveCh <- err
	}()

	a.Logger.InfoContext(ctx, "ledger worker started",
		slog.Int("port", a.Config.Server.Port),
		slog.Int("dispatchers", len(a.dispatchers)),
		slog.Bool("ranking_scheduler", a.Scheduler != nil))
	return nil
}

// Stop shuts everything down in reverse start order
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, group := a.cancel, a.group
	a.cancel, a.group = nil, nil
	a.mu.Unlock()

	a.Logger.InfoContext(ctx, "shutting down ledger worker")

	shutdownCtx, done := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer done()

	var errs []error
	if cancel != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if a.Scheduler != nil {
			a.Scheduler.Stop()
		}
		cancel()
		if err := group.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("dispatchers: %w", err))
		}
		a.Hub.Stop()
	}

	errs = append(errs, a.closeAll()...)

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}

	a.Logger.InfoContext(ctx, "ledger worker stopped")
	return errors.Join(errs...)
}

// closeAll releases resources in reverse acquisition order
func (a *Application) closeAll() []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errs
}

// Run starts the application and blocks until SIGINT, SIGTERM, ctx
// cancellation or a server failure.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case serveErr = <-a.serveCh:
	}

	return errors.Join(serveErr, a.Stop(context.WithoutCancel(ctx)))
}
