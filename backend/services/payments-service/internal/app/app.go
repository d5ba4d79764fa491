package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "chargepay/backend/libs/db"
	libredis "chargepay/backend/libs/redis"
	"chargepay/backend/libs/resilience"
	"chargepay/backend/services/payments-service/internal/clients/checkout"
	"chargepay/backend/services/payments-service/internal/clients/oracle"
	"chargepay/backend/services/payments-service/internal/config"
	httpserver "chargepay/backend/services/payments-service/internal/http"
	"chargepay/backend/services/payments-service/internal/http/handlers"
	"chargepay/backend/services/payments-service/internal/http/middleware"
	"chargepay/backend/services/payments-service/internal/metrics"
	redisstore "chargepay/backend/services/payments-service/internal/redis"
	"chargepay/backend/services/payments-service/internal/repository"
	"chargepay/backend/services/payments-service/internal/service"
	"chargepay/backend/services/payments-service/internal/ws"
)

const (
	dialTimeout      = 10 * time.Second
	wsWriteTimeout   = 10 * time.Second
	healthTimeout    = 2 * time.Second
	checkoutExecName = "stripe-checkout"
)

// App wires payments-service dependencies.
type App struct {
	server      *httpserver.Server
	db          *sql.DB
	redisClient *redis.Client
	evmClients  map[string]*ethclient.Client
	hub         *ws.Hub
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient, err := libredis.NewRedisClient(libredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	evmClients, err := oracle.DialEVM(dialCtx, cfg.EVMEndpoints())
	if err != nil {
		redisClient.Close()
		sqlDB.Close()
		return nil, err
	}

	a := &App{
		db:          sqlDB,
		redisClient: redisClient,
		evmClients:  evmClients,
		logger:      logger,
	}

	defaultCost, err := cfg.DefaultCost()
	if err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.New()

	sessionRepo := repository.NewSessionRepository(sqlDB)
	checkRepo := repository.NewBalanceCheckRepository(sqlDB)
	linkRepo := repository.NewPaymentLinkRepository(sqlDB)
	eventStore := redisstore.NewEventStore(redisClient, cfg.Redis.WebhookTTL)

	var evmOracle *oracle.EVMOracle
	if len(evmClients) > 0 {
		clients := make(map[string]oracle.EVMClient, len(evmClients))
		for name, c := range evmClients {
			clients[name] = c
		}
		evmOracle = oracle.NewEVMOracle(clients, logger)
	}
	solanaOracle := oracle.NewSolanaOracle(oracle.NewSolanaRPC(cfg.RPC.Solana), logger)
	balances := oracle.NewRouter(evmOracle, solanaOracle)

	providers := service.NewProviders().
		Register(service.ProviderStripe, balances).
		Register(service.ProviderCoinbaseCDP, balances)

	execCfg := resilience.DefaultConfig(checkoutExecName)
	execCfg.MaxRetries = cfg.Stripe.MaxRetries
	execCfg.MinRequests = cfg.Stripe.BreakerMinRequests
	execCfg.FailureRatio = cfg.Stripe.BreakerFailureRatio
	execCfg.Retryable = checkout.Retryable
	execCfg.Logger = logger
	stripeProvider := checkout.NewStripeProvider(checkout.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		Timeout:       cfg.Stripe.Timeout,
	}, resilience.NewExecutor(execCfg), m, logger)

	a.hub = ws.NewHub(m, logger)

	verifier := service.NewBalanceVerifier(providers, checkRepo, cfg.Oracle.Timeout, m, logger)
	linkManager := service.NewPaymentLinkManager(linkRepo, stripeProvider, service.LinkConfig{
		Currency:            cfg.Stripe.Currency,
		CardPaymentsEnabled: cfg.Stripe.EnableCardPayments,
	}, a.hub, m, logger)
	lifecycle := service.NewSessionLifecycle(sessionRepo, verifier, linkManager, service.SessionConfig{
		DefaultCost:       defaultCost,
		LinkExpiryMinutes: cfg.Sessions.LinkExpiryMinutes,
	}, m, logger)
	reconciler := service.NewWebhookReconciler(stripeProvider, linkManager, eventStore, m, logger)

	sessionsHandlers := handlers.NewSessionsHandlers(lifecycle, linkManager, logger)
	paymentsHandlers := handlers.NewPaymentsHandlers(verifier, providers.Keys(), logger)
	wsServer := ws.NewServer(a.hub, lifecycle, linkManager, wsWriteTimeout, cfg.HTTP.AllowedOrigins, logger)

	routes := httpserver.Routes{
		SessionStart:       sessionsHandlers.Start,
		SessionStop:        sessionsHandlers.Stop,
		SessionCancel:      sessionsHandlers.Cancel,
		RecreateLink:       sessionsHandlers.RecreateLink,
		Refund:             sessionsHandlers.Refund,
		GetLink:            sessionsHandlers.GetLink,
		SyncLink:           sessionsHandlers.SyncLink,
		BalanceChecks:      sessionsHandlers.BalanceChecks,
		UserSessions:       sessionsHandlers.UserSessions,
		BalanceCheck:       sessionsHandlers.BalanceCheck,
		RecentBalanceCheck: sessionsHandlers.RecentBalanceCheck,
		SessionEvents:      wsServer.HandleEvents,
		Precheck:           paymentsHandlers.Precheck,
		Providers:          paymentsHandlers.Providers,
		StripeWebhook:      handlers.NewWebhookHandler(reconciler, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"postgres": withTimeout(sqlDB.PingContext),
			"redis": withTimeout(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		}),
		Metrics: m.Handler(),
	}

	var auth func(next http.Handler) http.Handler
	if cfg.JWT.Secret != "" {
		auth = middleware.AuthMiddleware(cfg.JWT.Secret)
	} else {
		logger.Warn("jwt secret not configured, api routes are unauthenticated")
	}

	router := httpserver.NewRouter(routes, auth)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	logger.Info("payments service configured",
		zap.Strings("providers", providers.Keys()),
		zap.Int("evm_networks", len(evmClients)),
		zap.Bool("card_payments", cfg.Stripe.EnableCardPayments),
		zap.Bool("auth", cfg.JWT.Secret != ""),
	)
	return a, nil
}

func withTimeout(check func(ctx context.Context) error) handlers.HealthCheck {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		return check(ctx)
	}
}

// Run starts HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	for name, c := range a.evmClients {
		c.Close()
		a.logger.Debug("closed rpc client", zap.String("network", name))
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
