package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iho/goescrow/internal/adapter/collaborator"
	httpAdapter "github.com/iho/goescrow/internal/adapter/http"
	"github.com/iho/goescrow/internal/adapter/http/handler"
	"github.com/iho/goescrow/internal/adapter/http/middleware"
	postgresRepo "github.com/iho/goescrow/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/goescrow/internal/adapter/repository/redis"
	"github.com/iho/goescrow/internal/adapter/ws"
	"github.com/iho/goescrow/internal/infrastructure/auth"
	"github.com/iho/goescrow/internal/infrastructure/config"
	"github.com/iho/goescrow/internal/infrastructure/eventpublisher"
	"github.com/iho/goescrow/internal/infrastructure/logger"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
	"github.com/iho/goescrow/internal/infrastructure/postgres"
	"github.com/iho/goescrow/internal/infrastructure/redis"
	"github.com/iho/goescrow/internal/usecase"
)

const (
	outboxStreamMaxLen   = 100_000
	outboxRetention      = 7 * 24 * time.Hour
	limiterCleanupPeriod = 5 * time.Minute
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logger
	zerolog.TimeFieldFormat = time.RFC3339Nano
	root := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = root

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, root); err != nil {
		root.Fatal().Err(err).Msg("server failed")
	}
	root.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, root zerolog.Logger) error {
	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, root).Up(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// Connect to PostgreSQL
	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:      cfg.DatabaseURL,
		MaxConns:         cfg.DatabaseMaxConns,
		MinConns:         cfg.DatabaseMinConns,
		StatementTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	root.Info().Msg("connected to postgres")

	// Connect to Redis
	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		root.Info().Msg("connected to redis")
	} else {
		root.Warn().Msg("REDIS_URL is empty: idempotency, profile cache and cross-instance fan-out are disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	fees, err := cfg.Fees()
	if err != nil {
		return err
	}

	// Initialize repositories
	txManager := postgresRepo.NewTxManager(pool)
	retrier := postgresRepo.NewRetrier(root, m)
	accountRepo := postgresRepo.NewAccountRepository(pool)
	holdRepo := postgresRepo.NewHoldRepository(pool)
	postingRepo := postgresRepo.NewPostingRepository(pool)
	ledgerRepo := postgresRepo.NewLedgerRepository(pool)
	transactionRepo := postgresRepo.NewTransactionRepository(pool)
	messageRepo := postgresRepo.NewMessageRepository(pool)
	depositRepo := postgresRepo.NewDepositRepository(pool)
	outboxRepo := postgresRepo.NewOutboxRepository(pool)
	auditRepo := postgresRepo.NewAuditRepository(pool)
	idGen := postgresRepo.NewULIDGenerator()

	var (
		idempotencyStore usecase.IdempotencyStore
		cache            usecase.Cache
		broker           *redisRepo.RoomBroker
	)
	if redisClient != nil {
		idempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
		cache = redisRepo.NewCache(redisClient)
		broker = redisRepo.NewRoomBroker(redisClient, root)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)

	// The hub authorizes room joins through messaging, which itself
	// publishes through the hub.
	authorizer := &lateAuthorizer{}
	hub := ws.NewHub(ws.Config{
		Authenticator:  jwtManager,
		Authorizer:     authorizer,
		Metrics:        m,
		Logger:         root,
		AllowedOrigins: cfg.WSAllowedOrigins,
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.WSPingInterval,
	})

	var (
		rooms    usecase.RoomPublisher   = hub
		sessions usecase.SessionRegistry = hub
	)
	if broker != nil {
		rooms, sessions = broker, broker
	}

	collabs := newCollaborators(cfg, cache, m, root)

	// Initialize use cases
	ledgerUC := usecase.NewLedgerUseCase(txManager, retrier, accountRepo, holdRepo, postingRepo, outboxRepo, auditRepo, idGen, fees, cfg.Currency, m)
	if err := ledgerUC.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap system accounts: %w", err)
	}
	messagingUC := usecase.NewMessagingUseCase(txManager, retrier, transactionRepo, messageRepo, idGen, rooms, m, root)
	if collabs.directory != nil {
		messagingUC = messagingUC.WithDirectory(collabs.directory)
	}
	authorizer.set(messagingUC)
	transactionUC := usecase.NewTransactionUseCase(txManager, retrier, transactionRepo, outboxRepo, auditRepo, ledgerUC, messagingUC, idGen, cfg.EscrowPolicy(), m, root)
	checkoutUC := usecase.NewCheckoutUseCase(transactionUC, collabs.listings, sessions, root)
	walletUC := usecase.NewWalletUseCase(txManager, retrier, depositRepo, outboxRepo, auditRepo, ledgerUC, collabs.gateway, idGen, m, root)
	reconciliationUC := usecase.NewReconciliationUseCase(accountRepo, holdRepo, postingRepo, ledgerRepo)

	// Initialize handlers
	var redisPinger handler.Pinger
	if redisClient != nil {
		redisPinger = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		TransactionHandler: handler.NewTransactionHandler(checkoutUC, transactionUC, root),
		MessageHandler:     handler.NewMessageHandler(messagingUC, root),
		WalletHandler:      handler.NewWalletHandler(walletUC, root),
		WebhookHandler:     handler.NewWebhookHandler(walletUC, cfg.PaymentWebhookSecret, root),
		LedgerHandler:      handler.NewLedgerHandler(reconciliationUC, root),
		HealthHandler:      handler.NewHealthHandler(pool, redisPinger),
		Socket:             hub,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Authenticator:      jwtManager,
		RateLimiter:        rateLimiter,
		IdempotencyStore:   idempotencyStore,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		Metrics:            m,
		Logger:             root,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
	})

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	var wg sync.WaitGroup
	startWorker := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				root.Error().Err(err).Str("worker", name).Msg("worker stopped")
			}
		}()
	}

	startWorker("outbox", eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: outboxRepo,
		Publisher:  newOutboxPublisher(redisClient, cfg.OutboxStream, root),
		Metrics:    m,
		Logger:     root,
		Interval:   cfg.OutboxPollInterval,
		Retention:  outboxRetention,
	}).Start)
	startWorker("sweeper", usecase.NewSweeper(usecase.SweeperConfig{
		Transactions: transactionUC,
		Logger:       root,
		Interval:     cfg.SweepInterval,
	}).Start)
	startWorker("ratelimit", func(ctx context.Context) error {
		rateLimiter.Run(ctx, limiterCleanupPeriod)
		return nil
	})
	if broker != nil {
		startWorker("room-broker", func(ctx context.Context) error {
			return broker.Serve(ctx, hub)
		})
	}

	// Create server
	server := &http.Server{
		Addr:         listenAddr(cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		root.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		root.Info().Msg("shutting down server...")
	case err := <-serveErr:
		hub.Shutdown()
		cancelWorkers()
		wg.Wait()
		return err
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	hub.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		root.Error().Err(err).Msg("server forced to shutdown")
	}
	cancelWorkers()
	wg.Wait()
	return nil
}

func listenAddr(port string) string {
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

// lateAuthorizer breaks the construction cycle between the hub and messaging.
type lateAuthorizer struct {
	mu    sync.RWMutex
	inner ws.RoomAuthorizer
}

func (a *lateAuthorizer) set(inner ws.RoomAuthorizer) {
	a.mu.Lock()
	a.inner = inner
	a.mu.Unlock()
}

func (a *lateAuthorizer) AuthorizeParticipant(ctx context.Context, transactionID, accountID string) error {
	a.mu.RLock()
	inner := a.inner
	a.mu.RUnlock()
	if inner == nil {
		return errors.New("room authorization is not ready")
	}
	return inner.AuthorizeParticipant(ctx, transactionID, accountID)
}

type collaborators struct {
	gateway   usecase.PaymentGateway
	listings  usecase.ListingCatalog
	directory usecase.UserDirectory
}

// newCollaborators builds a client for every configured collaborator URL.
// Unset URLs leave the interface nil so use cases fall back to their
// standalone behaviour.
func newCollaborators(cfg *config.Config, cache usecase.Cache, m *metrics.Metrics, logger zerolog.Logger) collaborators {
	opts := func(baseURL, apiKey string) collaborator.Options {
		return collaborator.Options{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Timeout: cfg.CollaboratorTimeout,
			Metrics: m,
			Logger:  logger,
		}
	}

	var c collaborators
	if cfg.PaymentGatewayURL != "" {
		c.gateway = collaborator.NewPaymentGateway(opts(cfg.PaymentGatewayURL, cfg.PaymentGatewayAPIKey))
	}
	if cfg.ListingCatalogURL != "" {
		c.listings = collaborator.NewListingCatalog(opts(cfg.ListingCatalogURL, ""))
	}
	if cfg.UserDirectoryURL != "" {
		c.directory = collaborator.NewUserDirectory(opts(cfg.UserDirectoryURL, ""), cache, cfg.ProfileCacheTTL)
	}
	return c
}

// newOutboxPublisher appends to a Redis stream when Redis is configured and
// logs events otherwise.
func newOutboxPublisher(client *goredis.Client, stream string, logger zerolog.Logger) eventpublisher.Publisher {
	if client == nil {
		return eventpublisher.NewLogPublisher(logger)
	}
	return eventpublisher.NewStreamPublisher(client, stream, outboxStreamMaxLen)
}
