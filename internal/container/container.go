package container

import (
	"context"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/rooftops-ai/entitlements/app/db"
	"github.com/rooftops-ai/entitlements/app/httpclient"
	"github.com/rooftops-ai/entitlements/config"
	"github.com/rooftops-ai/entitlements/internal/api/agents"
	"github.com/rooftops-ai/entitlements/internal/api/billing"
	"github.com/rooftops-ai/entitlements/internal/api/chat"
	"github.com/rooftops-ai/entitlements/internal/api/entitlement"
	"github.com/rooftops-ai/entitlements/internal/api/generative"
	"github.com/rooftops-ai/entitlements/internal/api/reports"
	"github.com/rooftops-ai/entitlements/internal/api/subscription"
	"github.com/rooftops-ai/entitlements/internal/api/usage"
	"github.com/rooftops-ai/entitlements/internal/api/websearch"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client

	SubscriptionHandler *subscription.HandlerImpl
	BillingHandler      *billing.HandlerImpl
	EntitlementHandler  *entitlement.HandlerImpl
	UsageHandler        *usage.HandlerImpl
	ChatHandler         *chat.HandlerImpl
	ReportsHandler      *reports.HandlerImpl
	SearchHandler       *websearch.HandlerImpl
	AgentsHandler       *agents.HandlerImpl
}

// NewContainer initializes and returns a new dependency container
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	// Redis is optional: without it the subscription reads just hit Postgres.
	var redisClient *redis.Client
	var subCache subscription.Cache = subscription.NoopCache{}
	if cfg.Repositories.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Repositories.Redis.Addr,
			Password: cfg.Repositories.Redis.Password,
			DB:       cfg.Repositories.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, subscription cache disabled", slog.Any("error", err))
			redisClient = nil
		} else {
			subCache = subscription.NewRedisSubscriptionCache(redisClient, cfg.Repositories.Redis.CacheTTL, logger)
		}
	}

	generator, err := generative.NewAIClient(ctx, *cfg)
	if err != nil {
		logger.Error("Failed to initialize AI client", slog.Any("error", err))
		return nil, err
	}

	usageRepo := usage.NewPostgresUsageRepo(pool, logger)
	usageService := usage.NewUsageService(usageRepo, logger)
	usageHandler := usage.NewHandlerImpl(usageService, logger)

	subscriptionRepo := subscription.NewPostgresSubscriptionRepo(pool, logger)
	subscriptionService := subscription.NewSubscriptionService(subscriptionRepo, subCache, logger)
	subscriptionHandler := subscription.NewHandlerImpl(subscriptionService, logger)

	priceCatalog := billing.NewPriceCatalog(cfg.Stripe)
	billingService := billing.NewBillingService(cfg.Stripe, priceCatalog, subscriptionRepo, subCache, logger)
	billingHandler := billing.NewHandlerImpl(billingService, cfg.Stripe.WebhookSecret, logger)

	entitlementService := entitlement.NewEntitlementService(subscriptionService, usageService, logger)
	entitlementHandler := entitlement.NewHandlerImpl(entitlementService, logger)

	chatService := chat.NewChatService(entitlementService, usageService, generator, logger)
	chatHandler := chat.NewHandlerImpl(chatService, logger)

	reportsService := reports.NewReportsService(entitlementService, usageService, generator, logger)
	reportsHandler := reports.NewHandlerImpl(reportsService, logger)

	searchClient := httpclient.New(logger)
	searchService := websearch.NewWebSearchService(*cfg, entitlementService, usageService, searchClient, logger)
	searchHandler := websearch.NewHandlerImpl(searchService, logger)

	agentsService := agents.NewAgentsService(entitlementService, logger)
	agentsHandler := agents.NewHandlerImpl(agentsService, logger)

	return &Container{
		Config:              cfg,
		Logger:              logger,
		Pool:                pool,
		Redis:               redisClient,
		SubscriptionHandler: subscriptionHandler,
		BillingHandler:      billingHandler,
		EntitlementHandler:  entitlementHandler,
		UsageHandler:        usageHandler,
		ChatHandler:         chatHandler,
		ReportsHandler:      reportsHandler,
		SearchHandler:       searchHandler,
		AgentsHandler:       agentsHandler,
	}, nil
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close Redis client", slog.Any("error", err))
		}
	}
}
