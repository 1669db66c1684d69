package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bizdesk/bizdesk/internal/ledger"
	"github.com/bizdesk/bizdesk/internal/observability"
	"github.com/bizdesk/bizdesk/internal/platform/cache"
	"github.com/bizdesk/bizdesk/internal/shared"
	"github.com/bizdesk/bizdesk/internal/subscriptions"
	"github.com/bizdesk/bizdesk/internal/tickets"
)

// Services holds the domain services shared by the server, worker and CLI.
type Services struct {
	Ledger        *ledger.Service
	Tickets       *tickets.Service
	Subscriptions *subscriptions.Service
	Cache         *cache.Versioned
}

// ServiceDeps lists the infrastructure the domain services are built on.
// Redis and Notifier are optional.
type ServiceDeps struct {
	Config   *Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Notifier ledger.Notifier
	Metrics  *observability.LedgerMetrics
}

// NewServices wires repositories and services over a database pool.
func NewServices(deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := shared.NewAuditLogger(deps.Pool)

	var dashboard *cache.Versioned
	if deps.Redis != nil {
		ttl := 5 * time.Minute
		if deps.Config != nil && deps.Config.CacheTTL > 0 {
			ttl = deps.Config.CacheTTL
		}
		dashboard = cache.NewVersioned(deps.Redis, "bizdesk:dashboard", ttl)
	}

	opts := ledger.Options{
		Logger:    logger.With(slog.String("module", "ledger")),
		Audit:     audit,
		Notifier:  deps.Notifier,
		Cache:     dashboard,
		DueWindow: deps.Config.DueWindow(),
	}
	// Metrics stays nil rather than a typed nil when disabled.
	if deps.Metrics != nil {
		opts.Metrics = deps.Metrics
	}

	return &Services{
		Ledger: ledger.NewService(ledger.NewRepository(deps.Pool), opts),
		Tickets: tickets.NewService(tickets.NewRepository(deps.Pool), tickets.Options{
			Logger: logger.With(slog.String("module", "tickets")),
			Audit:  audit,
		}),
		Subscriptions: subscriptions.NewService(subscriptions.NewRepository(deps.Pool), subscriptions.Options{
			Logger: logger.With(slog.String("module", "subscriptions")),
			Audit:  audit,
		}),
		Cache: dashboard,
	}
}
