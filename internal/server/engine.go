package server

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/config"
	"github.com/congo-pay/walletcore/internal/engine"
	"github.com/congo-pay/walletcore/internal/gateway"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/notification"
)

// NewEngine builds the wallet engine on Postgres when db is set and on the
// memory stores otherwise. A nil gateway selects the breaker-wrapped static
// gateway.
func NewEngine(cfg config.Config, db *pgxpool.Pool, gw gateway.Gateway, notifier notification.Notifier, logger *slog.Logger) *engine.Engine {
	if gw == nil {
		gw = gateway.WithBreaker(gateway.Static{}, gateway.DefaultBreakerConfig(), logger)
	}
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	opts := engine.Options{
		MaxAttempts:    cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		GatewayTimeout: cfg.GatewayTimeout,
		MaxPageSize:    cfg.MaxPageSize,
	}

	deps := engine.Deps{Gateway: gw, Notifier: notifier, Logger: logger}
	if db != nil {
		deps.Accounts = account.NewPostgresStore(db)
		deps.Ledger = ledger.NewPostgresLedger(db)
		deps.Poster = engine.NewPostgresPoster(db)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		deps.Accounts = account.NewMemoryStore()
		deps.Ledger = ledger.NewInMemory()
	}
	return engine.New(deps, opts)
}
