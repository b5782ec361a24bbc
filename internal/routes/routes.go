package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/config"
	"github.com/congo-pay/walletcore/internal/engine"
	"github.com/congo-pay/walletcore/internal/middleware"
)

// GatewaySecretHeader authenticates gateway confirmation callbacks.
const GatewaySecretHeader = "X-Gateway-Secret"

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	Engine *engine.Engine
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Engine == nil {
		return errors.New("routes: engine is required")
	}
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	handler := engine.NewHandler(d.Engine, d.Cfg.Currency, d.Cfg.CurrencyExponent)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Machine callbacks are registered before the bearer-protected group.
	RegisterGatewayRoutes(api, handler, middleware.SharedSecret(GatewaySecretHeader, d.Cfg.GatewayWebhookSecret))

	protected := api.Group("",
		middleware.BearerAuth([]byte(d.Cfg.JWTSecret)),
		middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute),
		middleware.RequireIdempotencyKey(),
	)
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected, handler)

	return nil
}

// ErrorHandler renders errors as JSON with the request id.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	message := err.Error()
	if code == http.StatusInternalServerError {
		message = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"request_id": middleware.RequestIDFrom(c),
	})
}
