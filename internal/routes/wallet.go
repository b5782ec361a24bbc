package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/engine"
)

// RegisterWalletRoutes wires the owner's wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *engine.Handler) {
	r.Post("/wallet", h.Open)
	r.Get("/wallet", h.Wallet)
	r.Delete("/wallet", h.Close)
	r.Get("/wallet/balance", h.Balance)
	r.Post("/wallet/deposits", h.Deposit)
	r.Post("/wallet/payouts", h.Payout)
	r.Post("/wallet/transfers", h.Transfer)
	r.Get("/wallet/transactions", h.Transactions)
	r.Get("/wallet/transactions/:entryId", h.Transaction)
}

// RegisterGatewayRoutes wires the payment gateway confirmation callback.
func RegisterGatewayRoutes(r fiber.Router, h *engine.Handler, guard fiber.Handler) {
	r.Post("/gateway/events", guard, h.GatewayEvent)
}
