package engine

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/gateway"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/middleware"
	"github.com/congo-pay/walletcore/internal/money"
)

// Handler exposes the engine over HTTP for the authenticated owner.
type Handler struct {
	engine   *Engine
	currency string
	exponent int32
}

// NewHandler builds a wallet HTTP handler rendering amounts in currency.
func NewHandler(engine *Engine, currency string, exponent int32) *Handler {
	return &Handler{engine: engine, currency: currency, exponent: exponent}
}

type accountResponse struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Balance   money.Amount `json:"balance"`
	Status    string       `json:"status"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type entryResponse struct {
	ID                    string       `json:"id"`
	AccountID             string       `json:"account_id"`
	Direction             string       `json:"direction"`
	Amount                money.Amount `json:"amount"`
	Kind                  string       `json:"kind"`
	CounterpartyAccountID string       `json:"counterparty_account_id,omitempty"`
	CorrelationID         string       `json:"correlation_id"`
	Status                string       `json:"status"`
	Description           string       `json:"description,omitempty"`
	GatewayRef            string       `json:"gateway_ref,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
}

type pageResponse struct {
	Transactions []entryResponse `json:"transactions"`
	Page         int             `json:"page"`
	PageSize     int             `json:"page_size"`
	TotalCount   int             `json:"total_count"`
	TotalPages   int             `json:"total_pages"`
}

type resultResponse struct {
	Account     accountResponse `json:"account"`
	Transaction entryResponse   `json:"transaction"`
	Replayed    bool            `json:"replayed"`
}

func (h *Handler) account(a account.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		OwnerID:   a.OwnerID,
		Balance:   money.NewAmount(a.Balance, h.currency, h.exponent),
		Status:    a.Status,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (h *Handler) entry(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:                    e.ID,
		AccountID:             e.AccountID,
		Direction:             string(e.Direction),
		Amount:                money.NewAmount(e.Amount, h.currency, h.exponent),
		Kind:                  string(e.Kind),
		CounterpartyAccountID: e.CounterpartyAccountID,
		CorrelationID:         e.CorrelationID,
		Status:                string(e.Status),
		Description:           e.Description,
		GatewayRef:            e.GatewayRef,
		CreatedAt:             e.CreatedAt,
	}
}

func (h *Handler) page(p Page) pageResponse {
	out := pageResponse{
		Transactions: make([]entryResponse, 0, len(p.Entries)),
		Page:         p.Page,
		PageSize:     p.PageSize,
		TotalCount:   p.TotalCount,
		TotalPages:   p.TotalPages,
	}
	for _, e := range p.Entries {
		out.Transactions = append(out.Transactions, h.entry(e))
	}
	return out
}

func (h *Handler) result(c *fiber.Ctx, res Result, created int) error {
	status := created
	switch {
	case res.Replayed:
		status = http.StatusOK
	case res.Entry.Status == ledger.StatusPending:
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(resultResponse{
		Account:     h.account(res.Account),
		Transaction: h.entry(res.Entry),
		Replayed:    res.Replayed,
	})
}

// Open creates the caller's account.
func (h *Handler) Open(c *fiber.Ctx) error {
	acct, err := h.engine.OpenAccount(c.UserContext(), middleware.OwnerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(h.account(acct))
}

// Close closes the caller's empty account.
func (h *Handler) Close(c *fiber.Ctx) error {
	acct, err := h.engine.CloseAccount(c.UserContext(), middleware.OwnerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(h.account(acct))
}

// Wallet returns the balance and the first page of history.
func (h *Handler) Wallet(c *fiber.Ctx) error {
	w, err := h.engine.Wallet(c.UserContext(), middleware.OwnerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account":             h.account(w.Account),
		"recent_transactions": h.page(w.Recent),
	})
}

// Balance returns the committed balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	acct, err := h.engine.GetBalance(c.UserContext(), middleware.OwnerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": acct.ID,
		"balance":    money.NewAmount(acct.Balance, h.currency, h.exponent),
		"timestamp":  acct.UpdatedAt,
	})
}

type depositRequest struct {
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

// Deposit adds funds through the gateway.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Deposit(c.UserContext(), DepositInput{
		OwnerID:        middleware.OwnerID(c),
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return httpError(err)
	}
	return h.result(c, res, http.StatusCreated)
}

type payoutRequest struct {
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
}

// Payout sends funds out through the gateway.
func (h *Handler) Payout(c *fiber.Ctx) error {
	var req payoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Payout(c.UserContext(), PayoutInput{
		OwnerID:        middleware.OwnerID(c),
		Amount:         req.Amount,
		Destination:    req.Destination,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return httpError(err)
	}
	return h.result(c, res, http.StatusCreated)
}

type transferRequest struct {
	ToOwnerID   string `json:"to_owner_id"`
	ToAccountID string `json:"to_account_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// Transfer moves funds to another account.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Transfer(c.UserContext(), TransferInput{
		FromOwnerID:    middleware.OwnerID(c),
		ToOwnerID:      strings.TrimSpace(req.ToOwnerID),
		ToAccountID:    strings.TrimSpace(req.ToAccountID),
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return httpError(err)
	}
	return h.result(c, res, http.StatusCreated)
}

// Transactions pages through history, most recent first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	p, err := h.engine.ListTransactions(c.UserContext(), middleware.OwnerID(c), c.QueryInt("page", 1), c.QueryInt("page_size", 0))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(h.page(p))
}

// Transaction returns a single entry of the caller's history.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	e, err := h.engine.GetTransaction(c.UserContext(), middleware.OwnerID(c), c.Params("entryId"))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(h.entry(e))
}

type gatewayEventRequest struct {
	GatewayRef string `json:"gateway_ref"`
	Status     string `json:"status"`
}

// GatewayEvent applies an asynchronous confirmation sent by the payment gateway.
func (h *Handler) GatewayEvent(c *fiber.Ctx) error {
	var req gatewayEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.ConfirmGateway(c.UserContext(), strings.TrimSpace(req.GatewayRef), gateway.Status(strings.ToLower(req.Status)))
	if err != nil && !errors.Is(err, ErrPaymentFailed) {
		return httpError(err)
	}
	// A failed payment is still a successfully applied confirmation.
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"transaction": h.entry(res.Entry),
		"replayed":    res.Replayed,
	})
}

func idempotencyKey(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(middleware.IdempotencyKeyHeader))
}

// httpError maps engine errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrEntryNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAccountExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrPaymentFailed):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrTransientFailure):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
