package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/gateway"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/notification"
)

// correlationNamespace scopes the name-based UUIDs derived from idempotency keys.
var correlationNamespace = uuid.MustParse("6f0b5c8e-3d3c-4f7e-9a55-2f4d1c8b7a10")

// Options tunes retry, timeout and paging behaviour.
type Options struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	GatewayTimeout  time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     5,
		BaseDelay:       20 * time.Millisecond,
		MaxDelay:        500 * time.Millisecond,
		GatewayTimeout:  5 * time.Second,
		DefaultPageSize: 10,
		MaxPageSize:     100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = d.GatewayTimeout
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = d.DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	return o
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Accounts account.Store
	Ledger   ledger.Ledger
	// Poster defaults to a saga poster over Accounts and Ledger.
	Poster   Poster
	Gateway  gateway.Gateway
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Engine is the only writer of balances and ledger entries.
type Engine struct {
	accounts account.Store
	ledger   ledger.Ledger
	poster   Poster
	gateway  gateway.Gateway
	notifier notification.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	opts     Options
	now      func() time.Time
}

// Result is the outcome of a money-moving operation. Replayed is set when the
// idempotency key matched an earlier execution and nothing new was written.
type Result struct {
	Account     account.Account
	Entry       ledger.Entry
	Counterpart ledger.Entry
	Replayed    bool
}

// New wires an engine.
func New(deps Deps, opts Options) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	poster := deps.Poster
	if poster == nil {
		poster = NewSagaPoster(deps.Accounts, deps.Ledger, logger)
	}
	gw := deps.Gateway
	if gw == nil {
		gw = gateway.Static{}
	}
	return &Engine{
		accounts: deps.Accounts,
		ledger:   deps.Ledger,
		poster:   poster,
		gateway:  gw,
		notifier: deps.Notifier,
		logger:   logger,
		tracer:   otel.Tracer("walletcore/engine"),
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

func correlationID(kind ledger.Kind, accountID, key string) string {
	return uuid.NewSHA1(correlationNamespace, []byte(string(kind)+":"+accountID+":"+key)).String()
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// withRetry reruns fn while it reports a version conflict, backing off
// exponentially, and gives up with ErrTransientFailure.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.opts.BaseDelay
	policy.MaxInterval = e.opts.MaxDelay
	policy.MaxElapsedTime = 0
	policy.Reset()

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.opts.MaxAttempts-1)), ctx))

	if retryable(err) {
		e.logger.Warn("retries exhausted", slog.String("operation", op), slog.Int("attempt", attempts))
		return fmt.Errorf("%w: %s gave up after %d attempts", ErrTransientFailure, op, attempts)
	}
	return err
}

// retryable reports a conflict that left no state behind. A compensated
// operation already burned its correlation id and is final.
func retryable(err error) bool {
	return errors.Is(err, account.ErrConflict) && !errors.Is(err, errCompensated)
}

func (e *Engine) ownerAccount(ctx context.Context, ownerID string) (account.Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return account.Account{}, invalid("owner id is required")
	}
	acct, err := e.accounts.GetByOwner(ctx, ownerID)
	if err != nil {
		return account.Account{}, translate(err)
	}
	return acct, nil
}

// prior returns the entry an earlier attempt with the same correlation id wrote.
func (e *Engine) prior(ctx context.Context, correlationID string, kind ledger.Kind) (ledger.Entry, bool, error) {
	entry, err := e.ledger.FindByCorrelation(ctx, correlationID, kind)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, translate(err)
	}
	return entry, true, nil
}

func (e *Engine) replay(ctx context.Context, entry ledger.Entry, amount int64) (Result, error) {
	if entry.Amount != amount {
		return Result{}, invalid("idempotency key was already used for a different amount")
	}
	acct, err := e.accounts.Get(ctx, entry.AccountID)
	if err != nil {
		return Result{}, translate(err)
	}
	res := Result{Account: acct, Entry: entry, Replayed: true}
	if entry.Kind == ledger.KindTransferOut {
		if credit, err := e.ledger.FindByCorrelation(ctx, entry.CorrelationID, ledger.KindTransferIn); err == nil {
			res.Counterpart = credit
		}
	}
	if entry.Status == ledger.StatusFailed {
		if entry.Kind.GatewayBacked() {
			return res, ErrPaymentFailed
		}
		return res, fmt.Errorf("%w: transfer was rolled back", ErrTransientFailure)
	}
	return res, nil
}

// replayAfterDuplicate resolves a duplicate append raised by a concurrent request with the same key.
func (e *Engine) replayAfterDuplicate(ctx context.Context, correlationID string, kind ledger.Kind, amount int64) (Result, error) {
	entry, found, err := e.prior(ctx, correlationID, kind)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, fmt.Errorf("%w: duplicate reported without a prior entry", ErrInternal)
	}
	return e.replay(ctx, entry, amount)
}

func (e *Engine) settle(ctx context.Context, entry ledger.Entry) (Posting, error) {
	var posting Posting
	err := e.withRetry(ctx, "settle", func() error {
		var err error
		posting, err = e.poster.Settle(ctx, entry)
		return err
	})
	if err != nil {
		e.logger.Error("settle entry",
			slog.String("entry_id", entry.ID),
			slog.String("account_id", entry.AccountID),
			slog.String("correlation_id", entry.CorrelationID),
			slog.Any("error", err))
		return Posting{}, translate(err)
	}
	return posting, nil
}

func (e *Engine) reverse(ctx context.Context, entry ledger.Entry) (Posting, error) {
	var posting Posting
	err := e.withRetry(ctx, "reverse", func() error {
		var err error
		posting, err = e.poster.Reverse(ctx, entry)
		return err
	})
	if err != nil {
		e.logger.Error("reverse entry",
			slog.String("entry_id", entry.ID),
			slog.String("account_id", entry.AccountID),
			slog.String("correlation_id", entry.CorrelationID),
			slog.Any("error", err))
		return Posting{}, translate(err)
	}
	e.logger.Info("entry reversed",
		slog.String("entry_id", entry.ID),
		slog.String("account_id", entry.AccountID),
		slog.String("correlation_id", entry.CorrelationID))
	return posting, nil
}

func (e *Engine) notify(ctx context.Context, msg notification.Message) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
