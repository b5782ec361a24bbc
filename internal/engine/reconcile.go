package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/congo-pay/walletcore/internal/gateway"
	"github.com/congo-pay/walletcore/internal/ledger"
)

// ReconcileReport counts what a reconciliation pass did.
type ReconcileReport struct {
	Scanned int
	Settled int
	Failed  int
	Pending int
	Errors  int
}

// Reconcile finalises entries left pending for longer than olderThan.
// Gateway-backed entries are re-queried; transfer legs are settled when both
// legs exist and the debit is reversed when the credit never landed.
func (e *Engine) Reconcile(ctx context.Context, olderThan time.Duration, limit int) (report ReconcileReport, err error) {
	ctx, span := e.startSpan(ctx, "engine.Reconcile", attribute.Int("limit", limit))
	defer func() { endSpan(span, err) }()

	pending, err := e.ledger.ListPending(ctx, e.now().Add(-olderThan), limit)
	if err != nil {
		return report, translate(err)
	}
	for _, entry := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		// An earlier entry in this batch may have finalised this one already.
		fresh, ferr := e.ledger.GetByID(ctx, entry.AccountID, entry.ID)
		if ferr == nil {
			if fresh.Status != ledger.StatusPending {
				continue
			}
			entry = fresh
		}
		report.Scanned++

		var outcome ledger.Status
		var rerr error
		switch {
		case entry.Kind.GatewayBacked():
			outcome, rerr = e.reconcileGateway(ctx, entry)
		case entry.Kind == ledger.KindTransferOut:
			outcome, rerr = e.reconcileTransferOut(ctx, entry)
		case entry.Kind == ledger.KindTransferIn:
			outcome, rerr = e.reconcileTransferIn(ctx, entry)
		default:
			outcome = ledger.StatusPending
		}

		if rerr != nil {
			report.Errors++
			e.logger.Error("reconcile entry",
				slog.String("entry_id", entry.ID),
				slog.String("correlation_id", entry.CorrelationID),
				slog.Any("error", rerr))
			continue
		}
		switch outcome {
		case ledger.StatusSettled:
			report.Settled++
		case ledger.StatusFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}

	if report.Scanned > 0 {
		e.logger.Info("reconciliation pass",
			slog.Int("scanned", report.Scanned),
			slog.Int("settled", report.Settled),
			slog.Int("failed", report.Failed),
			slog.Int("pending", report.Pending),
			slog.Int("errors", report.Errors))
	}
	return report, nil
}

func (e *Engine) reconcileGateway(ctx context.Context, entry ledger.Entry) (ledger.Status, error) {
	ref := entry.GatewayRef
	if ref == "" {
		ref = entry.CorrelationID
	}
	gctx, cancel := context.WithTimeout(ctx, e.opts.GatewayTimeout)
	status, err := e.gateway.CheckStatus(gctx, ref)
	cancel()
	if errors.Is(err, gateway.ErrUnknownReference) {
		// The initiation never reached the gateway.
		status, err = gateway.StatusFailed, nil
	}
	if err != nil {
		return "", err
	}

	_, err = e.finalize(ctx, entry, status)
	switch {
	case errors.Is(err, ErrPaymentFailed):
		return ledger.StatusFailed, nil
	case err != nil:
		return "", err
	case status == gateway.StatusSettled:
		return ledger.StatusSettled, nil
	default:
		return ledger.StatusPending, nil
	}
}

func (e *Engine) reconcileTransferOut(ctx context.Context, debit ledger.Entry) (ledger.Status, error) {
	credit, err := e.ledger.FindByCorrelation(ctx, debit.CorrelationID, ledger.KindTransferIn)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && credit.Status == ledger.StatusFailed) {
		if _, err := e.reverse(ctx, debit); err != nil {
			return "", err
		}
		return ledger.StatusFailed, nil
	}
	if err != nil {
		return "", err
	}
	// Credit first: a debit is settled only once its credit has landed.
	if credit.Status == ledger.StatusPending {
		if _, err := e.settle(ctx, credit); err != nil {
			return "", err
		}
	}
	if _, err := e.settle(ctx, debit); err != nil {
		return "", err
	}
	return ledger.StatusSettled, nil
}

// reconcileTransferIn settles a credit whose debit already settled and fails
// one whose debit failed. A credit whose debit is still pending is handled
// through the debit.
func (e *Engine) reconcileTransferIn(ctx context.Context, credit ledger.Entry) (ledger.Status, error) {
	debit, err := e.ledger.FindByCorrelation(ctx, credit.CorrelationID, ledger.KindTransferOut)
	if err != nil {
		return "", err
	}
	switch debit.Status {
	case ledger.StatusSettled:
		if _, err := e.settle(ctx, credit); err != nil {
			return "", err
		}
		return ledger.StatusSettled, nil
	case ledger.StatusFailed:
		if _, err := e.reverse(ctx, credit); err != nil {
			return "", err
		}
		return ledger.StatusFailed, nil
	default:
		return ledger.StatusPending, nil
	}
}
