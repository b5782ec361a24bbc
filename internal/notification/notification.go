package notification

import (
	"context"
	"log/slog"
)

const (
	// KindTransferReceived tells an owner money arrived from another wallet.
	KindTransferReceived = "transfer_received"
	// KindDepositSettled tells an owner a deposit cleared.
	KindDepositSettled = "deposit_settled"
	// KindPayoutSettled tells an owner a payout reached its destination.
	KindPayoutSettled = "payout_settled"
	// KindPaymentFailed tells an owner a gateway operation failed and was reversed.
	KindPaymentFailed = "payment_failed"
)

// Message describes a notification payload.
type Message struct {
	Kind          string `json:"kind"`
	Destination   string `json:"destination"`
	Body          string `json:"body"`
	AccountID     string `json:"account_id,omitempty"`
	EntryID       string `json:"entry_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("entry_id", message.EntryID),
		slog.String("body", message.Body))
	return nil
}

// Multi fans a message out to every notifier and returns the first error.
type Multi []Notifier

// Send delivers to all notifiers even when one fails.
func (m Multi) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
