package gateway

import (
	"context"
	"errors"
)

// Status is the gateway's view of a deposit or payout.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

var (
	// ErrUnavailable means the request never reached the gateway.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrDeclined means the gateway received the request and refused it.
	ErrDeclined = errors.New("gateway declined request")
	// ErrUnknownReference means the gateway has no record of the reference.
	ErrUnknownReference = errors.New("gateway reference unknown")
)

// Result is the gateway's immediate answer to an initiation request.
type Result struct {
	Ref    string
	Status Status
}

// Gateway connects the engine to an external funding and payout network.
// reference is the caller's correlation id and is unique per operation;
// CheckStatus accepts either the gateway's Ref or that reference.
type Gateway interface {
	InitiateDeposit(ctx context.Context, amount int64, reference string) (Result, error)
	InitiatePayout(ctx context.Context, amount int64, destination, reference string) (Result, error)
	CheckStatus(ctx context.Context, ref string) (Status, error)
}
