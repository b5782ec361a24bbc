package gateway

import (
	"context"

	"github.com/google/uuid"
)

// Static approves every request and settles it immediately.
type Static struct{}

// InitiateDeposit approves the deposit with a synthetic reference.
func (Static) InitiateDeposit(_ context.Context, _ int64, _ string) (Result, error) {
	return Result{Ref: "gw_" + uuid.NewString(), Status: StatusSettled}, nil
}

// InitiatePayout approves the payout with a synthetic reference.
func (Static) InitiatePayout(_ context.Context, _ int64, _ string, _ string) (Result, error) {
	return Result{Ref: "gw_" + uuid.NewString(), Status: StatusSettled}, nil
}

// CheckStatus reports every reference as settled.
func (Static) CheckStatus(_ context.Context, _ string) (Status, error) {
	return StatusSettled, nil
}
