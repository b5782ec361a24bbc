package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type simulatedRecord struct {
	ref         string
	reference   string
	amount      int64
	destination string
	status      Status
}

// Simulated is an in-process gateway whose outcomes are scripted. It backs
// local development and exercises the pending and failure paths in tests.
type Simulated struct {
	mu          sync.Mutex
	initial     Status
	delay       time.Duration
	nextErr     error
	byRef       map[string]*simulatedRecord
	byReference map[string]*simulatedRecord
	calls       int
}

// NewSimulated returns a gateway that answers new requests with initial.
func NewSimulated(initial Status) *Simulated {
	return &Simulated{
		initial:     initial,
		byRef:       make(map[string]*simulatedRecord),
		byReference: make(map[string]*simulatedRecord),
	}
}

// SetInitialStatus changes the answer given to subsequent requests.
func (s *Simulated) SetInitialStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initial = status
}

// SetDelay makes initiation calls block for d or until the context ends.
func (s *Simulated) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// FailNext makes the next initiation call return err without recording anything.
func (s *Simulated) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErr = err
}

// Calls returns the number of initiation requests received.
func (s *Simulated) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Resolve sets the final status of a request identified by gateway ref or caller reference.
func (s *Simulated) Resolve(ref string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.lookup(ref)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}
	rec.status = status
	return nil
}

// InitiateDeposit records a deposit request.
func (s *Simulated) InitiateDeposit(ctx context.Context, amount int64, reference string) (Result, error) {
	return s.initiate(ctx, amount, "", reference)
}

// InitiatePayout records a payout request.
func (s *Simulated) InitiatePayout(ctx context.Context, amount int64, destination, reference string) (Result, error) {
	return s.initiate(ctx, amount, destination, reference)
}

// CheckStatus reports the current status of a request.
func (s *Simulated) CheckStatus(_ context.Context, ref string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.lookup(ref)
	if rec == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}
	return rec.status, nil
}

func (s *Simulated) initiate(ctx context.Context, amount int64, destination, reference string) (Result, error) {
	s.mu.Lock()
	s.calls++
	if err := s.nextErr; err != nil {
		s.nextErr = nil
		s.mu.Unlock()
		return Result{}, err
	}
	rec, exists := s.byReference[reference]
	if !exists {
		rec = &simulatedRecord{
			ref:         "sim_" + uuid.NewString(),
			reference:   reference,
			amount:      amount,
			destination: destination,
			status:      s.initial,
		}
		s.byRef[rec.ref] = rec
		s.byReference[reference] = rec
	}
	result := Result{Ref: rec.ref, Status: rec.status}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return result, nil
}

func (s *Simulated) lookup(ref string) *simulatedRecord {
	if rec, ok := s.byRef[ref]; ok {
		return rec
	}
	return s.byReference[ref]
}
