package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type correlationKey struct {
	correlationID string
	kind          Kind
}

type inMemoryLedger struct {
	mu            sync.RWMutex
	entries       map[string]*stored
	byAccount     map[string][]*stored
	byCorrelation map[correlationKey]*stored
	byGatewayRef  map[string]*stored
	seq           int64
}

type stored struct {
	Entry
	seq int64
}

// NewInMemory returns a process-local ledger.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		entries:       make(map[string]*stored),
		byAccount:     make(map[string][]*stored),
		byCorrelation: make(map[correlationKey]*stored),
		byGatewayRef:  make(map[string]*stored),
	}
}

func (l *inMemoryLedger) Append(_ context.Context, entry Entry) (Entry, error) {
	if entry.Amount <= 0 {
		return Entry{}, fmt.Errorf("amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := correlationKey{correlationID: entry.CorrelationID, kind: entry.Kind}
	if _, exists := l.byCorrelation[key]; exists {
		return Entry{}, ErrDuplicateOperation
	}
	if entry.GatewayRef != "" {
		if _, exists := l.byGatewayRef[entry.GatewayRef]; exists {
			return Entry{}, ErrDuplicateOperation
		}
	}

	l.seq++
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	rec := &stored{Entry: entry, seq: l.seq}

	l.entries[entry.ID] = rec
	l.byAccount[entry.AccountID] = append(l.byAccount[entry.AccountID], rec)
	l.byCorrelation[key] = rec
	if entry.GatewayRef != "" {
		l.byGatewayRef[entry.GatewayRef] = rec
	}
	return entry, nil
}

func (l *inMemoryLedger) GetByID(_ context.Context, accountID, entryID string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.entries[entryID]
	if !ok || rec.AccountID != accountID {
		return Entry{}, ErrNotFound
	}
	return rec.Entry, nil
}

func (l *inMemoryLedger) FindByCorrelation(_ context.Context, correlationID string, kind Kind) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.byCorrelation[correlationKey{correlationID: correlationID, kind: kind}]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return rec.Entry, nil
}

func (l *inMemoryLedger) FindByGatewayRef(_ context.Context, ref string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.byGatewayRef[ref]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return rec.Entry, nil
}

func (l *inMemoryLedger) ListByAccount(_ context.Context, accountID string, offset, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs := l.byAccount[accountID]
	out := []Entry{}
	if offset < 0 || limit <= 0 || offset >= len(recs) {
		return out, nil
	}
	// recs is in append order; walk it backwards for most-recent-first.
	for i := len(recs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i].Entry)
	}
	return out, nil
}

func (l *inMemoryLedger) CountByAccount(_ context.Context, accountID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byAccount[accountID]), nil
}

func (l *inMemoryLedger) SumByAccount(_ context.Context, accountID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum int64
	for _, rec := range l.byAccount[accountID] {
		sum += rec.Effect()
	}
	return sum, nil
}

func (l *inMemoryLedger) HasPending(_ context.Context, accountID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.byAccount[accountID] {
		if rec.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (l *inMemoryLedger) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]Entry, error) {
	l.mu.RLock()
	pending := make([]stored, 0)
	for _, rec := range l.entries {
		if rec.Status == StatusPending && rec.CreatedAt.Before(createdBefore) {
			pending = append(pending, *rec)
		}
	}
	l.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]Entry, 0, len(pending))
	for _, rec := range pending {
		out = append(out, rec.Entry)
	}
	return out, nil
}

func (l *inMemoryLedger) UpdateStatus(_ context.Context, entryID string, status Status) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.entries[entryID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if !validTransition(rec.Status, status) {
		return Entry{}, fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, rec.Status, status)
	}
	rec.Status = status
	return rec.Entry, nil
}

func (l *inMemoryLedger) SetGatewayRef(_ context.Context, entryID, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusPending || rec.GatewayRef != "" {
		return fmt.Errorf("%w: gateway reference is fixed once set", ErrInvalidStateTransition)
	}
	if _, exists := l.byGatewayRef[ref]; exists {
		return ErrDuplicateOperation
	}
	rec.GatewayRef = ref
	l.byGatewayRef[ref] = rec
	return nil
}
