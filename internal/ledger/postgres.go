package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/congo-pay/walletcore/internal/infra"
)

const entryColumns = `id::text, account_id::text, direction, amount, kind,
        COALESCE(counterparty_account_id::text, ''), correlation_id, status, description,
        COALESCE(gateway_ref, ''), created_at`

// PostgresLedger persists entries in PostgreSQL. The (correlation_id, kind)
// unique constraint is the duplicate-operation backstop.
type PostgresLedger struct {
	db infra.DBTX
}

// NewPostgresLedger constructs a ledger on a pool or an open transaction.
func NewPostgresLedger(db infra.DBTX) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Append inserts a new entry and returns it with its id and timestamp.
func (l *PostgresLedger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Amount <= 0 {
		return Entry{}, fmt.Errorf("amount must be positive")
	}
	accountID, err := uuid.Parse(entry.AccountID)
	if err != nil {
		return Entry{}, fmt.Errorf("account id: %w", err)
	}
	var counterparty *uuid.UUID
	if entry.CounterpartyAccountID != "" {
		id, err := uuid.Parse(entry.CounterpartyAccountID)
		if err != nil {
			return Entry{}, fmt.Errorf("counterparty account id: %w", err)
		}
		counterparty = &id
	}
	var gatewayRef *string
	if entry.GatewayRef != "" {
		gatewayRef = &entry.GatewayRef
	}

	row := l.db.QueryRow(ctx, `INSERT INTO entries
        (id, account_id, direction, amount, kind, counterparty_account_id, correlation_id, status, description, gateway_ref)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING `+entryColumns,
		uuid.New(), accountID, string(entry.Direction), entry.Amount, string(entry.Kind), counterparty,
		entry.CorrelationID, string(entry.Status), entry.Description, gatewayRef)
	created, err := scanEntry(row)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return Entry{}, ErrDuplicateOperation
		}
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return created, nil
}

// GetByID fetches an entry scoped to its owning account.
func (l *PostgresLedger) GetByID(ctx context.Context, accountID, entryID string) (Entry, error) {
	aid, err := uuid.Parse(accountID)
	if err != nil {
		return Entry{}, ErrNotFound
	}
	eid, err := uuid.Parse(entryID)
	if err != nil {
		return Entry{}, ErrNotFound
	}
	return l.getOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1 AND account_id = $2`, eid, aid)
}

// FindByCorrelation looks up the entry an earlier attempt of the same operation wrote.
func (l *PostgresLedger) FindByCorrelation(ctx context.Context, correlationID string, kind Kind) (Entry, error) {
	return l.getOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE correlation_id = $1 AND kind = $2`, correlationID, string(kind))
}

// FindByGatewayRef looks up the entry waiting on a gateway reference.
func (l *PostgresLedger) FindByGatewayRef(ctx context.Context, ref string) (Entry, error) {
	return l.getOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE gateway_ref = $1`, ref)
}

// ListByAccount returns a page of entries, most recent first.
func (l *PostgresLedger) ListByAccount(ctx context.Context, accountID string, offset, limit int) ([]Entry, error) {
	aid, err := uuid.Parse(accountID)
	if err != nil || offset < 0 || limit <= 0 {
		return []Entry{}, nil
	}
	return l.list(ctx, `SELECT `+entryColumns+` FROM entries
        WHERE account_id = $1
        ORDER BY created_at DESC, seq DESC
        OFFSET $2 LIMIT $3`, aid, offset, limit)
}

// CountByAccount returns the total number of entries for an account.
func (l *PostgresLedger) CountByAccount(ctx context.Context, accountID string) (int, error) {
	aid, err := uuid.Parse(accountID)
	if err != nil {
		return 0, nil
	}
	var count int
	if err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM entries WHERE account_id = $1`, aid).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// SumByAccount totals the balance effect of settled entries and pending debits.
func (l *PostgresLedger) SumByAccount(ctx context.Context, accountID string) (int64, error) {
	aid, err := uuid.Parse(accountID)
	if err != nil {
		return 0, nil
	}
	const query = `
        SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
        FROM entries
        WHERE account_id = $1
          AND (status = 'settled' OR (status = 'pending' AND direction = 'debit'))`
	var sum int64
	if err := l.db.QueryRow(ctx, query, aid).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	return sum, nil
}

// HasPending reports whether the account has any entry awaiting settlement.
func (l *PostgresLedger) HasPending(ctx context.Context, accountID string) (bool, error) {
	aid, err := uuid.Parse(accountID)
	if err != nil {
		return false, nil
	}
	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entries WHERE account_id = $1 AND status = 'pending')`, aid).Scan(&exists); err != nil {
		return false, fmt.Errorf("pending lookup: %w", err)
	}
	return exists, nil
}

// ListPending returns the oldest pending entries created before the cutoff.
func (l *PostgresLedger) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]Entry, error) {
	return l.list(ctx, `SELECT `+entryColumns+` FROM entries
        WHERE status = 'pending' AND created_at < $1
        ORDER BY created_at, seq
        LIMIT $2`, createdBefore.UTC(), limit)
}

// UpdateStatus moves a pending entry to settled or failed.
func (l *PostgresLedger) UpdateStatus(ctx context.Context, entryID string, status Status) (Entry, error) {
	eid, err := uuid.Parse(entryID)
	if err != nil {
		return Entry{}, ErrNotFound
	}
	if !validTransition(StatusPending, status) {
		return Entry{}, fmt.Errorf("%w: to %s", ErrInvalidStateTransition, status)
	}
	row := l.db.QueryRow(ctx, `UPDATE entries SET status = $2
        WHERE id = $1 AND status = 'pending'
        RETURNING `+entryColumns, eid, string(status))
	updated, err := scanEntry(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("update entry status: %w", err)
	}

	var current string
	if err := l.db.QueryRow(ctx, `SELECT status FROM entries WHERE id = $1`, eid).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return Entry{}, fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, current, status)
}

// SetGatewayRef records the gateway reference on a pending entry that has none yet.
func (l *PostgresLedger) SetGatewayRef(ctx context.Context, entryID, ref string) error {
	eid, err := uuid.Parse(entryID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := l.db.Exec(ctx, `UPDATE entries SET gateway_ref = $2
        WHERE id = $1 AND status = 'pending' AND gateway_ref IS NULL`, eid, ref)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return ErrDuplicateOperation
		}
		return fmt.Errorf("set gateway ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: gateway reference is fixed once set", ErrInvalidStateTransition)
	}
	return nil
}

func (l *PostgresLedger) getOne(ctx context.Context, query string, args ...any) (Entry, error) {
	entry, err := scanEntry(l.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("select entry: %w", err)
	}
	return entry, nil
}

func (l *PostgresLedger) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		direction string
		kind      string
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&e.ID, &e.AccountID, &direction, &e.Amount, &kind, &e.CounterpartyAccountID,
		&e.CorrelationID, &status, &e.Description, &e.GatewayRef, &createdAt); err != nil {
		return Entry{}, err
	}
	e.Direction = Direction(direction)
	e.Kind = Kind(kind)
	e.Status = Status(status)
	e.CreatedAt = createdAt.UTC()
	return e, nil
}
