package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/congo-pay/walletcore/internal/infra"
)

const accountColumns = `id, owner_id, balance, version, status, created_at, updated_at`

// PostgresStore stores accounts in PostgreSQL. Balance changes are a single
// conditional UPDATE so the version check and the write commit together.
type PostgresStore struct {
	db infra.DBTX
}

// NewPostgresStore builds a store on a pool or an open transaction.
func NewPostgresStore(db infra.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a zero-balance account for ownerID.
func (s *PostgresStore) Create(ctx context.Context, ownerID string) (Account, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO accounts (id, owner_id, balance, version, status)
        VALUES ($1, $2, 0, 0, $3)
        RETURNING `+accountColumns, uuid.New(), ownerID, StatusActive)
	acct, err := scanAccount(row)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return Account{}, ErrAlreadyExists
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

// Get fetches an account by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
}

// GetByOwner fetches the account held by ownerID.
func (s *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (Account, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID)
}

// List pages through accounts ordered by id.
func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// ApplyDelta adds delta to the balance when the stored version still equals
// expectedVersion and the result stays non-negative.
func (s *PostgresStore) ApplyDelta(ctx context.Context, id string, delta, expectedVersion int64) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `UPDATE accounts
        SET balance = balance + $2, version = version + 1, updated_at = now()
        WHERE id = $1 AND version = $3 AND balance + $2 >= 0
        RETURNING `+accountColumns, accountID, delta, expectedVersion)
	acct, err := scanAccount(row)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("apply delta: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if current.Version != expectedVersion {
		return Account{}, ErrConflict
	}
	return Account{}, ErrInsufficientFunds
}

// Close marks the account closed. The balance must be zero.
func (s *PostgresStore) Close(ctx context.Context, id string, expectedVersion int64) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `UPDATE accounts
        SET status = $2, version = version + 1, updated_at = now()
        WHERE id = $1 AND version = $3 AND balance = 0
        RETURNING `+accountColumns, accountID, StatusClosed, expectedVersion)
	acct, err := scanAccount(row)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("close account: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if current.Version != expectedVersion {
		return Account{}, ErrConflict
	}
	return Account{}, ErrNonZeroBalance
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg any) (Account, error) {
	acct, err := scanAccount(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("select account: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct      Account
		id        uuid.UUID
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&id, &acct.OwnerID, &acct.Balance, &acct.Version, &acct.Status, &createdAt, &updatedAt); err != nil {
		return Account{}, err
	}
	acct.ID = id.String()
	acct.CreatedAt = createdAt.UTC()
	acct.UpdatedAt = updatedAt.UTC()
	return acct, nil
}
