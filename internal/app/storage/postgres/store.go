// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot/platform/internal/app/domain/billing"
	"github.com/postpilot/platform/internal/app/domain/credential"
	"github.com/postpilot/platform/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.CredentialStore = (*Store)(nil)
var _ storage.CreditStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- CredentialStore --------------------------------------------------------

func (s *Store) UpsertCredential(ctx context.Context, record credential.Record) (credential.Record, error) {
	if record.TestedAt.IsZero() {
		record.TestedAt = time.Now().UTC()
	}

	paramsJSON, err := json.Marshal(record.ExtraParams)
	if err != nil {
		return credential.Record{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (user_id, service, api_key, extra_params, status, tested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, service) DO UPDATE
		SET api_key = EXCLUDED.api_key,
		    extra_params = EXCLUDED.extra_params,
		    status = EXCLUDED.status,
		    tested_at = EXCLUDED.tested_at
	`, record.UserID, record.Service, record.APIKey, paramsJSON, record.Status, record.TestedAt)
	if err != nil {
		return credential.Record{}, err
	}
	return record, nil
}

func (s *Store) GetCredential(ctx context.Context, userID string, service credential.Service) (credential.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, service, api_key, extra_params, status, tested_at
		FROM api_keys
		WHERE user_id = $1 AND service = $2
	`, userID, service)
	return scanCredential(row)
}

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]credential.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, service, api_key, extra_params, status, tested_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY service
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credential.Record
	for rows.Next() {
		record, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (credential.Record, error) {
	var record credential.Record
	var paramsJSON []byte
	err := row.Scan(&record.UserID, &record.Service, &record.APIKey, &paramsJSON, &record.Status, &record.TestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return credential.Record{}, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &record.ExtraParams); err != nil {
			return credential.Record{}, err
		}
	}
	return record, nil
}

// --- CreditStore ------------------------------------------------------------

func (s *Store) GetCreditAccount(ctx context.Context, userID string) (billing.Account, error) {
	var acct billing.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, credits, plan, updated_at
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&acct.UserID, &acct.Credits, &acct.Plan, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return billing.Account{}, err
	}
	return acct, nil
}

func (s *Store) DebitCredits(ctx context.Context, userID string, amount int) (billing.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Account{}, err
	}
	defer tx.Rollback()

	// Row lock serializes concurrent debits against the same profile.
	var acct billing.Account
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, credits, plan, updated_at
		FROM profiles
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&acct.UserID, &acct.Credits, &acct.Plan, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return billing.Account{}, err
	}

	if acct.Credits < amount {
		return billing.Account{}, storage.ErrInsufficientCredits
	}

	acct.Credits -= amount
	acct.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE profiles
		SET credits = $2, updated_at = $3
		WHERE user_id = $1
	`, userID, acct.Credits, acct.UpdatedAt); err != nil {
		return billing.Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return billing.Account{}, err
	}
	return acct, nil
}

// --- UsageStore -------------------------------------------------------------

func (s *Store) AppendUsage(ctx context.Context, entry billing.UsageEntry) (billing.UsageEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (id, user_id, service, credits_used, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.Service, entry.CreditsUsed, entry.Success, entry.CreatedAt)
	if err != nil {
		return billing.UsageEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string) ([]billing.UsageEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, service, credits_used, success, created_at
		FROM usage_log
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.UsageEntry
	for rows.Next() {
		var entry billing.UsageEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Service, &entry.CreditsUsed, &entry.Success, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
