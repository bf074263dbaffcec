// Package storage defines the persistence interfaces used by the application
// services.
package storage

import (
	"context"
	"errors"

	"github.com/postpilot/platform/internal/app/domain/billing"
	"github.com/postpilot/platform/internal/app/domain/credential"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInsufficientCredits is returned by DebitCredits when the balance cannot
// cover the requested amount. The balance is left untouched.
var ErrInsufficientCredits = errors.New("insufficient credits")

// CredentialStore persists verified third-party credentials.
type CredentialStore interface {
	// UpsertCredential inserts or overwrites the record for
	// (record.UserID, record.Service). Last write wins; no history is kept.
	UpsertCredential(ctx context.Context, record credential.Record) (credential.Record, error)
	GetCredential(ctx context.Context, userID string, service credential.Service) (credential.Record, error)
	ListCredentials(ctx context.Context, userID string) ([]credential.Record, error)
}

// CreditStore persists credit accounts.
type CreditStore interface {
	GetCreditAccount(ctx context.Context, userID string) (billing.Account, error)

	// DebitCredits atomically subtracts amount from the user's balance.
	// The check-and-subtract sequence is serialized per account: two
	// concurrent debits never jointly overdraw. Returns
	// ErrInsufficientCredits without mutation when the balance is short.
	DebitCredits(ctx context.Context, userID string, amount int) (billing.Account, error)
}

// UsageStore appends usage audit entries. Entries are immutable once written.
type UsageStore interface {
	AppendUsage(ctx context.Context, entry billing.UsageEntry) (billing.UsageEntry, error)
	ListUsage(ctx context.Context, userID string) ([]billing.UsageEntry, error)
}
