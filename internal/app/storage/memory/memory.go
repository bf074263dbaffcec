// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/postpilot/platform/internal/app/domain/billing"
	"github.com/postpilot/platform/internal/app/domain/credential"
	"github.com/postpilot/platform/internal/app/storage"
)

type credentialKey struct {
	userID  string
	service credential.Service
}

// Store is an in-memory implementation of the storage interfaces.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	credentials map[credentialKey]credential.Record
	accounts    map[string]billing.Account
	usage       map[string][]billing.UsageEntry
}

var _ storage.CredentialStore = (*Store)(nil)
var _ storage.CreditStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		credentials: make(map[credentialKey]credential.Record),
		accounts:    make(map[string]billing.Account),
		usage:       make(map[string][]billing.UsageEntry),
	}
}

func (s *Store) allocateID() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("mem-%d", id)
}

// --- CredentialStore --------------------------------------------------------

func (s *Store) UpsertCredential(ctx context.Context, record credential.Record) (credential.Record, error) {
	if record.UserID == "" || record.Service == "" {
		return credential.Record{}, fmt.Errorf("user id and service are required")
	}
	if record.TestedAt.IsZero() {
		record.TestedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credentialKey{record.UserID, record.Service}] = record
	return record, nil
}

func (s *Store) GetCredential(ctx context.Context, userID string, service credential.Service) (credential.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.credentials[credentialKey{userID, service}]
	if !ok {
		return credential.Record{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]credential.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []credential.Record
	for _, svc := range credential.Services() {
		if record, ok := s.credentials[credentialKey{userID, svc}]; ok {
			out = append(out, record)
		}
	}
	return out, nil
}

// --- CreditStore ------------------------------------------------------------

// SeedAccount installs a credit account, overwriting any existing one.
func (s *Store) SeedAccount(acct billing.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.UserID] = acct
}

func (s *Store) GetCreditAccount(ctx context.Context, userID string) (billing.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return billing.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) DebitCredits(ctx context.Context, userID string, amount int) (billing.Account, error) {
	if amount <= 0 {
		return billing.Account{}, fmt.Errorf("amount must be positive")
	}

	// The whole check-and-subtract runs under the write lock, so concurrent
	// debits against one account are serialized.
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return billing.Account{}, storage.ErrNotFound
	}
	if acct.Credits < amount {
		return billing.Account{}, storage.ErrInsufficientCredits
	}
	acct.Credits -= amount
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[userID] = acct
	return acct, nil
}

// --- UsageStore -------------------------------------------------------------

func (s *Store) AppendUsage(ctx context.Context, entry billing.UsageEntry) (billing.UsageEntry, error) {
	if entry.UserID == "" {
		return billing.UsageEntry{}, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = s.allocateID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.usage[entry.UserID] = append(s.usage[entry.UserID], entry)
	return entry, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string) ([]billing.UsageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.usage[userID]
	out := make([]billing.UsageEntry, len(entries))
	copy(out, entries)
	return out, nil
}
