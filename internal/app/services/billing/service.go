// Package billing gates billable operations against the user's credit
// balance and records usage audit entries.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/postpilot/platform/internal/app/domain/billing"
	"github.com/postpilot/platform/internal/app/metrics"
	"github.com/postpilot/platform/internal/app/storage"
	"github.com/postpilot/platform/pkg/logger"
)

// ErrUserNotFound is returned when no credit account exists for the user.
var ErrUserNotFound = errors.New("user profile not found")

// ErrInvalidAmount is returned for non-positive debit amounts.
var ErrInvalidAmount = errors.New("amount must be a positive integer")

// ErrInsufficientCredits mirrors the storage sentinel for callers of this
// package.
var ErrInsufficientCredits = storage.ErrInsufficientCredits

// Service is the credits ledger.
type Service struct {
	accounts storage.CreditStore
	usage    storage.UsageStore
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// New constructs the ledger service.
func New(accounts storage.CreditStore, usage storage.UsageStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("billing")
	}
	return &Service{
		accounts: accounts,
		usage:    usage,
		log:      log,
	}
}

// AttachMetrics enables debit instrumentation.
func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Balance returns the user's credit account.
func (s *Service) Balance(ctx context.Context, userID string) (billing.Account, error) {
	acct, err := s.accounts.GetCreditAccount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return billing.Account{}, ErrUserNotFound
	}
	if err != nil {
		return billing.Account{}, fmt.Errorf("load credit account: %w", err)
	}
	return acct, nil
}

// TryDebit authorizes an operation costing amount credits and records a usage
// audit entry. Non-free plans are unlimited: the balance is never touched,
// but the usage entry is still written for telemetry. Free plans get an
// atomic, per-account serialized debit; an unaffordable debit fails with
// ErrInsufficientCredits and writes nothing.
//
// Credits are not refunded if the operation later fails downstream; callers
// accept pay-for-the-attempt semantics.
func (s *Service) TryDebit(ctx context.Context, userID string, amount int, operation string) (billing.Account, error) {
	if amount <= 0 {
		return billing.Account{}, ErrInvalidAmount
	}

	acct, err := s.Balance(ctx, userID)
	if err != nil {
		return billing.Account{}, err
	}

	if !acct.Plan.Unlimited() {
		acct, err = s.accounts.DebitCredits(ctx, userID, amount)
		if errors.Is(err, storage.ErrNotFound) {
			return billing.Account{}, ErrUserNotFound
		}
		if errors.Is(err, storage.ErrInsufficientCredits) {
			return billing.Account{}, ErrInsufficientCredits
		}
		if err != nil {
			return billing.Account{}, fmt.Errorf("debit credits: %w", err)
		}
		s.metrics.RecordDebit(amount)
	}

	entry := billing.UsageEntry{
		UserID:      userID,
		Service:     operation,
		CreditsUsed: amount,
		Success:     true,
	}
	if _, err := s.usage.AppendUsage(ctx, entry); err != nil {
		// The debit is already committed; a lost audit entry must not fail
		// the operation.
		s.log.WithField("user_id", userID).
			WithField("operation", operation).
			WithError(err).Warn("usage audit entry not written")
	}

	s.log.WithField("user_id", userID).
		WithField("operation", operation).
		WithField("credits_used", amount).
		WithField("unlimited", acct.Plan.Unlimited()).
		Info("operation authorized")
	return acct, nil
}
