package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot/platform/internal/app/domain/billing"
	"github.com/postpilot/platform/internal/app/domain/credential"
	"github.com/postpilot/platform/internal/app/storage"
)

// debitRetries bounds the compare-and-swap loop in DebitCredits. PostgREST
// offers no row locks, so the conditional update is retried on conflict.
const debitRetries = 3

// Repository implements the storage interfaces over the Supabase REST API.
type Repository struct {
	client *Client
}

var _ storage.CredentialStore = (*Repository)(nil)
var _ storage.CreditStore = (*Repository)(nil)
var _ storage.UsageStore = (*Repository)(nil)

// NewRepository creates a repository backed by the given client.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

type apiKeyRow struct {
	UserID      string            `json:"user_id"`
	Service     string            `json:"service"`
	APIKey      string            `json:"api_key"`
	ExtraParams map[string]string `json:"extra_params,omitempty"`
	Status      string            `json:"status"`
	TestedAt    time.Time         `json:"tested_at"`
}

func (r apiKeyRow) toRecord() credential.Record {
	return credential.Record{
		UserID:      r.UserID,
		Service:     credential.Service(r.Service),
		APIKey:      r.APIKey,
		ExtraParams: r.ExtraParams,
		Status:      credential.Status(r.Status),
		TestedAt:    r.TestedAt,
	}
}

// --- CredentialStore --------------------------------------------------------

func (r *Repository) UpsertCredential(ctx context.Context, record credential.Record) (credential.Record, error) {
	if record.UserID == "" || record.Service == "" {
		return credential.Record{}, fmt.Errorf("user id and service are required")
	}
	if record.TestedAt.IsZero() {
		record.TestedAt = time.Now().UTC()
	}

	row := apiKeyRow{
		UserID:      record.UserID,
		Service:     string(record.Service),
		APIKey:      record.APIKey,
		ExtraParams: record.ExtraParams,
		Status:      string(record.Status),
		TestedAt:    record.TestedAt,
	}

	query := "on_conflict=" + url.QueryEscape("user_id,service")
	_, err := r.client.request(ctx, "POST", "api_keys", row, query,
		"resolution=merge-duplicates,return=representation")
	if err != nil {
		return credential.Record{}, fmt.Errorf("upsert credential: %w", err)
	}
	return record, nil
}

func (r *Repository) GetCredential(ctx context.Context, userID string, service credential.Service) (credential.Record, error) {
	query := "user_id=eq." + url.QueryEscape(userID) +
		"&service=eq." + url.QueryEscape(string(service)) + "&limit=1"
	data, err := r.client.request(ctx, "GET", "api_keys", nil, query, "")
	if err != nil {
		return credential.Record{}, fmt.Errorf("get credential: %w", err)
	}

	var rows []apiKeyRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return credential.Record{}, fmt.Errorf("unmarshal api_keys: %w", err)
	}
	if len(rows) == 0 {
		return credential.Record{}, storage.ErrNotFound
	}
	return rows[0].toRecord(), nil
}

func (r *Repository) ListCredentials(ctx context.Context, userID string) ([]credential.Record, error) {
	query := "user_id=eq." + url.QueryEscape(userID) + "&order=service.asc"
	data, err := r.client.request(ctx, "GET", "api_keys", nil, query, "")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	var rows []apiKeyRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal api_keys: %w", err)
	}
	out := make([]credential.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// --- CreditStore ------------------------------------------------------------

type profileRow struct {
	UserID    string    `json:"user_id"`
	Credits   int       `json:"credits"`
	Plan      string    `json:"plan"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r profileRow) toAccount() billing.Account {
	return billing.Account{
		UserID:    r.UserID,
		Credits:   r.Credits,
		Plan:      billing.Plan(r.Plan),
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *Repository) GetCreditAccount(ctx context.Context, userID string) (billing.Account, error) {
	query := "user_id=eq." + url.QueryEscape(userID) + "&limit=1"
	data, err := r.client.request(ctx, "GET", "profiles", nil, query, "")
	if err != nil {
		return billing.Account{}, fmt.Errorf("get profile: %w", err)
	}

	var rows []profileRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return billing.Account{}, fmt.Errorf("unmarshal profiles: %w", err)
	}
	if len(rows) == 0 {
		return billing.Account{}, storage.ErrNotFound
	}
	return rows[0].toAccount(), nil
}

func (r *Repository) DebitCredits(ctx context.Context, userID string, amount int) (billing.Account, error) {
	if amount <= 0 {
		return billing.Account{}, fmt.Errorf("amount must be positive")
	}

	// Compare-and-swap on the observed balance: the update only matches when
	// credits still equal the value just read, so concurrent debits cannot
	// jointly overdraw. A lost race shows up as zero updated rows.
	for attempt := 0; attempt < debitRetries; attempt++ {
		acct, err := r.GetCreditAccount(ctx, userID)
		if err != nil {
			return billing.Account{}, err
		}
		if acct.Credits < amount {
			return billing.Account{}, storage.ErrInsufficientCredits
		}

		updated := acct
		updated.Credits = acct.Credits - amount
		updated.UpdatedAt = time.Now().UTC()

		query := "user_id=eq." + url.QueryEscape(userID) +
			"&credits=eq." + strconv.Itoa(acct.Credits)
		body := map[string]interface{}{
			"credits":    updated.Credits,
			"updated_at": updated.UpdatedAt,
		}
		data, err := r.client.request(ctx, "PATCH", "profiles", body, query, "return=representation")
		if err != nil {
			return billing.Account{}, fmt.Errorf("debit credits: %w", err)
		}

		var rows []profileRow
		if err := json.Unmarshal(data, &rows); err != nil {
			return billing.Account{}, fmt.Errorf("unmarshal profiles: %w", err)
		}
		if len(rows) > 0 {
			return rows[0].toAccount(), nil
		}
		// Balance moved between read and update; retry with fresh state.
	}
	return billing.Account{}, fmt.Errorf("debit credits: balance contention for user %s", userID)
}

// --- UsageStore -------------------------------------------------------------

type usageRow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Service     string    `json:"service"`
	CreditsUsed int       `json:"credits_used"`
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *Repository) AppendUsage(ctx context.Context, entry billing.UsageEntry) (billing.UsageEntry, error) {
	if entry.UserID == "" {
		return billing.UsageEntry{}, fmt.Errorf("user id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	row := usageRow{
		ID:          entry.ID,
		UserID:      entry.UserID,
		Service:     entry.Service,
		CreditsUsed: entry.CreditsUsed,
		Success:     entry.Success,
		CreatedAt:   entry.CreatedAt,
	}
	if _, err := r.client.request(ctx, "POST", "usage_log", row, "", ""); err != nil {
		return billing.UsageEntry{}, fmt.Errorf("append usage: %w", err)
	}
	return entry, nil
}

func (r *Repository) ListUsage(ctx context.Context, userID string) ([]billing.UsageEntry, error) {
	query := "user_id=eq." + url.QueryEscape(userID) + "&order=created_at.asc"
	data, err := r.client.request(ctx, "GET", "usage_log", nil, query, "")
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	var rows []usageRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal usage_log: %w", err)
	}
	out := make([]billing.UsageEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, billing.UsageEntry{
			ID:          row.ID,
			UserID:      row.UserID,
			Service:     row.Service,
			CreditsUsed: row.CreditsUsed,
			Success:     row.Success,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}
