package database

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/platform/internal/app/domain/billing"
	"github.com/postpilot/platform/internal/app/domain/credential"
	"github.com/postpilot/platform/internal/app/storage"
)

func newTestRepository(t *testing.T, handler http.HandlerFunc) *Repository {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, ServiceKey: "service-key"})
	require.NoError(t, err)
	return NewRepository(client)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{URL: "", ServiceKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "https://example.supabase.co", ServiceKey: ""})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "://bad", ServiceKey: "k"})
	assert.Error(t, err)
}

func TestUpsertCredentialSendsMergeDuplicates(t *testing.T) {
	var gotPath, gotPrefer, gotConflict, gotAuth string
	var gotRow apiKeyRow
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPrefer = r.Header.Get("Prefer")
		gotConflict = r.URL.Query().Get("on_conflict")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRow))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{}]`))
	})

	record, err := repo.UpsertCredential(context.Background(), credential.Record{
		UserID:  "u1",
		Service: credential.ServiceGemini,
		APIKey:  "gm-key",
		Status:  credential.StatusVerified,
	})
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/api_keys", gotPath)
	assert.Equal(t, "resolution=merge-duplicates,return=representation", gotPrefer)
	assert.Equal(t, "user_id,service", gotConflict)
	assert.Equal(t, "Bearer service-key", gotAuth)
	assert.Equal(t, "u1", gotRow.UserID)
	assert.Equal(t, "gemini", gotRow.Service)
	assert.Equal(t, "verified", gotRow.Status)
	assert.False(t, record.TestedAt.IsZero())
}

func TestGetCredentialNotFound(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "eq.apify", r.URL.Query().Get("service"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := repo.GetCredential(context.Background(), "u1", credential.ServiceApify)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetCreditAccount(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"user_id":"u1","credits":12,"plan":"free"}]`))
	})

	acct, err := repo.GetCreditAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 12, acct.Credits)
	assert.Equal(t, billing.PlanFree, acct.Plan)
}

func TestDebitCreditsConditionalUpdate(t *testing.T) {
	var patchCredits string
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"user_id":"u1","credits":10,"plan":"free"}]`))
		case http.MethodPatch:
			patchCredits = r.URL.Query().Get("credits")
			_, _ = w.Write([]byte(`[{"user_id":"u1","credits":8,"plan":"free"}]`))
		}
	})

	acct, err := repo.DebitCredits(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 8, acct.Credits)
	// The update is guarded on the balance that was read.
	assert.Equal(t, "eq.10", patchCredits)
}

func TestDebitCreditsRetriesOnLostRace(t *testing.T) {
	patches := 0
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			// Second read observes the balance moved by the competing writer.
			if patches == 0 {
				_, _ = w.Write([]byte(`[{"user_id":"u1","credits":10,"plan":"free"}]`))
			} else {
				_, _ = w.Write([]byte(`[{"user_id":"u1","credits":7,"plan":"free"}]`))
			}
		case http.MethodPatch:
			patches++
			if patches == 1 {
				// No row matched the conditional update.
				_, _ = w.Write([]byte(`[]`))
				return
			}
			assert.Equal(t, "eq.7", r.URL.Query().Get("credits"))
			_, _ = w.Write([]byte(`[{"user_id":"u1","credits":5,"plan":"free"}]`))
		}
	})

	acct, err := repo.DebitCredits(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, patches)
	assert.Equal(t, 5, acct.Credits)
}

func TestDebitCreditsInsufficient(t *testing.T) {
	patched := false
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patched = true
		}
		_, _ = w.Write([]byte(`[{"user_id":"u1","credits":1,"plan":"free"}]`))
	})

	_, err := repo.DebitCredits(context.Background(), "u1", 2)
	assert.ErrorIs(t, err, storage.ErrInsufficientCredits)
	assert.False(t, patched, "an insufficient balance must not be written to")
}

func TestDebitCreditsGivesUpAfterContention(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"user_id":"u1","credits":10,"plan":"free"}]`))
		case http.MethodPatch:
			_, _ = w.Write([]byte(`[]`))
		}
	})

	_, err := repo.DebitCredits(context.Background(), "u1", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contention")
}

func TestAppendUsageGeneratesID(t *testing.T) {
	var gotRow usageRow
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/usage_log", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRow))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{}]`))
	})

	entry, err := repo.AppendUsage(context.Background(), billing.UsageEntry{
		UserID:      "u1",
		Service:     "upload-content",
		CreditsUsed: 2,
		Success:     true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, entry.ID, gotRow.ID)
	assert.Equal(t, 2, gotRow.CreditsUsed)
	assert.False(t, gotRow.CreatedAt.IsZero())
}

func TestRequestSurfacesAPIErrors(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"permission denied"}`))
	})

	_, err := repo.GetCreditAccount(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestListUsageOrdersByCreatedAt(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "created_at.asc", r.URL.Query().Get("order"))
		_, _ = w.Write([]byte(`[
			{"id":"a","user_id":"u1","service":"manual","credits_used":1,"success":true,"created_at":"2026-01-02T00:00:00Z"},
			{"id":"b","user_id":"u1","service":"upload-content","credits_used":2,"success":true,"created_at":"2026-01-03T00:00:00Z"}
		]`))
	})

	entries, err := repo.ListUsage(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.True(t, entries[1].CreatedAt.After(entries[0].CreatedAt))
}
