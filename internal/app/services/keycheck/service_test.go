package keycheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/platform/internal/app/domain/credential"
	"github.com/postpilot/platform/internal/app/storage/memory"
)

// upstream answers any probe: keys starting with "good" pass, everything else
// gets a 401.
func validationUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorized := false
		for _, candidate := range []string{
			r.URL.Query().Get("key"),
			r.URL.Query().Get("token"),
			r.Header.Get("apikey"),
			r.Header.Get("X-Phantombuster-Key"),
		} {
			if len(candidate) >= 4 && candidate[:4] == "good" {
				authorized = true
			}
		}
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer good") || strings.HasPrefix(auth, "Apikey good") {
			authorized = true
		}
		if !authorized {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid key"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"OK"}]}}],"score":0.5,"id":"email_1"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, store *memory.Store) *Service {
	t.Helper()
	server := validationUpstream(t)

	verifier := NewVerifier(server.Client(), nil)
	for _, svc := range credential.Services() {
		verifier.SetEndpoint(svc, server.URL)
	}
	return New(verifier, store, nil)
}

func TestValidateAllPartitionsOutcomes(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store)

	result, err := svc.ValidateAll(context.Background(), "user-1", map[string]KeyInput{
		"gemini":  {Key: "bad-key"},
		"sapling": {Key: "good-key"},
	})
	require.NoError(t, err)

	assert.Equal(t, []credential.Service{credential.ServiceSapling}, result.Verified)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, credential.ServiceGemini, result.Failed[0].Service)
	assert.NotEmpty(t, result.Failed[0].Suggestion)
	assert.Len(t, result.Results, 2)
	assert.Equal(t, Summary{Total: 2, Verified: 1, Failed: 1}, result.Summary)
	assert.True(t, result.Stored)

	// One failing service never affects another's storage.
	stored, err := store.GetCredential(context.Background(), "user-1", credential.ServiceSapling)
	require.NoError(t, err)
	assert.Equal(t, credential.StatusVerified, stored.Status)

	_, err = store.GetCredential(context.Background(), "user-1", credential.ServiceGemini)
	assert.Error(t, err)
}

func TestValidateAllUpsertOverwrites(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store)

	for _, key := range []string{"good-first", "good-second"} {
		result, err := svc.ValidateAll(context.Background(), "user-1", map[string]KeyInput{
			"apify": {Key: key},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Summary.Verified)
	}

	records, err := store.ListCredentials(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good-second", records[0].APIKey)
}

func TestValidateAllStorageFailureKeepsValidation(t *testing.T) {
	server := validationUpstream(t)
	verifier := NewVerifier(server.Client(), nil)
	for _, s := range credential.Services() {
		verifier.SetEndpoint(s, server.URL)
	}
	svc := New(verifier, failingCredentialStore{}, nil)

	result, err := svc.ValidateAll(context.Background(), "user-1", map[string]KeyInput{
		"apify": {Key: "good-key"},
	})
	require.NoError(t, err)

	assert.Equal(t, []credential.Service{credential.ServiceApify}, result.Verified)
	assert.False(t, result.Stored)
	assert.Empty(t, result.Failed)
}

func TestValidateAllRejectsMalformedInput(t *testing.T) {
	svc := newTestService(t, memory.New())

	_, err := svc.ValidateAll(context.Background(), "", map[string]KeyInput{"apify": {Key: "good"}})
	assert.Error(t, err)

	_, err = svc.ValidateAll(context.Background(), "user-1", nil)
	assert.Error(t, err)
}

func TestValidateAllUnknownServiceFailsWithoutProbe(t *testing.T) {
	svc := newTestService(t, memory.New())

	result, err := svc.ValidateAll(context.Background(), "user-1", map[string]KeyInput{
		"apify":   {Key: "good-key"},
		"myspace": {Key: "whatever"},
	})
	require.NoError(t, err)

	assert.Equal(t, []credential.Service{credential.ServiceApify}, result.Verified)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0].Error, "unsupported service")
}

func TestValidateAllTimeoutIsolation(t *testing.T) {
	fast := validationUpstream(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	verifier := NewVerifier(nil, nil)
	verifier.SetTimeout(100 * time.Millisecond)
	verifier.SetEndpoint(credential.ServiceApify, fast.URL)
	verifier.SetEndpoint(credential.ServicePhantom, slow.URL)
	svc := New(verifier, memory.New(), nil)

	start := time.Now()
	result, err := svc.ValidateAll(context.Background(), "user-1", map[string]KeyInput{
		"apify":   {Key: "good-key"},
		"phantom": {Key: "good-key"},
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	// The slow probe times out locally without delaying its sibling; batch
	// latency tracks the slowest bound, not the sum.
	assert.Less(t, elapsed, 350*time.Millisecond)
	assert.Equal(t, []credential.Service{credential.ServiceApify}, result.Verified)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, credential.ServicePhantom, result.Failed[0].Service)
}

type failingCredentialStore struct{}

func (failingCredentialStore) UpsertCredential(ctx context.Context, record credential.Record) (credential.Record, error) {
	return credential.Record{}, errors.New("datastore unavailable")
}

func (failingCredentialStore) GetCredential(ctx context.Context, userID string, service credential.Service) (credential.Record, error) {
	return credential.Record{}, errors.New("datastore unavailable")
}

func (failingCredentialStore) ListCredentials(ctx context.Context, userID string) ([]credential.Record, error) {
	return nil, errors.New("datastore unavailable")
}
