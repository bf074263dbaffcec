package keycheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/platform/internal/app/domain/credential"
)

func newTestVerifier(t *testing.T, svc credential.Service, handler http.HandlerFunc) *Verifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	v := NewVerifier(server.Client(), nil)
	v.SetEndpoint(svc, server.URL)
	return v
}

func TestVerifyGeminiValid(t *testing.T) {
	var gotPath, gotKey string
	v := newTestVerifier(t, credential.ServiceGemini, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"OK"}]}}]}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceGemini, "gm-key", nil)
	require.True(t, outcome.Valid, "outcome: %+v", outcome)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "gm-key", gotKey)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Empty(t, outcome.Suggestion)
}

func TestVerifyGeminiEmptyGeneration(t *testing.T) {
	v := newTestVerifier(t, credential.ServiceGemini, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceGemini, "gm-key", nil)
	require.False(t, outcome.Valid)
	assert.Contains(t, outcome.Error, "no generated text")
	assert.NotEmpty(t, outcome.ResponseBody)
}

func TestVerifySaplingRequiresScore(t *testing.T) {
	v := newTestVerifier(t, credential.ServiceSapling, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"echo"}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceSapling, "sap-key", nil)
	require.False(t, outcome.Valid)
	assert.Contains(t, outcome.Error, "no detection score")
}

func TestVerifySaplingValid(t *testing.T) {
	v := newTestVerifier(t, credential.ServiceSapling, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/aidetect", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"score":0.03}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceSapling, "sap-key", nil)
	assert.True(t, outcome.Valid)
}

func TestVerifyResendSenderFallback(t *testing.T) {
	var gotAuth string
	var gotBody struct {
		To []string `json:"to"`
	}
	v := newTestVerifier(t, credential.ServiceResend, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = jsonDecode(r, &gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceResend, "re-key", nil)
	require.True(t, outcome.Valid)
	assert.Equal(t, "Bearer re-key", gotAuth)
	assert.Equal(t, []string{defaultSenderEmail}, gotBody.To)
}

func TestVerifyResendUsesSenderEmail(t *testing.T) {
	var gotBody struct {
		To []string `json:"to"`
	}
	v := newTestVerifier(t, credential.ServiceResend, func(w http.ResponseWriter, r *http.Request) {
		_ = jsonDecode(r, &gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email_456"}`))
	})

	aux := map[string]string{ParamSenderEmail: "owner@example.com"}
	outcome := v.Verify(context.Background(), credential.ServiceResend, "re-key", aux)
	require.True(t, outcome.Valid)
	assert.Equal(t, []string{"owner@example.com"}, gotBody.To)
}

func TestVerifyPhantomWithAndWithoutID(t *testing.T) {
	var gotPath string
	v := newTestVerifier(t, credential.ServicePhantom, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "ph-key", r.Header.Get("X-Phantombuster-Key"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"running"}`))
	})

	outcome := v.Verify(context.Background(), credential.ServicePhantom, "ph-key", nil)
	require.True(t, outcome.Valid)
	assert.Equal(t, "/api/v2/agents/fetch-all", gotPath)

	outcome = v.Verify(context.Background(), credential.ServicePhantom, "ph-key", map[string]string{ParamPhantomID: "42"})
	require.True(t, outcome.Valid)
	assert.Equal(t, "/api/v2/agents/fetch", gotPath)
}

func TestVerifyApifyTokenQuery(t *testing.T) {
	var gotToken string
	v := newTestVerifier(t, credential.ServiceApify, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"items":[]}}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceApify, "ap-token", nil)
	require.True(t, outcome.Valid)
	assert.Equal(t, "ap-token", gotToken)
}

func TestVerifyUploadPostHeader(t *testing.T) {
	var gotAuth string
	v := newTestVerifier(t, credential.ServiceUploadPost, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"profiles":[]}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceUploadPost, "up-key", nil)
	require.True(t, outcome.Valid)
	assert.Equal(t, "Apikey up-key", gotAuth)
}

func TestVerifyUpstreamRejection(t *testing.T) {
	v := newTestVerifier(t, credential.ServiceUndetectable, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	})

	outcome := v.Verify(context.Background(), credential.ServiceUndetectable, "bad", nil)
	require.False(t, outcome.Valid)
	assert.Equal(t, http.StatusUnauthorized, outcome.StatusCode)
	assert.Contains(t, outcome.Error, "status 401")
	assert.Contains(t, outcome.ResponseBody, "bad key")
	assert.NotEmpty(t, outcome.Suggestion)
	assert.NotEmpty(t, outcome.Command)
}

func TestVerifyEmptyKey(t *testing.T) {
	v := NewVerifier(nil, nil)
	outcome := v.Verify(context.Background(), credential.ServiceGemini, "", nil)
	require.False(t, outcome.Valid)
	assert.Equal(t, "api key is empty", outcome.Error)
}

func TestVerifyUnreachableHost(t *testing.T) {
	v := NewVerifier(nil, nil)
	v.SetEndpoint(credential.ServiceApify, "http://127.0.0.1:1")

	outcome := v.Verify(context.Background(), credential.ServiceApify, "ap-token", nil)
	require.False(t, outcome.Valid)
	assert.Contains(t, outcome.Error, "request failed")
	assert.NotEmpty(t, outcome.Suggestion)
}

func jsonDecode(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
