// Package httpapi exposes the platform's REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "github.com/postpilot/platform/internal/app"
	"github.com/postpilot/platform/internal/app/domain/credential"
	publishdomain "github.com/postpilot/platform/internal/app/domain/publish"
	billingsvc "github.com/postpilot/platform/internal/app/services/billing"
	"github.com/postpilot/platform/internal/app/services/keycheck"
	publishsvc "github.com/postpilot/platform/internal/app/services/publish"
	"github.com/postpilot/platform/internal/middleware"
)

// uploadCreditCost is the fixed price of one multi-platform upload.
const uploadCreditCost = 2

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthz)
	mux.Handle("/metrics", promhttp.HandlerFor(application.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/validate-all-keys", h.validateAllKeys)
	mux.HandleFunc("/test-api-key", h.testAPIKey)
	mux.HandleFunc("/upload-content", h.uploadContent)
	mux.HandleFunc("/credits/get", h.creditsGet)
	mux.HandleFunc("/credits/use", h.creditsUse)
	return mux
}

// UnauthenticatedPaths lists endpoints served without a bearer token.
func UnauthenticatedPaths() []string {
	return []string{"/healthz", "/metrics", "/validate-all-keys", "/test-api-key"}
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- key validation ---------------------------------------------------------

func (h *handler) validateAllKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID string                     `json:"userId"`
		Keys   map[string]json.RawMessage `json:"keys"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(payload.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if len(payload.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "keys must contain at least one service")
		return
	}

	keys := make(map[string]keycheck.KeyInput, len(payload.Keys))
	for name, raw := range payload.Keys {
		input, err := decodeKeyInput(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid credential for %s: %v", name, err))
			return
		}
		keys[name] = input
	}

	result, err := h.app.KeyCheck.ValidateAll(r.Context(), payload.UserID, keys)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		keycheck.BatchResult
	}{
		Success:     true,
		BatchResult: result,
	})
}

// decodeKeyInput accepts either a bare secret string or an object holding the
// secret plus auxiliary parameters.
func decodeKeyInput(raw json.RawMessage) (keycheck.KeyInput, error) {
	var secret string
	if err := json.Unmarshal(raw, &secret); err == nil {
		return keycheck.KeyInput{Key: secret}, nil
	}

	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return keycheck.KeyInput{}, fmt.Errorf("expected a string or an object of string fields")
	}

	input := keycheck.KeyInput{Params: make(map[string]string)}
	for k, v := range fields {
		switch k {
		case "key", "apiKey":
			input.Key = v
		default:
			input.Params[k] = v
		}
	}
	if input.Key == "" {
		return keycheck.KeyInput{}, fmt.Errorf("missing key field")
	}
	return input, nil
}

func (h *handler) testAPIKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Service     string `json:"service"`
		APIKey      string `json:"apiKey"`
		SenderEmail string `json:"senderEmail"`
		PhantomID   string `json:"phantomId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	svc, err := credential.ParseService(payload.Service)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.APIKey) == "" {
		writeError(w, http.StatusBadRequest, "apiKey is required")
		return
	}

	aux := map[string]string{}
	if payload.SenderEmail != "" {
		aux[keycheck.ParamSenderEmail] = payload.SenderEmail
	}
	if payload.PhantomID != "" {
		aux[keycheck.ParamPhantomID] = payload.PhantomID
	}

	outcome := h.app.KeyCheck.TestKey(r.Context(), svc, payload.APIKey, aux)

	message := fmt.Sprintf("%s key is valid", svc)
	if !outcome.Valid {
		message = fmt.Sprintf("%s key failed validation", svc)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    outcome.Valid,
		"message":    message,
		"keyPreview": credential.MaskKey(payload.APIKey),
		"result":     outcome,
	})
}

// --- content upload ---------------------------------------------------------

func (h *handler) uploadContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var payload struct {
		FileURL     string   `json:"fileUrl"`
		Description string   `json:"description"`
		Platforms   []string `json:"platforms"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(payload.FileURL) == "" {
		writeError(w, http.StatusUnprocessableEntity, "fileUrl is required")
		return
	}
	if len(payload.Platforms) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "platforms must not be empty")
		return
	}
	parsed, err := url.Parse(strings.TrimSpace(payload.FileURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("fileUrl %q is not a valid http(s) URL", payload.FileURL))
		return
	}
	if len(publishdomain.FilterSupported(payload.Platforms)) == 0 {
		writeError(w, http.StatusUnprocessableEntity, publishsvc.ErrNoSupportedPlatforms.Error())
		return
	}

	// Input is fully validated above; a rejected request must not touch the
	// ledger. Credits are debited strictly before any publish work, and a
	// later publish failure does not refund them.
	if _, err := h.app.Billing.TryDebit(r.Context(), userID, uploadCreditCost, "upload-content"); err != nil {
		switch {
		case errors.Is(err, billingsvc.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
		case errors.Is(err, billingsvc.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user profile not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to authorize operation")
		}
		return
	}

	summary, err := h.app.Publisher.Upload(r.Context(), publishsvc.Request{
		OwnerID:    userID,
		ContentURL: payload.FileURL,
		Caption:    payload.Description,
		Platforms:  payload.Platforms,
	})
	if err != nil {
		if errors.Is(err, publishsvc.ErrNoSupportedPlatforms) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeSuccess(w, http.StatusOK, summary)
}

// --- credits ----------------------------------------------------------------

func (h *handler) creditsGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	acct, err := h.app.Billing.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billingsvc.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load credits")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"credits":   acct.Credits,
		"plan":      acct.Plan,
		"unlimited": acct.Plan.Unlimited(),
	})
}

func (h *handler) creditsUse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var payload struct {
		Amount  int    `json:"amount"`
		Service string `json:"service"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	operation := strings.TrimSpace(payload.Service)
	if operation == "" {
		operation = "manual"
	}

	acct, err := h.app.Billing.TryDebit(r.Context(), userID, payload.Amount, operation)
	if err != nil {
		switch {
		case errors.Is(err, billingsvc.ErrInvalidAmount):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, billingsvc.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
		case errors.Is(err, billingsvc.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user profile not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to use credits")
		}
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"credits":   acct.Credits,
		"plan":      acct.Plan,
		"unlimited": acct.Plan.Unlimited(),
	})
}

// --- helpers ----------------------------------------------------------------

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	return json.NewDecoder(body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}
