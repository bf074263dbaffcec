// Package keycheck validates third-party API credentials and persists the
// ones that pass a live probe.
package keycheck

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/postpilot/platform/internal/app/domain/credential"
	"github.com/postpilot/platform/internal/app/metrics"
	"github.com/postpilot/platform/internal/app/storage"
	"github.com/postpilot/platform/pkg/logger"
)

// KeyInput is the credential payload submitted for one service.
type KeyInput struct {
	Key    string            `json:"key"`
	Params map[string]string `json:"params,omitempty"`
}

// Failure summarizes one failed validation for the response payload.
type Failure struct {
	Service    credential.Service `json:"service"`
	Error      string             `json:"error"`
	Suggestion string             `json:"suggestion,omitempty"`
}

// Summary carries the batch counts.
type Summary struct {
	Total    int `json:"total"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
}

// BatchResult is the aggregate outcome of validating one batch of keys.
// Stored reports whether every verified credential was persisted; a storage
// failure never downgrades a validated credential back to failed.
type BatchResult struct {
	Verified []credential.Service `json:"verified"`
	Failed   []Failure            `json:"failed"`
	Results  []credential.Outcome `json:"results"`
	Stored   bool                 `json:"storedInSupabase"`
	Summary  Summary              `json:"summary"`
}

// Service validates batches of credentials concurrently.
type Service struct {
	verifier    *Verifier
	credentials storage.CredentialStore
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// New constructs the validation service.
func New(verifier *Verifier, credentials storage.CredentialStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("keycheck")
	}
	return &Service{
		verifier:    verifier,
		credentials: credentials,
		log:         log,
	}
}

// AttachMetrics enables probe instrumentation.
func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Verifier exposes the underlying verifier, mainly for endpoint overrides in
// tests and local development.
func (s *Service) Verifier() *Verifier {
	return s.verifier
}

// TestKey probes a single credential without persisting anything.
func (s *Service) TestKey(ctx context.Context, svc credential.Service, key string, aux map[string]string) credential.Outcome {
	outcome := s.verifier.Verify(ctx, svc, key, aux)
	s.metrics.RecordProbe(string(svc), outcome.Valid)
	return outcome
}

// ValidateAll probes every submitted credential concurrently, waits for all
// outcomes, and upserts a credential record for each verified service.
// Services absent from keys are skipped entirely.
func (s *Service) ValidateAll(ctx context.Context, userID string, keys map[string]KeyInput) (BatchResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return BatchResult{}, fmt.Errorf("user id is required")
	}
	if len(keys) == 0 {
		return BatchResult{}, fmt.Errorf("at least one credential is required")
	}

	outcomes := make(map[credential.Service]credential.Outcome, len(keys))
	inputs := make(map[credential.Service]KeyInput, len(keys))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, input := range keys {
		svc, err := credential.ParseService(name)
		if err != nil {
			// Unknown service names get a failure outcome without a probe.
			unknown := credential.Service(strings.TrimSpace(name))
			mu.Lock()
			outcomes[unknown] = credential.Outcome{Service: unknown, Error: err.Error()}
			mu.Unlock()
			continue
		}
		inputs[svc] = input

		wg.Add(1)
		go func(svc credential.Service, input KeyInput) {
			defer wg.Done()
			outcome := s.verifier.Verify(ctx, svc, input.Key, input.Params)
			s.metrics.RecordProbe(string(svc), outcome.Valid)
			mu.Lock()
			outcomes[svc] = outcome
			mu.Unlock()
		}(svc, input)
	}
	wg.Wait()

	result := BatchResult{Stored: true}
	now := time.Now().UTC()

	// Stable order: known services first in enum order, then any unknown
	// names from the request.
	ordered := make([]credential.Service, 0, len(outcomes))
	for _, svc := range credential.Services() {
		if _, ok := outcomes[svc]; ok {
			ordered = append(ordered, svc)
		}
	}
	for svc := range outcomes {
		if _, err := credential.ParseService(string(svc)); err != nil {
			ordered = append(ordered, svc)
		}
	}

	for _, svc := range ordered {
		outcome := outcomes[svc]
		result.Results = append(result.Results, outcome)

		if !outcome.Valid {
			result.Failed = append(result.Failed, Failure{
				Service:    svc,
				Error:      outcome.Error,
				Suggestion: outcome.Suggestion,
			})
			continue
		}
		result.Verified = append(result.Verified, svc)

		record := credential.Record{
			UserID:      userID,
			Service:     svc,
			APIKey:      inputs[svc].Key,
			ExtraParams: inputs[svc].Params,
			Status:      credential.StatusVerified,
			TestedAt:    now,
		}
		if _, err := s.credentials.UpsertCredential(ctx, record); err != nil {
			result.Stored = false
			s.log.WithField("user_id", userID).
				WithField("store_service", svc).
				WithError(err).Warn("verified credential not persisted")
		}
	}

	result.Summary = Summary{
		Total:    len(result.Results),
		Verified: len(result.Verified),
		Failed:   len(result.Failed),
	}

	s.log.WithField("user_id", userID).
		WithField("verified", result.Summary.Verified).
		WithField("failed", result.Summary.Failed).
		Info("credential batch validated")
	return result, nil
}
