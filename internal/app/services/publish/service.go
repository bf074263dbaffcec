// Package publish fans content out to the supported social platforms.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/postpilot/platform/internal/app/domain/publish"
	"github.com/postpilot/platform/internal/app/metrics"
	"github.com/postpilot/platform/pkg/logger"
)

// ErrNoSupportedPlatforms is returned when the requested platform list is
// empty after filtering to the supported set.
var ErrNoSupportedPlatforms = errors.New("no supported platforms in request")

// defaultCallTimeout bounds a single platform publish call.
const defaultCallTimeout = 45 * time.Second

// Request describes one content artifact to distribute.
type Request struct {
	OwnerID    string
	ContentURL string
	Caption    string
	Platforms  []string
}

// Caller performs the publish call for a single platform.
type Caller interface {
	Publish(ctx context.Context, req Request, platform publish.Platform) (publish.Result, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request, platform publish.Platform) (publish.Result, error)

func (f CallerFunc) Publish(ctx context.Context, req Request, platform publish.Platform) (publish.Result, error) {
	if f == nil {
		return publish.Result{}, errors.New("publish caller not configured")
	}
	return f(ctx, req, platform)
}

// Service distributes content to every requested platform independently.
type Service struct {
	caller  Caller
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New constructs the publisher.
func New(caller Caller, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("publish")
	}
	return &Service{
		caller:  caller,
		timeout: defaultCallTimeout,
		log:     log,
	}
}

// AttachMetrics enables publish instrumentation.
func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// WithCaller swaps the platform caller. Call before serving traffic.
func (s *Service) WithCaller(caller Caller) {
	s.caller = caller
}

// SetTimeout overrides the per-platform call timeout.
func (s *Service) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Upload publishes the content to every supported platform in the request
// concurrently. One platform's failure never aborts or delays the others;
// the summary reports success when at least one platform accepted the
// content.
func (s *Service) Upload(ctx context.Context, req Request) (publish.Summary, error) {
	parsed, err := url.Parse(strings.TrimSpace(req.ContentURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return publish.Summary{}, fmt.Errorf("content url %q is not a valid http(s) URL", req.ContentURL)
	}

	platforms := publish.FilterSupported(req.Platforms)
	if len(platforms) == 0 {
		return publish.Summary{}, ErrNoSupportedPlatforms
	}

	results := make(map[publish.Platform]publish.Result, len(platforms))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, platform := range platforms {
		wg.Add(1)
		go func(platform publish.Platform) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			result, err := s.caller.Publish(callCtx, req, platform)
			if err != nil {
				result = publish.Result{
					Platform: platform,
					Error:    err.Error(),
					Status:   "failed",
				}
			}
			result.Platform = platform
			if result.Status == "" {
				if result.Success {
					result.Status = "published"
				} else {
					result.Status = "failed"
				}
			}
			s.metrics.RecordPublish(string(platform), result.Success)

			mu.Lock()
			results[platform] = result
			mu.Unlock()
		}(platform)
	}
	wg.Wait()

	summary := publish.Summarize(results)
	s.log.WithField("owner_id", req.OwnerID).
		WithField("total", summary.Total).
		WithField("successful", summary.Successful).
		WithField("failed", summary.Failed).
		Info("content distributed")
	return summary, nil
}
