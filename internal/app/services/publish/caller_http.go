package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	domain "github.com/postpilot/platform/internal/app/domain/publish"
	"github.com/postpilot/platform/internal/httputil"
	"github.com/postpilot/platform/pkg/logger"
)

// maxPublishBodyBytes limits how much upstream response is read per call.
const maxPublishBodyBytes = 64 << 10

// HTTPCaller publishes through the upload-post HTTP API, one call per
// platform.
type HTTPCaller struct {
	client   *http.Client
	endpoint string
	apiKey   string
	log      *logger.Logger
}

var _ Caller = (*HTTPCaller)(nil)

// NewHTTPCaller constructs a caller for the given API endpoint.
func NewHTTPCaller(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPCaller, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("publish endpoint required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse publish endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.NewDefault("publish-http")
	}
	return &HTTPCaller{
		client:   client,
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// Publish issues one upload call for one platform. Upstream failure is
// returned as a failed Result, not an error.
func (c *HTTPCaller) Publish(ctx context.Context, req Request, platform domain.Platform) (domain.Result, error) {
	payload := map[string]interface{}{
		"user":      req.OwnerID,
		"platform":  []string{string(platform)},
		"title":     req.Caption,
		"video_url": req.ContentURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Result{}, fmt.Errorf("marshal publish payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/upload", bytes.NewReader(body))
	if err != nil {
		return domain.Result{}, fmt.Errorf("build publish request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Apikey "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.Result{}, fmt.Errorf("publish to %s: %w", platform, err)
	}
	defer resp.Body.Close()

	respBody, truncated, err := httputil.ReadAllWithLimit(resp.Body, maxPublishBodyBytes)
	if err != nil {
		return domain.Result{}, fmt.Errorf("read publish response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if truncated {
			msg += "...(truncated)"
		}
		return domain.Result{
			Platform: platform,
			Status:   "failed",
			Error:    fmt.Sprintf("upload API returned status %d: %s", resp.StatusCode, msg),
		}, nil
	}

	var decoded struct {
		Success *bool  `json:"success"`
		PostID  string `json:"post_id"`
		PostURL string `json:"post_url"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		// A 2xx with an unparseable body still counts as accepted.
		c.log.WithField("platform", platform).WithError(err).Warn("publish response not decoded")
		return domain.Result{Platform: platform, Success: true, Status: "published"}, nil
	}

	if decoded.Success != nil && !*decoded.Success {
		errMsg := decoded.Error
		if errMsg == "" {
			errMsg = "upload API reported failure"
		}
		return domain.Result{Platform: platform, Status: "failed", Error: errMsg}, nil
	}

	return domain.Result{
		Platform: platform,
		Success:  true,
		Status:   "published",
		PostID:   decoded.PostID,
		URL:      decoded.PostURL,
	}, nil
}
