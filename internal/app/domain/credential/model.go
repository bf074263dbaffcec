// Package credential defines the third-party credential domain model.
package credential

import (
	"fmt"
	"strings"
	"time"
)

// Service identifies one of the external services a user can connect.
type Service string

const (
	ServiceGemini       Service = "gemini"
	ServiceUndetectable Service = "undetectable"
	ServiceSapling      Service = "sapling"
	ServiceResend       Service = "resend"
	ServicePhantom      Service = "phantom"
	ServiceApify        Service = "apify"
	ServiceUploadPost   Service = "uploadPost"
)

// Services lists every supported service in a stable order.
func Services() []Service {
	return []Service{
		ServiceGemini,
		ServiceUndetectable,
		ServiceSapling,
		ServiceResend,
		ServicePhantom,
		ServiceApify,
		ServiceUploadPost,
	}
}

// ParseService resolves a service name, case-insensitively.
func ParseService(name string) (Service, error) {
	trimmed := strings.TrimSpace(name)
	for _, svc := range Services() {
		if strings.EqualFold(trimmed, string(svc)) {
			return svc, nil
		}
	}
	return "", fmt.Errorf("unsupported service %q", name)
}

// Status reflects whether a stored credential passed its last live probe.
type Status string

const (
	StatusVerified   Status = "verified"
	StatusUnverified Status = "unverified"
)

// Record is one stored credential for one (user, service) pair. At most one
// live record exists per pair; later verification overwrites earlier.
type Record struct {
	UserID      string            `json:"user_id"`
	Service     Service           `json:"service"`
	APIKey      string            `json:"api_key"`
	ExtraParams map[string]string `json:"extra_params,omitempty"`
	Status      Status            `json:"status"`
	TestedAt    time.Time         `json:"tested_at"`
}

// Outcome is the result of a single live probe against a service. It is
// ephemeral; only valid outcomes become Records.
type Outcome struct {
	Service      Service `json:"service"`
	Valid        bool    `json:"valid"`
	Error        string  `json:"error,omitempty"`
	Suggestion   string  `json:"suggestion,omitempty"`
	StatusCode   int     `json:"statusCode,omitempty"`
	Command      string  `json:"command,omitempty"`
	ResponseBody string  `json:"responseBody,omitempty"`
}

// MaskKey renders a secret safe for logs and diagnostics, keeping only a
// short prefix.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-2:]
}
