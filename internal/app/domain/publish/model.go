// Package publish defines the multi-platform distribution domain model.
package publish

import "strings"

// Platform is a supported publishing destination.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{
		PlatformLinkedIn,
		PlatformTwitter,
		PlatformFacebook,
		PlatformInstagram,
		PlatformYouTube,
	}
}

// FilterSupported keeps the supported platforms from names, preserving input
// order and dropping duplicates and unknown entries.
func FilterSupported(names []string) []Platform {
	seen := make(map[Platform]bool, len(names))
	var out []Platform
	for _, name := range names {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		for _, p := range Platforms() {
			if trimmed == string(p) && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Result is the outcome of one publish call against one platform.
type Result struct {
	Platform Platform `json:"platform"`
	Success  bool     `json:"success"`
	PostID   string   `json:"postId,omitempty"`
	URL      string   `json:"url,omitempty"`
	Error    string   `json:"error,omitempty"`
	Status   string   `json:"status"`
}

// Aggregate status labels for a Summary.
const (
	StatusAllSuccessful  = "all_successful"
	StatusPartialSuccess = "partial_success"
	StatusAllFailed      = "all_failed"
)

// Summary aggregates per-platform results for one upload. Success is true
// when at least one platform accepted the content.
type Summary struct {
	Success    bool                `json:"success"`
	Status     string              `json:"status"`
	Total      int                 `json:"total"`
	Successful int                 `json:"successful"`
	Failed     int                 `json:"failed"`
	Results    map[Platform]Result `json:"platformResults"`
}

// Summarize builds a Summary from per-platform results.
func Summarize(results map[Platform]Result) Summary {
	s := Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	switch {
	case s.Successful == s.Total && s.Total > 0:
		s.Status = StatusAllSuccessful
	case s.Successful > 0:
		s.Status = StatusPartialSuccess
	default:
		s.Status = StatusAllFailed
	}
	s.Success = s.Successful > 0
	return s
}
