package keycheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/postpilot/platform/internal/app/domain/credential"
	"github.com/postpilot/platform/internal/httputil"
	"github.com/postpilot/platform/pkg/logger"
)

// defaultProbeTimeout bounds a single verification probe.
const defaultProbeTimeout = 10 * time.Second

// maxProbeBodyBytes limits how much upstream response body is echoed back in
// an Outcome.
const maxProbeBodyBytes = 16 << 10

// Auxiliary parameter names accepted alongside a secret.
const (
	ParamSenderEmail = "senderEmail"
	ParamPhantomID   = "phantomId"
)

// defaultSenderEmail receives the Resend test email when the caller supplies
// no senderEmail.
const defaultSenderEmail = "delivered@resend.dev"

var defaultEndpoints = map[credential.Service]string{
	credential.ServiceGemini:       "https://generativelanguage.googleapis.com",
	credential.ServiceUndetectable: "https://humanize.undetectable.ai",
	credential.ServiceSapling:      "https://api.sapling.ai",
	credential.ServiceResend:       "https://api.resend.com",
	credential.ServicePhantom:      "https://api.phantombuster.com",
	credential.ServiceApify:        "https://api.apify.com",
	credential.ServiceUploadPost:   "https://api.upload-post.com",
}

// probe describes how to verify one service: how to build the single
// side-effect-minimal request, how to judge a 2xx body, and what to tell the
// user when the probe fails.
type probe struct {
	build      func(ctx context.Context, base, key string, aux map[string]string) (*http.Request, error)
	check      func(body []byte) error
	suggestion string
	command    func(base, key string, aux map[string]string) string
}

// Verifier performs live credential probes against the external services.
type Verifier struct {
	client    *http.Client
	endpoints map[credential.Service]string
	timeout   time.Duration
	log       *logger.Logger
}

// NewVerifier constructs a verifier. A nil client gets a default one; per-call
// deadlines come from the verifier timeout, not the client.
func NewVerifier(client *http.Client, log *logger.Logger) *Verifier {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.NewDefault("keycheck")
	}
	endpoints := make(map[credential.Service]string, len(defaultEndpoints))
	for svc, base := range defaultEndpoints {
		endpoints[svc] = base
	}
	return &Verifier{
		client:    client,
		endpoints: endpoints,
		timeout:   defaultProbeTimeout,
		log:       log,
	}
}

// SetTimeout overrides the per-probe timeout.
func (v *Verifier) SetTimeout(d time.Duration) {
	if d > 0 {
		v.timeout = d
	}
}

// SetEndpoint overrides the base URL probed for a service.
func (v *Verifier) SetEndpoint(svc credential.Service, base string) {
	v.endpoints[svc] = base
}

// Verify issues exactly one probe for the service and classifies the result.
// It never returns an error: every failure path resolves to an Outcome with
// Valid=false.
func (v *Verifier) Verify(ctx context.Context, svc credential.Service, key string, aux map[string]string) credential.Outcome {
	outcome := credential.Outcome{Service: svc}

	if key == "" {
		outcome.Error = "api key is empty"
		return outcome
	}

	p, ok := probes[svc]
	if !ok {
		outcome.Error = fmt.Sprintf("unsupported service %q", svc)
		return outcome
	}

	base := v.endpoints[svc]
	outcome.Suggestion = p.suggestion
	outcome.Command = p.command(base, key, aux)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := p.build(ctx, base, key, aux)
	if err != nil {
		outcome.Error = fmt.Sprintf("build probe request: %v", err)
		return outcome
	}

	resp, err := v.client.Do(req)
	if err != nil {
		outcome.Error = fmt.Sprintf("request failed: %v", err)
		v.log.WithField("probe_service", svc).
			WithField("key", credential.MaskKey(key)).
			WithError(err).Warn("credential probe failed")
		return outcome
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	body, truncated, err := httputil.ReadAllWithLimit(resp.Body, maxProbeBodyBytes)
	if err != nil {
		outcome.Error = fmt.Sprintf("read response: %v", err)
		return outcome
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome.Error = fmt.Sprintf("%s returned status %d", svc, resp.StatusCode)
		outcome.ResponseBody = string(body)
		if truncated {
			outcome.ResponseBody += "...(truncated)"
		}
		return outcome
	}

	if p.check != nil {
		if err := p.check(body); err != nil {
			outcome.Error = err.Error()
			outcome.ResponseBody = string(body)
			return outcome
		}
	}

	outcome.Valid = true
	outcome.Suggestion = ""
	return outcome
}

func jsonRequest(ctx context.Context, method, url string, payload interface{}) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

const probeText = "This is a short sample paragraph used to verify API access. It carries no meaningful content."

var probes = map[credential.Service]probe{
	credential.ServiceGemini: {
		build: func(ctx context.Context, base, key string, _ map[string]string) (*http.Request, error) {
			endpoint := fmt.Sprintf("%s/v1beta/models/gemini-2.0-flash:generateContent?key=%s", base, url.QueryEscape(key))
			return jsonRequest(ctx, http.MethodPost, endpoint, map[string]interface{}{
				"contents": []map[string]interface{}{
					{"parts": []map[string]string{{"text": "Reply with the single word OK."}}},
				},
				"generationConfig": map[string]int{"maxOutputTokens": 10},
			})
		},
		check: func(body []byte) error {
			var payload struct {
				Candidates []struct {
					Content struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					} `json:"content"`
				} `json:"candidates"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return fmt.Errorf("decode gemini response: %v", err)
			}
			for _, c := range payload.Candidates {
				for _, part := range c.Content.Parts {
					if part.Text != "" {
						return nil
					}
				}
			}
			return fmt.Errorf("gemini returned no generated text")
		},
		suggestion: "Verify the key in Google AI Studio and make sure the Generative Language API is enabled for the key's project.",
		command: func(base, key string, _ map[string]string) string {
			return fmt.Sprintf(`curl -s -X POST '%s/v1beta/models/gemini-2.0-flash:generateContent?key=%s' -H 'Content-Type: application/json' -d '{"contents":[{"parts":[{"text":"Reply with the single word OK."}]}]}'`, base, key)
		},
	},

	credential.ServiceUndetectable: {
		build: func(ctx context.Context, base, key string, _ map[string]string) (*http.Request, error) {
			req, err := jsonRequest(ctx, http.MethodPost, base+"/submit", map[string]string{
				"content":     probeText,
				"readability": "High School",
				"purpose":     "General Writing",
				"strength":    "Balanced",
			})
			if err != nil {
				return nil, err
			}
			req.Header.Set("apikey", key)
			return req, nil
		},
		suggestion: "Check the key under My Account on undetectable.ai and make sure humanizer credits are available.",
		command: func(base, key string, _ map[string]string) string {
			return fmt.Sprintf(`curl -s -X POST '%s/submit' -H 'apikey: %s' -H 'Content-Type: application/json' -d '{"content":"%s"}'`, base, key, probeText)
		},
	},

	credential.ServiceSapling: {
		build: func(ctx context.Context, base, key string, _ map[string]string) (*http.Request, error) {
			return jsonRequest(ctx, http.MethodPost, base+"/api/v1/aidetect", map[string]string{
				"key":  key,
				"text": probeText,
			})
		},
		check: func(body []byte) error {
			var payload struct {
				Score *float64 `json:"score"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return fmt.Errorf("decode sapling response: %v", err)
			}
			if payload.Score == nil {
				return fmt.Errorf("sapling returned no detection score")
			}
			return nil
		},
		suggestion: "Confirm the key in the Sapling dashboard; the AI detection endpoint needs a production key.",
		command: func(base, key string, _ map[string]string) string {
			return fmt.Sprintf(`curl -s -X POST '%s/api/v1/aidetect' -H 'Content-Type: application/json' -d '{"key":"%s","text":"%s"}'`, base, key, probeText)
		},
	},

	credential.ServiceResend: {
		// The probe sends a real test email; that is the accepted cost of
		// verifying a sending key.
		build: func(ctx context.Context, base, key string, aux map[string]string) (*http.Request, error) {
			to := aux[ParamSenderEmail]
			if to == "" {
				to = defaultSenderEmail
			}
			req, err := jsonRequest(ctx, http.MethodPost, base+"/emails", map[string]interface{}{
				"from":    "Postpilot <onboarding@resend.dev>",
				"to":      []string{to},
				"subject": "API key verification",
				"html":    "<p>Your Resend API key is working.</p>",
			})
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+key)
			return req, nil
		},
		check: func(body []byte) error {
			var payload struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return fmt.Errorf("decode resend response: %v", err)
			}
			if payload.ID == "" {
				return fmt.Errorf("resend accepted the request but returned no email id")
			}
			return nil
		},
		suggestion: "Make sure the key has sending access in Resend and the sender domain is verified; pass senderEmail to control the test recipient.",
		command: func(base, key string, aux map[string]string) string {
			to := aux[ParamSenderEmail]
			if to == "" {
				to = defaultSenderEmail
			}
			return fmt.Sprintf(`curl -s -X POST '%s/emails' -H 'Authorization: Bearer %s' -H 'Content-Type: application/json' -d '{"from":"onboarding@resend.dev","to":["%s"],"subject":"API key verification","html":"<p>test</p>"}'`, base, key, to)
		},
	},

	credential.ServicePhantom: {
		build: func(ctx context.Context, base, key string, aux map[string]string) (*http.Request, error) {
			endpoint := base + "/api/v2/agents/fetch-all"
			if id := aux[ParamPhantomID]; id != "" {
				endpoint = base + "/api/v2/agents/fetch?id=" + url.QueryEscape(id)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("X-Phantombuster-Key", key)
			return req, nil
		},
		suggestion: "Check the key under workspace settings on phantombuster.com; pass phantomId to probe one specific Phantom.",
		command: func(base, key string, aux map[string]string) string {
			if id := aux[ParamPhantomID]; id != "" {
				return fmt.Sprintf(`curl -s '%s/api/v2/agents/fetch?id=%s' -H 'X-Phantombuster-Key: %s'`, base, id, key)
			}
			return fmt.Sprintf(`curl -s '%s/api/v2/agents/fetch-all' -H 'X-Phantombuster-Key: %s'`, base, key)
		},
	},

	credential.ServiceApify: {
		build: func(ctx context.Context, base, key string, _ map[string]string) (*http.Request, error) {
			endpoint := fmt.Sprintf("%s/v2/acts?token=%s&limit=1", base, url.QueryEscape(key))
			return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		},
		suggestion: "Verify the token in the Apify Console under Settings, Integrations.",
		command: func(base, key string, _ map[string]string) string {
			return fmt.Sprintf(`curl -s '%s/v2/acts?token=%s&limit=1'`, base, key)
		},
	},

	credential.ServiceUploadPost: {
		build: func(ctx context.Context, base, key string, _ map[string]string) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/uploadposts/users", nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Apikey "+key)
			return req, nil
		},
		suggestion: "Verify the key in the upload-post dashboard and connect at least one social profile before publishing.",
		command: func(base, key string, _ map[string]string) string {
			return fmt.Sprintf(`curl -s '%s/api/uploadposts/users' -H 'Authorization: Apikey %s'`, base, key)
		},
	},
}
