// Package app wires the platform services together.
package app

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postpilot/platform/internal/app/metrics"
	billingsvc "github.com/postpilot/platform/internal/app/services/billing"
	"github.com/postpilot/platform/internal/app/services/keycheck"
	publishsvc "github.com/postpilot/platform/internal/app/services/publish"
	"github.com/postpilot/platform/internal/app/storage"
	"github.com/postpilot/platform/internal/app/storage/memory"
	"github.com/postpilot/platform/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Credentials storage.CredentialStore
	Credits     storage.CreditStore
	Usage       storage.UsageStore
}

// Config carries the tunables for the orchestration services.
type Config struct {
	ProbeTimeout    time.Duration
	PublishTimeout  time.Duration
	PublishEndpoint string
	PublishAPIKey   string
}

// Application ties the services together. The datastore client is injected
// through Stores and owned by the process entry point.
type Application struct {
	log *logger.Logger

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	KeyCheck  *keycheck.Service
	Billing   *billingsvc.Service
	Publisher *publishsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Credentials == nil {
		stores.Credentials = mem
	}
	if stores.Credits == nil {
		stores.Credits = mem
	}
	if stores.Usage == nil {
		stores.Usage = mem
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	verifier := keycheck.NewVerifier(nil, log)
	if cfg.ProbeTimeout > 0 {
		verifier.SetTimeout(cfg.ProbeTimeout)
	}
	keycheckService := keycheck.New(verifier, stores.Credentials, log)
	keycheckService.AttachMetrics(m)

	billingService := billingsvc.New(stores.Credits, stores.Usage, log)
	billingService.AttachMetrics(m)

	var caller publishsvc.Caller
	if cfg.PublishEndpoint != "" {
		httpCaller, err := publishsvc.NewHTTPCaller(nil, cfg.PublishEndpoint, cfg.PublishAPIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure publish caller: %w", err)
		}
		caller = httpCaller
	} else {
		log.Warn("publish endpoint not set; platform uploads will fail")
		caller = publishsvc.CallerFunc(nil)
	}
	publisher := publishsvc.New(caller, log)
	if cfg.PublishTimeout > 0 {
		publisher.SetTimeout(cfg.PublishTimeout)
	}
	publisher.AttachMetrics(m)

	return &Application{
		log:       log,
		Registry:  registry,
		Metrics:   m,
		KeyCheck:  keycheckService,
		Billing:   billingService,
		Publisher: publisher,
	}, nil
}
