package session

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"storefront/internal/apiclient"
	"storefront/internal/telemetry"
	"storefront/internal/tokenstore"
)

// ClientConfig configures ClientFactory.
type ClientConfig struct {
	BaseURL    string
	BackendURL string
	Timeout    time.Duration
	// Tokens holds every visitor's credential, scoped by visitor id.
	Tokens tokenstore.Backend
	Events telemetry.EventEmitter
	Logger *zap.Logger
	// Transport is the base transport for API calls; nil uses http.DefaultTransport.
	Transport   http.RoundTripper
	OTPSendRate int
}

// ClientFactory returns a Factory that gives each visitor its own API client, cookie
// jar and token scope. A failed refresh signs the visitor's session out.
func ClientFactory(cfg ClientConfig) Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(visitorID string) (*Session, error) {
		tokens := cfg.Tokens.Scoped(visitorID)
		var s *Session
		client, err := apiclient.New(apiclient.Config{
			BaseURL:    cfg.BaseURL,
			BackendURL: cfg.BackendURL,
			Timeout:    cfg.Timeout,
			Tokens:     tokens,
			Base:       cfg.Transport,
			Logger:     logger.With(zap.String("visitor_id", visitorID)),
			OnExpired: func() {
				if s != nil {
					s.Expire()
				}
			},
		})
		if err != nil {
			return nil, err
		}
		s = New(Options{
			VisitorID:   visitorID,
			API:         client,
			Tokens:      tokens,
			Events:      cfg.Events,
			Logger:      logger,
			OTPSendRate: cfg.OTPSendRate,
		})
		return s, nil
	}
}
