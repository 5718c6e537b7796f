package telemetry

import "time"

// Auth event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SourceStorefront tags events emitted by the storefront web server.
const SourceStorefront = "storefront"

// Event is one auth event: an operation a visitor ran against their session and how it ended.
type Event struct {
	Type      string `json:"eventType"`
	VisitorID string `json:"visitorId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Outcome   string `json:"outcome"`
	// ErrorKind is the autherr kind on failure.
	ErrorKind     string            `json:"errorKind,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Source        string            `json:"source,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}
