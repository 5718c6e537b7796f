// Package autherr is the error taxonomy for the auth/session lifecycle.
// Errors are built once at the HTTP boundary and carried unchanged to guards and templates.
package autherr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindRateLimit      Kind = "rate_limit"
	KindNetwork        Kind = "network"
	KindPrecondition   Kind = "precondition"
	KindBusy           Kind = "busy"
	KindServer         Kind = "server"
)

// User-facing messages for statuses that override whatever the API said.
const (
	MsgAuthentication = "Authentication failed. Please login again."
	MsgAuthorization  = "You don't have permission to perform this action."
	MsgNotFound       = "The requested resource was not found."
	MsgRateLimit      = "Too many requests. Please try again later."
	MsgNetwork        = "Network error. Please check your connection."
	MsgBusy           = "Another request is already in progress. Please wait."
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrPrecondition   = &Error{Kind: KindPrecondition}
	ErrBusy           = &Error{Kind: KindBusy}
	ErrServer         = &Error{Kind: KindServer}
)

// Error is a classified auth failure.
type Error struct {
	Kind    Kind
	Message string
	// Code is a machine-readable reason such as REQUIRED or EMAIL_ALREADY_VERIFIED.
	Code string
	// Fields names the offending input fields for validation failures.
	Fields []string
	// Status is the HTTP status from the remote API; 0 for locally raised errors.
	Status   int
	Endpoint string
	// Details carries the API's details/validationErrors payload, if any.
	Details       map[string]any
	Timestamp     time.Time
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Endpoint != "" {
		msg = e.Endpoint + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.CorrelationID != "" {
		return false
	}
	return t.Kind == e.Kind
}

// Field returns the first offending field, or "".
func (e *Error) Field() string {
	if e == nil || len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0]
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func newError(kind Kind, message string) *Error {
	return &Error{
		Kind:          kind,
		Message:       message,
		Timestamp:     time.Now().UTC(),
		CorrelationID: ulid.Make().String(),
	}
}

// Validation is a locally detected input problem naming the offending fields.
func Validation(message, code string, fields ...string) *Error {
	e := newError(KindValidation, message)
	e.Code = code
	e.Fields = fields
	return e
}

// Precondition is a locally detected state problem (e.g. already verified).
func Precondition(message, code string) *Error {
	e := newError(KindPrecondition, message)
	e.Code = code
	return e
}

// RateLimited is raised locally when the visitor exceeds the send limit.
func RateLimited() *Error {
	return newError(KindRateLimit, MsgRateLimit)
}

// Busy wraps a cancelled wait for the session's operation slot.
func Busy(err error) *Error {
	e := newError(KindBusy, MsgBusy)
	e.Err = err
	return e
}

// New returns an error of the given kind with a fresh correlation id.
func New(kind Kind, message, code string) *Error {
	e := newError(kind, message)
	e.Code = code
	return e
}

// apiBody is the error object returned by the remote API.
type apiBody struct {
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	Details          json.RawMessage `json:"details"`
	ValidationErrors json.RawMessage `json:"validationErrors"`
	Code             string          `json:"code"`
	ErrorID          string          `json:"errorId"`
}

// KindForStatus maps a non-2xx status to a Kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return KindPrecondition
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}

// FromResponse classifies a non-2xx API response. Status-specific messages take
// precedence over the body's message; otherwise the body's message is kept and
// an empty message is left for the caller's operation default.
func FromResponse(endpoint string, status int, body []byte) *Error {
	e := newError(KindForStatus(status), "")
	e.Status = status
	e.Endpoint = endpoint

	var b apiBody
	if len(body) > 0 && json.Unmarshal(body, &b) == nil {
		e.Message = strings.TrimSpace(b.Message)
		if e.Message == "" {
			e.Message = strings.TrimSpace(b.Error)
		}
		e.Code = b.Code
		if b.ErrorID != "" {
			e.CorrelationID = b.ErrorID
		}
		e.Details = map[string]any{}
		addRaw(e.Details, "details", b.Details)
		addRaw(e.Details, "validationErrors", b.ValidationErrors)
		if len(e.Details) == 0 {
			e.Details = nil
		}
		e.Fields = fieldsFromDetails(b.Details)
		if e.Code == "" {
			e.Code = codeFromDetails(b.Details)
		}
	}

	switch status {
	case http.StatusUnauthorized:
		e.Message = MsgAuthentication
	case http.StatusForbidden:
		e.Message = MsgAuthorization
	case http.StatusNotFound:
		e.Message = MsgNotFound
	case http.StatusTooManyRequests:
		e.Message = MsgRateLimit
	}
	return e
}

func addRaw(dst map[string]any, key string, raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var v any
	if json.Unmarshal(raw, &v) == nil {
		dst[key] = v
	}
}

type detailFields struct {
	Field         string   `json:"field"`
	Fields        []string `json:"fields"`
	MissingFields []string `json:"missingFields"`
	Code          string   `json:"code"`
}

func fieldsFromDetails(raw json.RawMessage) []string {
	var d detailFields
	if len(raw) == 0 || json.Unmarshal(raw, &d) != nil {
		return nil
	}
	var out []string
	if d.Field != "" {
		out = append(out, d.Field)
	}
	out = append(out, d.Fields...)
	out = append(out, d.MissingFields...)
	return out
}

func codeFromDetails(raw json.RawMessage) string {
	var d detailFields
	if len(raw) == 0 || json.Unmarshal(raw, &d) != nil {
		return ""
	}
	return d.Code
}

// FromTransport classifies a failure to obtain any response.
func FromTransport(endpoint string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	e := newError(KindNetwork, MsgNetwork)
	e.Endpoint = endpoint
	e.Err = err
	return e
}

// Classify returns err as an *Error, filling an empty message with defaultMessage.
// Unclassified errors become Server errors; context cancellation becomes Network.
func Classify(err error, defaultMessage string) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Message != "" {
			return ae
		}
		cp := *ae
		cp.Message = defaultMessage
		return &cp
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e := newError(KindNetwork, MsgNetwork)
		e.Err = err
		return e
	}
	e := newError(KindServer, defaultMessage)
	e.Err = err
	return e
}
