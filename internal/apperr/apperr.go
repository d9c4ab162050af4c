// Package apperr defines the error taxonomy used to turn external failures
// into stable, user-safe replies.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies a failure. Each kind maps to exactly one user-facing message.
type Kind int

const (
	// KindUnclassified covers anything not otherwise recognized.
	KindUnclassified Kind = iota
	// KindMissingLocation means a weather request carried no usable location.
	KindMissingLocation
	// KindProviderNotFound means the weather provider does not know the location.
	KindProviderNotFound
	// KindProviderBadRequest means the weather provider rejected the query.
	KindProviderBadRequest
	// KindProviderTransport covers network and HTTP failures talking to the weather provider.
	KindProviderTransport
	// KindProviderParse means the weather payload did not have the expected shape.
	KindProviderParse
	// KindTimeout means an external call did not finish before the deadline.
	KindTimeout
	// KindEngine covers any failure of the conversational engine.
	KindEngine
)

var kindNames = map[Kind]string{
	KindUnclassified:       "unclassified",
	KindMissingLocation:    "missing_location",
	KindProviderNotFound:   "provider_not_found",
	KindProviderBadRequest: "provider_bad_request",
	KindProviderTransport:  "provider_transport_error",
	KindProviderParse:      "provider_parse_error",
	KindTimeout:            "timeout",
	KindEngine:             "conversational_engine_error",
}

// User-facing messages. These never vary between invocations of the same kind.
const (
	MsgMissingLocation   = "Please specify a location."
	MsgProviderNotFound  = "Location not found."
	MsgProviderBadQuery  = "Invalid Query"
	MsgProviderTransport = "I encountered an error getting the weather forecast. Please try again."
	MsgProviderParse     = "I couldn't read the weather data right now. Please try again later."
	MsgTimeout           = "I apologize, but the response is taking longer than expected. " +
		"Please try asking your question again or break it into smaller parts."
	MsgEngine       = "I encountered an error processing your request. Please try again."
	MsgUnclassified = "An error occurred. Please try again later."
)

var userMessages = map[Kind]string{
	KindUnclassified:       MsgUnclassified,
	KindMissingLocation:    MsgMissingLocation,
	KindProviderNotFound:   MsgProviderNotFound,
	KindProviderBadRequest: MsgProviderBadQuery,
	KindProviderTransport:  MsgProviderTransport,
	KindProviderParse:      MsgProviderParse,
	KindTimeout:            MsgTimeout,
	KindEngine:             MsgEngine,
}

// String returns the stable snake_case name used in logs and API payloads.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnclassified]
}

// UserMessage returns the fixed reply shown to the user for this kind.
func (k Kind) UserMessage() string {
	if msg, ok := userMessages[k]; ok {
		return msg
	}
	return MsgUnclassified
}

// Error carries a Kind together with the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error whose cause is a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf classifies any error. Deadline expiry maps to KindTimeout; nil and
// unknown errors map to KindUnclassified.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnclassified
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnclassified
}

// Report logs the internal detail of err and returns its kind with the
// user-safe message. Internal detail is never part of the returned text.
func Report(logger *slog.Logger, err error, attrs ...any) (Kind, string) {
	if logger == nil {
		logger = slog.Default()
	}
	kind := KindOf(err)
	args := append([]any{"kind", kind.String(), "error", err}, attrs...)

	switch kind {
	case KindMissingLocation, KindProviderNotFound, KindProviderBadRequest:
		logger.Info("request could not be served", args...)
	case KindProviderParse:
		logger.Error("weather payload did not match expected shape, upstream contract changed", args...)
	case KindTimeout:
		logger.Warn("external call exceeded deadline", args...)
	default:
		logger.Error("external call failed", args...)
	}
	return kind, kind.UserMessage()
}
