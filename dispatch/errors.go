package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/telemetry"
	"github.com/onnwee/danmaku-reactor/turing"
)

var (
	// ErrLookup wraps profile and roster fetch failures.
	ErrLookup = errors.New("lookup failed")
	// ErrTransport wraps a failed post to the room.
	ErrTransport = errors.New("room post failed")
	// ErrNoCollaborator is returned when a job needs a collaborator the platform lacks.
	ErrNoCollaborator = errors.New("collaborator not configured")
)

// ErrorClass groups errors by how the dispatcher reacts to them.
type ErrorClass int

const (
	ErrorClassUnknown ErrorClass = iota
	// ErrorClassTransport is a failed room post. Not retried.
	ErrorClassTransport
	// ErrorClassGatewayExhausted means every AI key is drained; fallback text is used.
	ErrorClassGatewayExhausted
	// ErrorClassGatewayRequest is a network or decoding failure talking to the AI backend.
	ErrorClassGatewayRequest
	// ErrorClassLookup is a failed profile or roster fetch. Stale data is kept.
	ErrorClassLookup
	// ErrorClassFatal is a permanent loss of the room connection.
	ErrorClassFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassTransport:
		return "transport_failure"
	case ErrorClassGatewayExhausted:
		return "gateway_exhausted"
	case ErrorClassGatewayRequest:
		return "gateway_request_failure"
	case ErrorClassLookup:
		return "lookup_failure"
	case ErrorClassFatal:
		return "fatal_connection_loss"
	default:
		return "unknown"
	}
}

// Level is the log level errors of this class are reported at.
func (ec ErrorClass) Level() slog.Level {
	switch ec {
	case ErrorClassTransport, ErrorClassFatal, ErrorClassUnknown:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Classify maps err onto an ErrorClass. Sentinels are checked first, then a
// few well known transport messages for errors from outside the module.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClassUnknown
	case errors.Is(err, event.ErrFatalConnection):
		return ErrorClassFatal
	case errors.Is(err, turing.ErrExhausted):
		return ErrorClassGatewayExhausted
	case errors.Is(err, turing.ErrRequest):
		return ErrorClassGatewayRequest
	case errors.Is(err, ErrLookup), errors.Is(err, ErrNoCollaborator):
		return ErrorClassLookup
	case errors.Is(err, ErrTransport):
		return ErrorClassTransport
	}
	lower := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") {
		return ErrorClassLookup
	}
	return ErrorClassUnknown
}

// report logs err at its class level and counts it.
func report(ctx context.Context, log *slog.Logger, msg string, err error, attrs ...any) ErrorClass {
	class := Classify(err)
	log.Log(ctx, class.Level(), msg, append(attrs, slog.String("class", class.String()), slog.Any("err", err))...)
	telemetry.RecordError(class.String())
	return class
}
