package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/db"
	"github.com/onnwee/danmaku-reactor/dispatch"
)

// Bot is the part of the dispatcher the HTTP API drives.
type Bot interface {
	Status() dispatch.Status
	Say(ctx context.Context, text string) []danmaku.Outcome
	RefreshRoster(ctx context.Context) error
}

// EventLog lists journaled events.
type EventLog interface {
	Ping(ctx context.Context) error
	RecentEvents(ctx context.Context, kind string, limit int) ([]db.EventRow, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	bot     Bot
	journal EventLog
	reload  func(ctx context.Context) error
	checks  []Check
}

// NewHandlers creates Handlers. journal and reload may be nil.
func NewHandlers(bot Bot, journal EventLog, reload func(context.Context) error, checks ...Check) *Handlers {
	h := &Handlers{bot: bot, journal: journal, reload: reload, checks: checks}
	if journal != nil {
		h.checks = append(h.checks, Check{Name: "journal", Fn: journal.Ping})
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
