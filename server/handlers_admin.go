package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/telemetry"
)

type sayResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HandleAdminSay sends {"text": "..."} to the room, chunked like console input.
func (h *Handlers) HandleAdminSay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	outcomes := h.bot.Say(r.Context(), text)
	results := make([]sayResult, 0, len(outcomes))
	failed := false
	for _, o := range outcomes {
		res := sayResult{Status: o.Status.String(), Reason: o.Reason}
		if o.Err != nil {
			res.Error = o.Err.Error()
		}
		failed = failed || o.Status == danmaku.StatusFailed
		results = append(results, res)
	}
	status := http.StatusOK
	if failed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"chunks": results})
}

// HandleAdminRosterRefresh reloads the guard roster from the platform.
func (h *Handlers) HandleAdminRosterRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.RefreshRoster(r.Context()); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("roster refresh failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "roster_size": h.bot.Status().Session.RosterSize})
}

// HandleAdminReload re-reads configuration and applies it.
func (h *Handlers) HandleAdminReload(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		http.Error(w, "reload not available", http.StatusNotImplemented)
		return
	}
	if err := h.reload(r.Context()); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("config reload failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// HandleAdminEvents lists journaled events. Query: kind, limit.
func (h *Handlers) HandleAdminEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = 50
	}
	rows, err := h.journal.RecentEvents(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": rows})
}
