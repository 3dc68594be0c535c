package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/session"
	"github.com/onnwee/danmaku-reactor/telemetry"
	"github.com/onnwee/danmaku-reactor/turing"
)

func jobContext(ctx context.Context, job string) context.Context {
	telemetry.RecordJobRun(job)
	return telemetry.WithCorrelation(ctx, job+"-"+uuid.NewString())
}

// DailyRollover refreshes the guard roster and resets the AI retry budget.
func (d *Dispatcher) DailyRollover(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx = jobContext(ctx, "daily_rollover")
	telemetry.LoggerWithCorr(ctx).Info("新的一天到来了，执行cleanup任务")

	if err := d.refreshRoster(ctx); errors.Is(err, ErrNoCollaborator) {
		telemetry.LoggerWithCorr(ctx).Debug("no roster source; skipping roster refresh")
	}
	if d.ai != nil {
		d.ai.ResetRetryBudget()
	}
}

// ScheduledNotice posts one randomly chosen notice while the room is live.
func (d *Dispatcher) ScheduledNotice(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx = jobContext(ctx, "scheduled_notice")
	if !d.state.IsStreaming() {
		return
	}
	opts := d.options()
	notices := make([]string, 0, len(opts.Notices))
	for _, n := range opts.Notices {
		if n = strings.TrimSpace(n); n != "" {
			notices = append(notices, n)
		}
	}
	if len(notices) == 0 {
		return
	}
	content := notices[d.pick(len(notices))]
	telemetry.LoggerWithCorr(ctx).Info("定时弹幕已触发", slog.String("text", content))
	d.sendText(ctx, content, opts.ChunkDelay)
}

// RefreshRoster fetches the guard roster on demand.
func (d *Dispatcher) RefreshRoster(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshRoster(jobContext(ctx, "roster_refresh"))
}

// Say sends free text from the console or the admin API.
func (d *Dispatcher) Say(ctx context.Context, text string) []danmaku.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	return d.sendText(ctx, text, d.options().ChunkDelay)
}

// RuntimeConfig is the subset of configuration applied without a restart.
type RuntimeConfig struct {
	Options
	SenderEnabled bool
	MinInterval   time.Duration
	Templates     danmaku.Templates
	AIEnabled     bool
	Dedupe        bool
}

// ApplyConfig pushes reloaded settings into the dispatcher and its collaborators.
func (d *Dispatcher) ApplyConfig(rc RuntimeConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.optsMu.Lock()
	d.opts = rc.Options
	d.optsMu.Unlock()

	d.sender.SetEnabled(rc.SenderEnabled)
	d.sender.SetMinInterval(rc.MinInterval)
	d.sender.SetTemplates(rc.Templates)
	if d.ai != nil {
		d.ai.SetEnabled(rc.AIEnabled)
	}
	d.state.SetDedupe(rc.Dedupe)
	slog.Info("configuration applied",
		slog.Bool("danmaku_enabled", rc.SenderEnabled),
		slog.Duration("min_interval", rc.MinInterval),
		slog.Bool("ai_enabled", rc.AIEnabled),
		slog.Bool("welcome_once", rc.Dedupe),
		slog.Int("notices", len(rc.Notices)))
}

// Status is a point-in-time report for the status endpoint.
type Status struct {
	RoomID         int64            `json:"room_id"`
	Session        session.Snapshot `json:"session"`
	SenderEnabled  bool             `json:"danmaku_enabled"`
	LastSentAt     *time.Time       `json:"last_sent_at,omitempty"`
	AI             *turing.State    `json:"ai,omitempty"`
	EventsHandled  uint64           `json:"events_handled"`
	QuestionPrefix string           `json:"question_prefix"`
}

// Status reads component state without waiting for an in-flight reaction.
func (d *Dispatcher) Status() Status {
	st := Status{
		RoomID:         d.options().RoomID,
		Session:        d.state.Snapshot(),
		SenderEnabled:  d.sender.Enabled(),
		EventsHandled:  d.handled.Load(),
		QuestionPrefix: d.options().QuestionPrefix,
	}
	if last := d.sender.LastSentAt(); !last.IsZero() {
		st.LastSentAt = &last
	}
	if d.ai != nil {
		ai := d.ai.State()
		st.AI = &ai
	}
	return st
}
