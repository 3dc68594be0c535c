package danmaku

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/danmaku-reactor/telemetry"
)

// Options configures a Sender.
type Options struct {
	Enabled     bool
	MinInterval time.Duration
	Templates   Templates
	Recorder    Recorder
}

// Sender posts danmaku while enforcing a minimum cadence between unrelated messages.
type Sender struct {
	poster   Poster
	recorder Recorder

	mu          sync.Mutex
	enabled     bool
	minInterval time.Duration
	lastSentAt  time.Time
	templates   Templates

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSender returns a Sender delivering through p.
func NewSender(p Poster, opts Options) *Sender {
	return &Sender{
		poster:      p,
		recorder:    opts.Recorder,
		enabled:     opts.Enabled,
		minInterval: opts.MinInterval,
		templates:   opts.Templates.withDefaults(),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetEnabled toggles delivery. A disabled sender suppresses every message silently.
func (s *Sender) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// SetMinInterval changes the cadence applied to non-important messages.
func (s *Sender) SetMinInterval(d time.Duration) {
	s.mu.Lock()
	s.minInterval = d
	s.mu.Unlock()
}

// SetTemplates replaces the acknowledgement templates. Empty fields keep their defaults.
func (s *Sender) SetTemplates(t Templates) {
	s.mu.Lock()
	s.templates = t.withDefaults()
	s.mu.Unlock()
}

// LastSentAt returns the time of the last successful post (zero if none).
func (s *Sender) LastSentAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSentAt
}

// Enabled reports whether delivery is on.
func (s *Sender) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Send posts one message. Non-important messages within MinInterval of the
// last successful post are suppressed without touching the transport. A
// transport failure leaves lastSentAt unchanged so a retry is not throttled.
func (s *Sender) Send(ctx context.Context, msg Message) Outcome {
	out := s.send(ctx, msg)
	telemetry.RecordSendOutcome(out.Status.String())
	if s.recorder != nil {
		s.recorder.RecordSend(ctx, msg, out)
	}
	return out
}

func (s *Sender) send(ctx context.Context, msg Message) Outcome {
	log := telemetry.LoggerWithCorr(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		log.Debug("danmaku disabled; message dropped", slog.String("text", msg.Text))
		return Outcome{Status: StatusSuppressed, Reason: "disabled"}
	}
	now := s.now()
	elapsed := now.Sub(s.lastSentAt)
	if !msg.Important && elapsed < s.minInterval {
		log.Warn("danmaku suppressed: interval too short",
			slog.String("text", msg.Text),
			slog.Int64("elapsed_ms", elapsed.Milliseconds()),
			slog.Int64("min_interval_ms", s.minInterval.Milliseconds()))
		return Outcome{Status: StatusSuppressed, Reason: "rate limited"}
	}
	if err := s.poster.Post(ctx, msg); err != nil {
		log.Error("danmaku send failed", slog.String("text", msg.Text), slog.Any("err", err))
		return Outcome{Status: StatusFailed, Reason: err.Error(), Err: err}
	}
	if now.After(s.lastSentAt) {
		s.lastSentAt = now
	}
	log.Info("danmaku sent", slog.String("text", msg.Text), slog.Bool("important", msg.Important))
	return Outcome{Status: StatusSent}
}

// SendText splits text into MaxChunkLen pieces and sends each as an important
// scrolling message, waiting delay between consecutive chunks. Empty text sends
// nothing. If ctx is canceled during a wait the remaining chunks are skipped.
func (s *Sender) SendText(ctx context.Context, text string, delay time.Duration) []Outcome {
	chunks := Chunk(text)
	outcomes := make([]Outcome, 0, len(chunks))
	for i, c := range chunks {
		if i > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				telemetry.LoggerWithCorr(ctx).Warn("chunked send interrupted",
					slog.Int("sent_chunks", i), slog.Int("total_chunks", len(chunks)), slog.Any("err", err))
				break
			}
		}
		outcomes = append(outcomes, s.Send(ctx, Message{
			Text:      c,
			Placement: PlacementScroll,
			Emphasis:  EmphasisNormal,
			Important: true,
		}))
	}
	return outcomes
}
