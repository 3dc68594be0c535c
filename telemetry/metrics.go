// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	DanmakuSent       prometheus.Counter
	DanmakuSuppressed prometheus.Counter
	DanmakuFailed     prometheus.Counter
	TuringRotations   prometheus.Counter
	TuringExhausted   prometheus.Counter
	EventsDropped     prometheus.Counter

	// Labeled counters
	TuringRequests *prometheus.CounterVec // outcome
	EventsHandled  *prometheus.CounterVec // kind
	ErrorsTotal    *prometheus.CounterVec // class
	JobRuns        *prometheus.CounterVec // job

	// Histograms (seconds)
	TuringDuration      prometheus.Observer
	EventHandleDuration prometheus.Observer

	// Gauges
	QueueDepthGauge prometheus.Gauge
	RosterSizeGauge prometheus.Gauge
	StreamingGauge  prometheus.Gauge // 1=live,0=offline
	WelcomedGauge   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		DanmakuSent = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_sent_total", Help: "Number of danmaku delivered to the room"})
		DanmakuSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_suppressed_total", Help: "Number of danmaku dropped by the cadence limiter or because sending is disabled"})
		DanmakuFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_failed_total", Help: "Number of danmaku the room rejected or that failed in transport"})
		TuringRotations = promauto.NewCounter(prometheus.CounterOpts{Name: "turing_key_rotations_total", Help: "Number of API key rotations caused by quota exhaustion"})
		TuringExhausted = promauto.NewCounter(prometheus.CounterOpts{Name: "turing_exhausted_total", Help: "Number of questions refused because every API key was drained"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "room_events_dropped_total", Help: "Number of inbound events dropped because the queue was full"})
		TuringRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "turing_requests_total", Help: "AI backend requests by outcome"}, []string{"outcome"})
		EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "room_events_handled_total", Help: "Inbound room events handled by kind"}, []string{"kind"})
		ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "reactor_errors_total", Help: "Non-fatal errors by class"}, []string{"class"})
		JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "scheduled_job_runs_total", Help: "Scheduled job executions by job name"}, []string{"job"})
		TuringDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "turing_request_duration_seconds", Help: "AI backend round trip seconds", Buckets: prometheus.DefBuckets})
		EventHandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "room_event_handle_duration_seconds", Help: "Time spent reacting to one inbound event", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "room_event_queue_depth", Help: "Inbound events waiting for the dispatcher"})
		RosterSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "guard_roster_size", Help: "Number of guard members in the cached roster"})
		StreamingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "room_streaming", Help: "Room live state live=1 offline=0"})
		WelcomedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "welcomed_viewers", Help: "Viewers greeted since the last stream transition"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func incVec(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

func set(g prometheus.Gauge, n float64) {
	if g != nil {
		g.Set(n)
	}
}

// RecordSendOutcome counts one sender result by its status name (sent|suppressed|failed).
func RecordSendOutcome(status string) {
	switch status {
	case "sent":
		inc(DanmakuSent)
	case "suppressed":
		inc(DanmakuSuppressed)
	case "failed":
		inc(DanmakuFailed)
	}
}

// RecordTuringRequest counts one AI backend request by outcome.
func RecordTuringRequest(outcome string) { incVec(TuringRequests, outcome) }

// RecordRotation counts one API key rotation.
func RecordRotation() { inc(TuringRotations) }

// RecordExhausted counts one question refused because the key set is drained.
func RecordExhausted() { inc(TuringExhausted) }

// RecordEvent counts one handled inbound event.
func RecordEvent(kind string) { incVec(EventsHandled, kind) }

// RecordError counts one non-fatal error by class.
func RecordError(class string) { incVec(ErrorsTotal, class) }

// RecordJobRun counts one scheduled job execution.
func RecordJobRun(job string) { incVec(JobRuns, job) }

// RecordDropped counts one inbound event dropped by a full queue.
func RecordDropped() { inc(EventsDropped) }

// SetQueueDepth records the current number of queued inbound events.
func SetQueueDepth(n int) { set(QueueDepthGauge, float64(n)) }

// SetRosterSize records the current guard roster size.
func SetRosterSize(n int) { set(RosterSizeGauge, float64(n)) }

// SetWelcomed records the current dedupe set size.
func SetWelcomed(n int) { set(WelcomedGauge, float64(n)) }

// UpdateStreamingGauge sets gauge to 1 if live else 0.
func UpdateStreamingGauge(live bool) {
	if live {
		set(StreamingGauge, 1)
	} else {
		set(StreamingGauge, 0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
