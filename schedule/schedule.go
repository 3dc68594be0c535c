// Package schedule triggers named jobs on a cron expression or a fixed interval.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Job is the work a schedule triggers. It runs on the scheduler goroutine.
type Job func(ctx context.Context)

// Cron runs Job at every tick of a five-field cron expression.
type Cron struct {
	Name string
	Expr string
	Job  Job

	now func() time.Time
}

// NewCron validates expr and returns a Cron ready to Run.
func NewCron(name, expr string, job Job) (*Cron, error) {
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, fmt.Errorf("schedule %s: invalid cron expression %q", name, expr)
	}
	return &Cron{Name: name, Expr: expr, Job: job, now: time.Now}, nil
}

// Next returns the first tick strictly after t.
func (c *Cron) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(c.Expr, t, false)
}

// Run blocks until ctx is done.
func (c *Cron) Run(ctx context.Context) {
	for {
		next, err := c.Next(c.now())
		if err != nil {
			slog.Error("cron schedule stopped", slog.String("job", c.Name), slog.Any("err", err))
			return
		}
		slog.Debug("next cron tick", slog.String("job", c.Name), slog.Time("at", next))
		t := time.NewTimer(next.Sub(c.now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		c.Job(ctx)
	}
}

// Interval runs Job every Every, first after one full interval.
type Interval struct {
	Name  string
	Every time.Duration
	Job   Job
}

// Run blocks until ctx is done. A non-positive interval disables the job.
func (i Interval) Run(ctx context.Context) {
	if i.Every <= 0 {
		slog.Info("interval job disabled", slog.String("job", i.Name))
		return
	}
	ticker := time.NewTicker(i.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Job(ctx)
		}
	}
}
