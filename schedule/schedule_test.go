package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewCronValidates(t *testing.T) {
	if _, err := NewCron("daily", "0 0 * * *", func(context.Context) {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if _, err := NewCron("bad", "not a cron", func(context.Context) {}); err == nil {
		t.Error("invalid expression accepted")
	}
}

func TestCronNextIsMidnight(t *testing.T) {
	c, err := NewCron("daily", "0 0 * * *", func(context.Context) {})
	if err != nil {
		t.Fatal(err)
	}
	ref := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	next, err := c.Next(ref)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestCronRunFires(t *testing.T) {
	var runs atomic.Int32
	c, err := NewCron("every-minute", "* * * * *", func(context.Context) { runs.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	// Pretend it is always just before a minute boundary.
	c.now = func() time.Time { return time.Now().Truncate(time.Minute).Add(time.Minute - 50*time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("cron job never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestIntervalRuns(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Interval{Name: "notice", Every: 5 * time.Millisecond, Job: func(context.Context) { runs.Add(1) }}.Run(ctx)
		close(done)
	}()
	deadline := time.After(3 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("interval job did not repeat")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestIntervalDisabled(t *testing.T) {
	called := false
	Interval{Name: "off", Job: func(context.Context) { called = true }}.Run(context.Background())
	if called {
		t.Error("disabled interval ran its job")
	}
}
