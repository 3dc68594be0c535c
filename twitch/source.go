// Package twitch adapts a Twitch channel to the bot: IRC chat as the event
// source and the outbound channel, Helix for live status and follower counts.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/oauth2"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/event"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultMaxReconnects  = 5
	DefaultReconnectDelay = 5 * time.Second
)

var errNotConnected = errors.New("twitch: chat not connected")

// Source reads a channel's chat and, when Helix is set, polls its live status.
// It doubles as the danmaku.Poster for the same channel.
type Source struct {
	Channel  string
	Username string
	Tokens   oauth2.TokenSource
	Helix    *HelixClient

	PollInterval   time.Duration
	MaxReconnects  int
	ReconnectDelay time.Duration

	mu     sync.Mutex
	client *irc.Client
}

// Run connects to chat and emits events until ctx is done or reconnecting
// fails MaxReconnects times in a row.
func (s *Source) Run(ctx context.Context, emit event.Emitter) error {
	maxRetries := s.MaxReconnects
	if maxRetries <= 0 {
		maxRetries = DefaultMaxReconnects
	}
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if s.Helix != nil {
		go s.pollLive(ctx, emit)
	}
	failures := 0
	for {
		connected, err := s.session(ctx, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
		}
		failures++
		if failures > maxRetries {
			return fmt.Errorf("%w: %d reconnects failed: %w", event.ErrFatalConnection, maxRetries, err)
		}
		slog.Warn("twitch chat lost; reconnecting",
			slog.String("channel", s.Channel), slog.Int("attempt", failures), slog.Any("err", err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Source) session(ctx context.Context, emit event.Emitter) (bool, error) {
	pass, err := ircToken(s.Tokens)
	if err != nil {
		return false, fmt.Errorf("twitch token: %w", err)
	}
	client := irc.NewClient(s.Username, pass)

	var connected atomic.Bool
	client.OnConnect(func() {
		connected.Store(true)
		slog.Info("twitch chat connected", slog.String("channel", s.Channel))
	})
	client.OnPrivateMessage(func(msg irc.PrivateMessage) {
		for _, ev := range chatEvents(msg) {
			emit(ev)
		}
	})
	client.OnUserNoticeMessage(func(msg irc.UserNoticeMessage) {
		if ev, ok := noticeEvent(msg); ok {
			emit(ev)
		}
	})

	s.setClient(client)
	defer s.setClient(nil)

	stop := context.AfterFunc(ctx, func() {
		if err := client.Disconnect(); err != nil {
			slog.Debug("twitch disconnect", slog.Any("err", err))
		}
	})
	defer stop()

	client.Join(s.Channel)
	err = client.Connect()
	return connected.Load(), err
}

func (s *Source) setClient(c *irc.Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// Post says msg in the channel. Placement and emphasis have no Twitch
// equivalent and are ignored. The IRC client queues writes without
// reporting delivery, so Post only fails while chat is not connected.
func (s *Source) Post(_ context.Context, msg danmaku.Message) error {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return errNotConnected
	}
	c.Say(s.Channel, msg.Text)
	return nil
}

// pollLive emits StreamStart and StreamEnd on live status transitions. The
// first successful poll only records the state.
func (s *Source) pollLive(ctx context.Context, emit event.Emitter) {
	every := s.PollInterval
	if every <= 0 {
		every = DefaultPollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	slog.Info("twitch live poller started", slog.Duration("interval", every))

	var known, live bool
	for {
		now, err := s.Helix.IsLive(ctx, s.Channel)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				slog.Debug("twitch streams request", slog.Any("err", err))
			}
		case !known:
			known, live = true, now
		case now != live:
			live = now
			if live {
				emit(event.StreamStart{})
			} else {
				emit(event.StreamEnd{})
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
