package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/danmaku-reactor/event"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxReconnects     = 5
	DefaultReconnectDelay    = 5 * time.Second
	readTimeoutBeats         = 3
	fallbackHost             = "wss://broadcastlv.chat.bilibili.com:443/sub"
)

var errAuthRejected = errors.New("bilibili: room auth rejected")

// Source streams events from a room over the danmaku websocket. It
// reconnects on errors and gives up with event.ErrFatalConnection after
// MaxReconnects consecutive failed sessions.
type Source struct {
	Client *Client
	RoomID int64

	// URL overrides the websocket server returned by the room API.
	URL               string
	Dialer            *websocket.Dialer
	HeartbeatInterval time.Duration
	MaxReconnects     int
	ReconnectDelay    time.Duration
}

func (s *Source) heartbeat() time.Duration {
	if s.HeartbeatInterval > 0 {
		return s.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

// Run connects and emits events until ctx is done or the connection is
// lost for good.
func (s *Source) Run(ctx context.Context, emit event.Emitter) error {
	maxRetries := s.MaxReconnects
	if maxRetries <= 0 {
		maxRetries = DefaultMaxReconnects
	}
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	failures := 0
	for {
		healthy, err := s.session(ctx, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if healthy {
			failures = 0
		}
		failures++
		if failures > maxRetries {
			return fmt.Errorf("%w: %d reconnects failed: %w", event.ErrFatalConnection, maxRetries, err)
		}
		slog.Warn("room connection lost; reconnecting",
			slog.Int64("room_id", s.RoomID), slog.Int("attempt", failures), slog.Any("err", err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Source) endpoint(ctx context.Context) (string, string, error) {
	if s.Client == nil {
		return s.URL, "", nil
	}
	info, err := s.Client.DanmuInfo(ctx, s.RoomID)
	if err != nil {
		if s.URL == "" {
			return fallbackHost, "", nil
		}
		return s.URL, "", nil
	}
	if s.URL != "" {
		return s.URL, info.Token, nil
	}
	if len(info.Hosts) > 0 {
		return info.Hosts[0], info.Token, nil
	}
	return fallbackHost, info.Token, nil
}

// session runs one connection. healthy reports whether the room accepted the
// auth packet and then sent at least one more frame; a room that goes quiet
// right after auth counts as a failed session.
func (s *Source) session(ctx context.Context, emit event.Emitter) (healthy bool, err error) {
	url, token, err := s.endpoint(ctx)
	if err != nil {
		return false, err
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}

	auth, _ := json.Marshal(map[string]any{
		"uid":      0,
		"roomid":   s.RoomID,
		"protover": int(ProtoBrotli),
		"platform": "web",
		"type":     2,
		"key":      token,
	})
	if err := write(Encode(ProtoInt, OpAuth, auth)); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		t := time.NewTicker(s.heartbeat())
		defer t.Stop()
		for {
			select {
			case <-sessCtx.Done():
				return
			case <-t.C:
				if err := write(Encode(ProtoInt, OpHeartbeat, nil)); err != nil {
					slog.Debug("heartbeat write failed", slog.Any("err", err))
					cancel()
					return
				}
			}
		}
	}()

	// The server answers every heartbeat, so silence for a few intervals
	// means the connection is dead even if writes still succeed.
	readTimeout := readTimeoutBeats * s.heartbeat()
	authed := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return healthy, fmt.Errorf("read: %w", err)
		}
		if authed {
			healthy = true
		}
		packets, err := Decode(data)
		if err != nil {
			slog.Warn("malformed room frame", slog.Any("err", err))
		}
		for _, p := range packets {
			switch p.Op {
			case OpAuthReply:
				var reply struct {
					Code int `json:"code"`
				}
				if json.Unmarshal(p.Body, &reply) == nil && reply.Code != 0 {
					return false, fmt.Errorf("%w: code %d", errAuthRejected, reply.Code)
				}
				authed = true
				slog.Info("connected to room", slog.Int64("room_id", s.RoomID))
				// First heartbeat right after auth so popularity arrives early.
				if err := write(Encode(ProtoInt, OpHeartbeat, nil)); err != nil {
					return false, err
				}
			case OpHeartbeatReply:
				if n, ok := popularity(p.Body); ok {
					emit(event.ViewerCount{Count: n})
				}
			case OpCommand:
				ev, err := DecodeCommand(p.Body)
				if err != nil {
					slog.Warn("undecodable room command", slog.Any("err", err))
					continue
				}
				emit(ev)
			}
		}
	}
}
