// Package db provides the optional Postgres journal of handled room events
// and outbound danmaku. The journal is write-only from the bot's point of
// view; nothing is restored from it at start.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/telemetry"
)

const writeTimeout = 3 * time.Second

// Connect opens a Postgres connection and verifies it.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(4)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Journal writes events and send outcomes.
type Journal struct {
	db     *sql.DB
	roomID int64
}

func NewJournal(db *sql.DB, roomID int64) *Journal {
	return &Journal{db: db, roomID: roomID}
}

// Ping reports whether the database is reachable.
func (j *Journal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

// actor extracts the acting viewer, if the event has one.
func actor(ev event.Event) (event.UID, string) {
	switch e := ev.(type) {
	case event.ChatMessage:
		return e.UID, e.Username
	case event.UserEnter:
		return e.UID, e.Username
	case event.GuardEntry:
		return e.UID, e.Username
	case event.Gift:
		return e.UID, e.Username
	case event.GiftCombo:
		return e.UID, e.Username
	case event.SuperChat:
		return e.UID, e.Username
	case event.GuardBuy:
		return e.UID, e.Username
	default:
		return 0, ""
	}
}

// RecordEvent stores ev. Viewer-count heartbeats are skipped.
func (j *Journal) RecordEvent(ctx context.Context, ev event.Event) error {
	if ev.Kind() == event.KindViewerCount {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	uid, uname := actor(ev)
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO room_events (room_id, kind, uid, username, payload, correlation_id) VALUES ($1, $2, $3, $4, $5, $6)`,
		j.roomID, string(ev.Kind()), int64(uid), uname, payload, telemetry.GetCorrelation(ctx))
	if err != nil {
		return fmt.Errorf("insert room event: %w", err)
	}
	return nil
}

// RecordSend implements danmaku.Recorder. Failures are logged only.
func (j *Journal) RecordSend(ctx context.Context, msg danmaku.Message, out danmaku.Outcome) {
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO danmaku_sends (text, placement, important, status, reason, error) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.Text, int(msg.Placement), msg.Important, out.Status.String(), out.Reason, errText)
	if err != nil {
		slog.Warn("failed to journal danmaku send", slog.Any("err", err))
	}
}

// EventRow is one journaled event.
type EventRow struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	UID       int64           `json:"uid"`
	Username  string          `json:"username"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecentEvents returns up to limit events, newest first, optionally
// filtered by kind.
func (j *Journal) RecentEvents(ctx context.Context, kind string, limit int) ([]EventRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, uid, username, payload, created_at FROM room_events
		 WHERE ($1 = '' OR kind = $1) ORDER BY id DESC LIMIT $2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var r EventRow
		var payload []byte
		if err := rows.Scan(&r.ID, &r.Kind, &r.UID, &r.Username, &payload, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}
