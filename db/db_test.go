package db

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/telemetry"
)

func TestActor(t *testing.T) {
	tests := []struct {
		ev    event.Event
		uid   event.UID
		uname string
	}{
		{event.ChatMessage{UID: 1, Username: "a"}, 1, "a"},
		{event.GuardBuy{UID: 2, Username: "b"}, 2, "b"},
		{event.SuperChat{UID: 3, Username: "c"}, 3, "c"},
		{event.StreamStart{RoomID: 9}, 0, ""},
		{event.Notice{Message: "x"}, 0, ""},
	}
	for _, tt := range tests {
		uid, uname := actor(tt.ev)
		if uid != tt.uid || uname != tt.uname {
			t.Errorf("actor(%T) = %d, %q", tt.ev, uid, uname)
		}
	}
}

func TestJournal(t *testing.T) {
	db := openTestDB(t)
	if err := RunMigrations(db); err != nil {
		t.Fatal(err)
	}
	j := NewJournal(db, 6154037)
	ctx := telemetry.WithCorrelation(context.Background(), "corr-1")

	if err := j.RecordEvent(ctx, event.Gift{UID: 42, Username: "土豪", GiftName: "小心心", Num: 3}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := j.RecordEvent(ctx, event.ViewerCount{Count: 1}); err != nil {
		t.Fatalf("RecordEvent(viewer count): %v", err)
	}
	j.RecordSend(ctx, danmaku.Message{Text: "感谢土豪投喂的小心心x3", Important: true},
		danmaku.Outcome{Status: danmaku.StatusFailed, Err: errors.New("boom")})

	rows, err := j.RecentEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(rows) != 1 || rows[0].Kind != string(event.KindGift) || rows[0].UID != 42 || rows[0].Username != "土豪" {
		t.Errorf("rows = %+v", rows)
	}

	var corr string
	if err := db.QueryRow(`SELECT correlation_id FROM room_events LIMIT 1`).Scan(&corr); err != nil || corr != "corr-1" {
		t.Errorf("correlation_id = %q, %v", corr, err)
	}
	var status, errText string
	if err := db.QueryRow(`SELECT status, error FROM danmaku_sends LIMIT 1`).Scan(&status, &errText); err != nil {
		t.Fatal(err)
	}
	if status != danmaku.StatusFailed.String() || errText != "boom" {
		t.Errorf("send row = %q, %q", status, errText)
	}

	filtered, err := j.RecentEvents(ctx, string(event.KindChatMessage), 10)
	if err != nil || len(filtered) != 0 {
		t.Errorf("filtered = %v, %v", filtered, err)
	}
}
