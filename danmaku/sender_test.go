package danmaku

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type fakePoster struct {
	posted []Message
	err    error
}

func (f *fakePoster) Post(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, msg)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingRecorder struct{ outcomes []Outcome }

func (r *recordingRecorder) RecordSend(_ context.Context, _ Message, out Outcome) {
	r.outcomes = append(r.outcomes, out)
}

func newTestSender(p Poster, opts Options) (*Sender, *fakeClock, *[]time.Duration) {
	clock := &fakeClock{t: time.Date(2021, 2, 6, 14, 14, 0, 0, time.UTC)}
	var sleeps []time.Duration
	s := NewSender(p, opts)
	s.now = clock.now
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return s, clock, &sleeps
}

func TestSendSuppressesUnimportantWithinInterval(t *testing.T) {
	p := &fakePoster{}
	s, clock, _ := newTestSender(p, Options{Enabled: true, MinInterval: 3 * time.Second})
	ctx := context.Background()

	if out := s.Send(ctx, Message{Text: "first"}); out.Status != StatusSent {
		t.Fatalf("first send = %v, want sent", out)
	}
	first := s.LastSentAt()

	clock.advance(time.Second)
	out := s.Send(ctx, Message{Text: "second"})
	if out.Status != StatusSuppressed {
		t.Fatalf("second send = %v, want suppressed", out)
	}
	if !s.LastSentAt().Equal(first) {
		t.Errorf("lastSentAt moved on suppressed send: %v -> %v", first, s.LastSentAt())
	}
	if len(p.posted) != 1 {
		t.Errorf("transport contacted %d times, want 1", len(p.posted))
	}

	clock.advance(2 * time.Second)
	if out := s.Send(ctx, Message{Text: "third"}); out.Status != StatusSent {
		t.Errorf("send after interval = %v, want sent", out)
	}
}

func TestSendImportantBypassesInterval(t *testing.T) {
	p := &fakePoster{}
	s, clock, _ := newTestSender(p, Options{Enabled: true, MinInterval: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if out := s.Send(ctx, Message{Text: "x", Important: true}); out.Status != StatusSent {
			t.Fatalf("important send %d = %v, want sent", i, out)
		}
		clock.advance(time.Millisecond)
	}
	if len(p.posted) != 3 {
		t.Errorf("posted = %d, want 3", len(p.posted))
	}
}

func TestSendDisabledIsSilentNoop(t *testing.T) {
	p := &fakePoster{}
	s, _, _ := newTestSender(p, Options{Enabled: false})

	out := s.Send(context.Background(), Message{Text: "hi", Important: true})
	if out.Status != StatusSuppressed {
		t.Fatalf("disabled send = %v, want suppressed", out)
	}
	if len(p.posted) != 0 {
		t.Errorf("disabled sender contacted transport")
	}

	s.SetEnabled(true)
	if out := s.Send(context.Background(), Message{Text: "hi"}); out.Status != StatusSent {
		t.Errorf("re-enabled send = %v, want sent", out)
	}
}

func TestSendFailureKeepsLastSentAt(t *testing.T) {
	p := &fakePoster{}
	s, clock, _ := newTestSender(p, Options{Enabled: true, MinInterval: 3 * time.Second})
	ctx := context.Background()

	s.Send(ctx, Message{Text: "ok"})
	first := s.LastSentAt()

	clock.advance(5 * time.Second)
	p.err = errors.New("room rejected message")
	out := s.Send(ctx, Message{Text: "boom"})
	if out.Status != StatusFailed || out.Err == nil {
		t.Fatalf("send = %v, want failed with error", out)
	}
	if !s.LastSentAt().Equal(first) {
		t.Errorf("lastSentAt updated on failure")
	}

	// A prompt retry is not throttled by the failed attempt.
	p.err = nil
	clock.advance(100 * time.Millisecond)
	if out := s.Send(ctx, Message{Text: "retry"}); out.Status != StatusSent {
		t.Errorf("retry = %v, want sent", out)
	}
}

func TestSendTextChunking(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantLens  []int
		wantSleep int
	}{
		{"empty", "", nil, 0},
		{"whitespace", " ", []int{1}, 0},
		{"exact", strings.Repeat("a", 30), []int{30}, 0},
		{"sixty-one", strings.Repeat("b", 61), []int{30, 30, 1}, 2},
		{"multibyte", strings.Repeat("晴", 31), []int{30, 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePoster{}
			s, _, sleeps := newTestSender(p, Options{Enabled: true, MinInterval: time.Hour})
			outs := s.SendText(context.Background(), tt.text, 1500*time.Millisecond)

			if len(outs) != len(tt.wantLens) || len(p.posted) != len(tt.wantLens) {
				t.Fatalf("sends = %d/%d, want %d", len(outs), len(p.posted), len(tt.wantLens))
			}
			for i, msg := range p.posted {
				if n := utf8.RuneCountInString(msg.Text); n != tt.wantLens[i] {
					t.Errorf("chunk %d len = %d, want %d", i, n, tt.wantLens[i])
				}
				if !msg.Important {
					t.Errorf("chunk %d not important", i)
				}
				if msg.Placement != PlacementScroll {
					t.Errorf("chunk %d placement = %v", i, msg.Placement)
				}
			}
			if len(*sleeps) != tt.wantSleep {
				t.Errorf("sleeps = %d, want %d", len(*sleeps), tt.wantSleep)
			}
			for _, d := range *sleeps {
				if d != 1500*time.Millisecond {
					t.Errorf("sleep = %v, want 1.5s", d)
				}
			}
		})
	}
}

func TestSendTextStopsOnCancel(t *testing.T) {
	p := &fakePoster{}
	s, _, _ := newTestSender(p, Options{Enabled: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outs := s.SendText(ctx, strings.Repeat("c", 90), time.Second)
	if len(outs) != 1 {
		t.Errorf("sent %d chunks after cancel, want 1", len(outs))
	}
}

func TestTemplates(t *testing.T) {
	p := &fakePoster{}
	s, _, _ := newTestSender(p, Options{Enabled: true})
	ctx := context.Background()

	s.WelcomeEnter(ctx, "小明", "男")
	s.WelcomeEnter(ctx, "小红", "保密")
	s.WelcomeGuard(ctx, "小馋狮", "舰长")
	s.ThanksGift(ctx, "Akatuと", "小心心", 3)
	s.ThanksGuard(ctx, "超超", "舰长", 1)
	s.ThanksSuperChat(ctx, "土豪")

	want := []struct {
		text      string
		placement Placement
		emphasis  Emphasis
		important bool
	}{
		{"欢迎男妈妈小明进入直播间", PlacementBottom, EmphasisSmall, false},
		{"欢迎小红进入直播间", PlacementBottom, EmphasisSmall, false},
		{"喵~欢迎舰长大人小馋狮光临直播间", PlacementBottom, EmphasisSmall, true},
		{"感谢Akatuと投喂的小心心x3", PlacementTop, EmphasisSmall, true},
		{"感谢超超开通的1个月舰长~", PlacementTop, EmphasisNormal, true},
		{"感谢土豪发送的醒目留言~", PlacementTop, EmphasisNormal, true},
	}
	// MinInterval is zero, so back-to-back greetings all go out.
	if len(p.posted) != len(want) {
		t.Fatalf("posted %d messages, want %d", len(p.posted), len(want))
	}
	for i, w := range want {
		got := p.posted[i]
		if got.Text != w.text || got.Placement != w.placement || got.Emphasis != w.emphasis || got.Important != w.important {
			t.Errorf("message %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestTemplatesTruncateAndOverride(t *testing.T) {
	p := &fakePoster{}
	s, _, _ := newTestSender(p, Options{Enabled: true, Templates: Templates{ThanksSuperChat: "SC! ${uname}"}})
	ctx := context.Background()

	s.ThanksSuperChat(ctx, "bob")
	s.ThanksGift(ctx, strings.Repeat("名", 40), "礼物", 1)

	if p.posted[0].Text != "SC! bob" {
		t.Errorf("override text = %q", p.posted[0].Text)
	}
	if n := utf8.RuneCountInString(p.posted[1].Text); n != MaxChunkLen {
		t.Errorf("long template rendered %d runes, want %d", n, MaxChunkLen)
	}
}

func TestRecorderSeesOutcomes(t *testing.T) {
	rec := &recordingRecorder{}
	p := &fakePoster{}
	s, _, _ := newTestSender(p, Options{Enabled: true, MinInterval: time.Hour, Recorder: rec})
	ctx := context.Background()

	s.Send(ctx, Message{Text: "a"})
	s.Send(ctx, Message{Text: "b"})

	if len(rec.outcomes) != 2 {
		t.Fatalf("recorded %d outcomes, want 2", len(rec.outcomes))
	}
	if rec.outcomes[0].Status != StatusSent || rec.outcomes[1].Status != StatusSuppressed {
		t.Errorf("recorded = %v", rec.outcomes)
	}
}

func TestChunkDropsEmpty(t *testing.T) {
	if got := Chunk(""); len(got) != 0 {
		t.Errorf("Chunk(\"\") = %v", got)
	}
}
