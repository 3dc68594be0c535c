package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/session"
	"github.com/onnwee/danmaku-reactor/turing"
)

const ownRoom = 6154037

type recordingPoster struct {
	mu   sync.Mutex
	msgs []danmaku.Message
	err  error
}

func (p *recordingPoster) Post(_ context.Context, m danmaku.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *recordingPoster) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Text
	}
	return out
}

type fakeAsker struct {
	reply   string
	err     error
	asked   []string
	resets  int
	enabled bool
}

func (a *fakeAsker) Ask(_ context.Context, text, _ string) (string, error) {
	a.asked = append(a.asked, text)
	return a.reply, a.err
}
func (a *fakeAsker) ResetRetryBudget()  { a.resets++ }
func (a *fakeAsker) SetEnabled(on bool) { a.enabled = on }
func (a *fakeAsker) State() turing.State {
	return turing.State{Enabled: a.enabled, Keys: 1, RetryBudget: 1}
}

type fakeRoster struct {
	roster map[event.UID]event.GuardLevel
	err    error
	calls  int
}

func (r *fakeRoster) FetchGuardRoster(_ context.Context, roomID int64) (map[event.UID]event.GuardLevel, error) {
	r.calls++
	return r.roster, r.err
}

type fakeProfiles struct {
	followers   map[event.UID]int64
	sex         map[event.UID]string
	relationErr error
	profileErr  error
	lookups     int
}

func (f *fakeProfiles) Relation(_ context.Context, uid event.UID) (event.Relation, error) {
	f.lookups++
	if f.relationErr != nil {
		return event.Relation{}, f.relationErr
	}
	return event.Relation{Follower: f.followers[uid]}, nil
}

func (f *fakeProfiles) Profile(_ context.Context, uid event.UID) (event.Profile, error) {
	if f.profileErr != nil {
		return event.Profile{}, f.profileErr
	}
	return event.Profile{Sex: f.sex[uid]}, nil
}

type fixture struct {
	d        *Dispatcher
	poster   *recordingPoster
	state    *session.State
	ai       *fakeAsker
	roster   *fakeRoster
	profiles *fakeProfiles
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		poster:   &recordingPoster{},
		state:    session.New(true),
		ai:       &fakeAsker{reply: "晴天", enabled: true},
		roster:   &fakeRoster{roster: map[event.UID]event.GuardLevel{}},
		profiles: &fakeProfiles{followers: map[event.UID]int64{}, sex: map[event.UID]string{}},
	}
	sender := danmaku.NewSender(f.poster, danmaku.Options{Enabled: true, MinInterval: 0})
	d, err := New(Deps{
		Sender:   sender,
		State:    f.state,
		AI:       f.ai,
		Roster:   f.roster,
		Profiles: f.profiles,
	}, Options{
		RoomID:         ownRoom,
		QuestionPrefix: "#问 ",
		AnswerPrefix:   "[AI]",
		Fallback:       "我不知道",
		MinFollowers:   10000,
		MinMedalLevel:  5,
		Notices:        []string{"关注主播不迷路"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.d = d
	return f
}

func TestChatQuestionIsAnswered(t *testing.T) {
	f := newFixture(t)
	f.d.Handle(context.Background(), event.ChatMessage{UID: 1, Username: "a", Text: "#问 今天天气如何"})

	if len(f.ai.asked) != 1 || f.ai.asked[0] != "今天天气如何" {
		t.Fatalf("asked = %v", f.ai.asked)
	}
	got := f.poster.texts()
	if len(got) != 1 || got[0] != "[AI]晴天" {
		t.Errorf("posted = %v, want [[AI]晴天]", got)
	}
}

func TestChatWithoutPrefixIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "今天天气如何"})
	if len(f.ai.asked) != 0 || len(f.poster.texts()) != 0 {
		t.Errorf("asked %v posted %v", f.ai.asked, f.poster.texts())
	}
}

func TestBarePrefixIsStillAsked(t *testing.T) {
	f := newFixture(t)
	f.d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "#问 "})
	if len(f.ai.asked) != 1 || f.ai.asked[0] != "" {
		t.Fatalf("asked = %q, want one empty question", f.ai.asked)
	}
	if got := f.poster.texts(); len(got) != 1 || got[0] != "[AI]晴天" {
		t.Errorf("posted = %v", got)
	}
}

func TestChatFallbackOnGatewayErrors(t *testing.T) {
	for _, err := range []error{turing.ErrExhausted, turing.ErrRequest, errors.New("boom")} {
		t.Run(err.Error(), func(t *testing.T) {
			f := newFixture(t)
			f.ai.err = err
			f.d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "#问 ?"})
			got := f.poster.texts()
			if len(got) != 1 || got[0] != "[AI]我不知道" {
				t.Errorf("posted = %v, want fallback", got)
			}
		})
	}
}

func TestChatAIDisabledSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.ai.err = turing.ErrDisabled
	f.d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "#问 ?"})
	if got := f.poster.texts(); len(got) != 0 {
		t.Errorf("posted = %v, want nothing", got)
	}
}

func TestLongAnswerIsChunked(t *testing.T) {
	f := newFixture(t)
	f.ai.reply = strings.Repeat("好", 60)
	f.d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "#问 长"})
	if got := f.poster.texts(); len(got) != 3 {
		t.Errorf("chunks = %d, want 3", len(got))
	}
}

func TestUserEnterGreeting(t *testing.T) {
	tests := []struct {
		name      string
		ev        event.UserEnter
		followers int64
		sex       string
		relErr    error
		profErr   error
		want      string
	}{
		{
			name:      "many followers",
			ev:        event.UserEnter{UID: 10, Username: "大V"},
			followers: 20000,
			sex:       "女",
			want:      "欢迎女妈妈大V进入直播间",
		},
		{
			name: "own room medal",
			ev:   event.UserEnter{UID: 11, Username: "粉丝", Medal: event.Medal{AnchorRoomID: ownRoom, Level: 5}},
			sex:  "保密",
			want: "欢迎粉丝进入直播间",
		},
		{
			name: "other room medal",
			ev:   event.UserEnter{UID: 12, Username: "路人", Medal: event.Medal{AnchorRoomID: 1017, Level: 20}},
		},
		{
			name: "low medal",
			ev:   event.UserEnter{UID: 13, Username: "新粉", Medal: event.Medal{AnchorRoomID: ownRoom, Level: 4}},
		},
		{
			name:   "relation lookup failure denies",
			ev:     event.UserEnter{UID: 14, Username: "x"},
			relErr: errors.New("timeout"),
		},
		{
			name:      "profile failure greets without prefix",
			ev:        event.UserEnter{UID: 15, Username: "大V2"},
			followers: 10000,
			profErr:   errors.New("412"),
			want:      "欢迎大V2进入直播间",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.profiles.followers[tt.ev.UID] = tt.followers
			f.profiles.sex[tt.ev.UID] = tt.sex
			f.profiles.relationErr = tt.relErr
			f.profiles.profileErr = tt.profErr

			f.d.Handle(context.Background(), tt.ev)
			got := f.poster.texts()
			if tt.want == "" {
				if len(got) != 0 {
					t.Errorf("posted = %v, want nothing", got)
				}
				return
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("posted = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestUserEnterGreetsOncePerSession(t *testing.T) {
	f := newFixture(t)
	f.profiles.followers[10] = 50000
	ev := event.UserEnter{UID: 10, Username: "大V"}

	f.d.Handle(context.Background(), ev)
	f.d.Handle(context.Background(), ev)
	if n := len(f.poster.texts()); n != 1 {
		t.Fatalf("greetings = %d, want 1", n)
	}
	if f.profiles.lookups != 1 {
		t.Errorf("lookups = %d, want 1 (welcomed viewers skip lookup)", f.profiles.lookups)
	}

	f.d.Handle(context.Background(), event.StreamStart{RoomID: ownRoom})
	f.d.Handle(context.Background(), ev)
	if n := len(f.poster.texts()); n != 2 {
		t.Errorf("greetings after stream start = %d, want 2", n)
	}
}

func TestPaidSupportIsAlwaysAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.d.sender.SetMinInterval(time.Hour)
	ctx := context.Background()

	f.d.Handle(ctx, event.GuardEntry{UID: 1, Username: "小馋狮", GuardLevel: event.GuardCaptain})
	f.d.Handle(ctx, event.Gift{UID: 2, Username: "Akatuと", GiftName: "小心心", Num: 1})
	f.d.Handle(ctx, event.SuperChat{UID: 3, Username: "土豪", Message: "hi", Price: 30})
	f.d.Handle(ctx, event.GiftCombo{UID: 2, Username: "Akatuと", GiftName: "小心心", TotalNum: 21})

	want := []string{
		"喵~欢迎舰长大人小馋狮光临直播间",
		"感谢Akatuと投喂的小心心x1",
		"感谢土豪发送的醒目留言~",
	}
	got := f.poster.texts()
	if len(got) != len(want) {
		t.Fatalf("posted = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("posted[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGuardBuyRefreshesRoster(t *testing.T) {
	f := newFixture(t)
	f.roster.roster = map[event.UID]event.GuardLevel{9405475: event.GuardCaptain}

	f.d.Handle(context.Background(), event.GuardBuy{UID: 9405475, Username: "超超", GuardLevel: 3, Num: 1, Price: 198000, GiftName: "舰长"})

	if !f.state.IsGuardMember(9405475) {
		t.Error("roster not refreshed")
	}
	if got := f.poster.texts(); len(got) != 1 || got[0] != "感谢超超开通的1个月舰长~" {
		t.Errorf("posted = %v", got)
	}
}

func TestRosterFailureKeepsStaleRoster(t *testing.T) {
	f := newFixture(t)
	f.state.ReplaceRoster(map[event.UID]event.GuardLevel{1: event.GuardCaptain})
	f.roster.err = errors.New("412 precondition failed")

	err := f.d.RefreshRoster(context.Background())
	if !errors.Is(err, ErrLookup) {
		t.Fatalf("err = %v, want ErrLookup", err)
	}
	if !f.state.IsGuardMember(1) {
		t.Error("stale roster dropped on fetch failure")
	}
}

func TestStreamTransitions(t *testing.T) {
	f := newFixture(t)
	f.state.MarkWelcomedIfAbsent(5)

	f.d.Handle(context.Background(), event.StreamStart{RoomID: ownRoom})
	if !f.state.IsStreaming() || f.state.HasWelcomed(5) {
		t.Error("stream start did not set streaming and clear welcomed")
	}
	f.state.MarkWelcomedIfAbsent(5)
	f.d.Handle(context.Background(), event.StreamEnd{RoomID: ownRoom})
	if f.state.IsStreaming() || f.state.HasWelcomed(5) {
		t.Error("stream end did not clear state")
	}
}

func TestDailyRollover(t *testing.T) {
	f := newFixture(t)
	f.roster.roster = map[event.UID]event.GuardLevel{7: event.GuardCaptain}

	f.d.DailyRollover(context.Background())

	if f.roster.calls != 1 || !f.state.IsGuardMember(7) {
		t.Errorf("roster calls = %d member = %v", f.roster.calls, f.state.IsGuardMember(7))
	}
	if f.ai.resets != 1 {
		t.Errorf("retry budget resets = %d, want 1", f.ai.resets)
	}
}

func TestScheduledNoticeOnlyWhileStreaming(t *testing.T) {
	f := newFixture(t)
	f.d.ScheduledNotice(context.Background())
	if n := len(f.poster.texts()); n != 0 {
		t.Fatalf("offline notice sent %d messages", n)
	}

	f.state.OnStreamTransition(true)
	f.d.ScheduledNotice(context.Background())
	if got := f.poster.texts(); len(got) != 1 || got[0] != "关注主播不迷路" {
		t.Errorf("posted = %v", got)
	}
}

func TestSayAndTransportFailure(t *testing.T) {
	f := newFixture(t)
	outs := f.d.Say(context.Background(), "hello")
	if len(outs) != 1 || outs[0].Status != danmaku.StatusSent {
		t.Fatalf("outcomes = %v", outs)
	}

	f.poster.err = errors.New("-403")
	outs = f.d.Say(context.Background(), "again")
	if len(outs) != 1 || outs[0].Status != danmaku.StatusFailed {
		t.Errorf("outcomes = %v, want failed", outs)
	}
}

func TestApplyConfig(t *testing.T) {
	f := newFixture(t)
	f.d.ApplyConfig(RuntimeConfig{
		Options:       Options{RoomID: ownRoom, QuestionPrefix: "?", AnswerPrefix: ">"},
		SenderEnabled: false,
		AIEnabled:     false,
		Dedupe:        false,
	})

	f.d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "?x"})
	if len(f.ai.asked) != 1 {
		t.Errorf("new question prefix not applied")
	}
	if len(f.poster.texts()) != 0 {
		t.Errorf("disabled sender posted")
	}
	if f.ai.enabled {
		t.Error("ai not disabled")
	}
	st := f.d.Status()
	if st.SenderEnabled || st.Session.Dedupe || st.QuestionPrefix != "?" || st.EventsHandled != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestRunDrainsQueue(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(4)
	q.Push(event.StreamStart{RoomID: ownRoom})
	q.Push(event.Gift{Username: "a", GiftName: "b", Num: 1})
	q.Close()

	if err := f.d.Run(context.Background(), q); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !f.state.IsStreaming() || len(f.poster.texts()) != 1 {
		t.Errorf("streaming %v posted %v", f.state.IsStreaming(), f.poster.texts())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.d.Run(ctx, NewQueue(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// End to end through the real gateway against a scripted backend.
func TestQuestionThroughGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"intent":  map[string]any{"code": 10004},
			"results": []map[string]any{{"resultType": "text", "values": map[string]any{"text": "晴天"}}},
		})
	}))
	defer srv.Close()

	gw, err := turing.New(turing.Config{APIURL: srv.URL, Keys: []string{"A"}, Enabled: true, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	poster := &recordingPoster{}
	d, err := New(Deps{
		Sender: danmaku.NewSender(poster, danmaku.Options{Enabled: true, MinInterval: 3 * time.Second}),
		State:  session.New(true),
		AI:     gw,
	}, Options{QuestionPrefix: "#问 ", AnswerPrefix: "[AI] "})
	if err != nil {
		t.Fatal(err)
	}

	d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "#问 今天天气如何"})
	got := poster.texts()
	if len(got) != 1 || got[0] != "[AI] 晴天" {
		t.Errorf("posted = %v, want [[AI] 晴天]", got)
	}
}

// parkedAsker holds every Ask until release is closed.
type parkedAsker struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	resets int
}

func newParkedAsker() *parkedAsker {
	return &parkedAsker{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (a *parkedAsker) Ask(context.Context, string, string) (string, error) {
	a.entered <- struct{}{}
	<-a.release
	return "晴天", nil
}

func (a *parkedAsker) ResetRetryBudget() {
	a.mu.Lock()
	a.resets++
	a.mu.Unlock()
}

func (a *parkedAsker) resetCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

func (a *parkedAsker) SetEnabled(bool)     {}
func (a *parkedAsker) State() turing.State { return turing.State{Enabled: true, Keys: 1} }

// parkChat starts a question and returns once the handler is inside Ask.
func parkChat(t *testing.T, d *Dispatcher, ai *parkedAsker) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Handle(context.Background(), event.ChatMessage{UID: 1, Text: "#问 今天天气如何"})
	}()
	select {
	case <-ai.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("question never reached the gateway")
	}
	return done
}

func TestDailyRolloverWaitsForInFlightEvent(t *testing.T) {
	f := newFixture(t)
	ai := newParkedAsker()
	f.d.ai = ai

	handled := parkChat(t, f.d, ai)
	rolled := make(chan struct{})
	go func() {
		defer close(rolled)
		f.d.DailyRollover(context.Background())
	}()

	select {
	case <-rolled:
		t.Fatal("rollover ran while an event was being handled")
	case <-time.After(50 * time.Millisecond):
	}
	if n := ai.resetCount(); n != 0 {
		t.Fatalf("retry budget reset %d times during Ask", n)
	}

	close(ai.release)
	<-handled
	select {
	case <-rolled:
	case <-time.After(2 * time.Second):
		t.Fatal("rollover never ran")
	}
	if n := ai.resetCount(); n != 1 {
		t.Errorf("resets = %d, want 1", n)
	}
}

func TestScheduledNoticeWaitsForInFlightEvent(t *testing.T) {
	f := newFixture(t)
	ai := newParkedAsker()
	f.d.ai = ai
	f.state.OnStreamTransition(true)

	handled := parkChat(t, f.d, ai)
	noticed := make(chan struct{})
	go func() {
		defer close(noticed)
		f.d.ScheduledNotice(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	if got := f.poster.texts(); len(got) != 0 {
		t.Fatalf("posted %v while an event was being handled", got)
	}

	close(ai.release)
	<-handled
	<-noticed
	want := []string{"[AI]晴天", "关注主播不迷路"}
	got := f.poster.texts()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("posted = %v, want %v", got, want)
	}
}
