// Package dispatch maps inbound room events to reactions.
//
// A Dispatcher owns the session state and drives the danmaku sender and the
// AI gateway. Events are handled one at a time; scheduled jobs, console
// input and admin requests take the same lock, so no two reactions ever
// interleave against the shared state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/session"
	"github.com/onnwee/danmaku-reactor/telemetry"
	"github.com/onnwee/danmaku-reactor/turing"
)

// Asker answers chat questions.
type Asker interface {
	Ask(ctx context.Context, text, userID string) (string, error)
	ResetRetryBudget()
	SetEnabled(enabled bool)
	State() turing.State
}

// RosterFetcher loads the current guard roster of a room.
type RosterFetcher interface {
	FetchGuardRoster(ctx context.Context, roomID int64) (map[event.UID]event.GuardLevel, error)
}

// ProfileLookup answers questions about a viewer account.
type ProfileLookup interface {
	Relation(ctx context.Context, uid event.UID) (event.Relation, error)
	Profile(ctx context.Context, uid event.UID) (event.Profile, error)
}

// Journal records handled events. Failures are logged and ignored.
type Journal interface {
	RecordEvent(ctx context.Context, ev event.Event) error
}

// Options are the reaction settings that can change on reload.
type Options struct {
	RoomID         int64
	QuestionPrefix string
	AnswerPrefix   string
	Fallback       string
	ChunkDelay     time.Duration
	MinFollowers   int64
	MinMedalLevel  int
	Notices        []string
	LookupTimeout  time.Duration
}

// Deps are the collaborators of a Dispatcher. AI, Roster, Profiles and
// Journal may be nil.
type Deps struct {
	Sender   *danmaku.Sender
	State    *session.State
	AI       Asker
	Roster   RosterFetcher
	Profiles ProfileLookup
	Journal  Journal
}

// Dispatcher reacts to events. Create it with New.
type Dispatcher struct {
	mu sync.Mutex // serializes reactions

	sender   *danmaku.Sender
	state    *session.State
	ai       Asker
	roster   RosterFetcher
	profiles ProfileLookup
	journal  Journal

	optsMu sync.RWMutex
	opts   Options

	handled atomic.Uint64
	pick    func(n int) int
}

// New wires a Dispatcher. Sender and State are required.
func New(deps Deps, opts Options) (*Dispatcher, error) {
	if deps.Sender == nil || deps.State == nil {
		return nil, errors.New("dispatch: sender and state are required")
	}
	return &Dispatcher{
		sender:   deps.Sender,
		state:    deps.State,
		ai:       deps.AI,
		roster:   deps.Roster,
		profiles: deps.Profiles,
		journal:  deps.Journal,
		opts:     opts,
		pick:     rand.IntN,
	}, nil
}

func (d *Dispatcher) options() Options {
	d.optsMu.RLock()
	defer d.optsMu.RUnlock()
	return d.opts
}

// Run handles queued events until ctx is done or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context, q *Queue) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-q.C():
			if !ok {
				return nil
			}
			telemetry.SetQueueDepth(q.Len())
			d.Handle(ctx, ev)
		}
	}
}

// Handle reacts to one event. Errors are logged and counted, never returned.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "dispatch", "handle_event", telemetry.EventKindAttr(string(ev.Kind())))
	defer telemetry.EndSpan(span, nil)

	telemetry.TimeFunc(telemetry.EventHandleDuration, func() {
		d.handle(ctx, ev)
	})
	d.handled.Add(1)
	telemetry.RecordEvent(string(ev.Kind()))

	if d.journal != nil {
		if err := d.journal.RecordEvent(ctx, ev); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("journal event failed", slog.String("kind", string(ev.Kind())), slog.Any("err", err))
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev event.Event) {
	log := telemetry.LoggerWithCorr(ctx)
	switch e := ev.(type) {
	case event.ChatMessage:
		log.Info("【收到弹幕】", slog.String("uname", e.Username), slog.String("text", e.Text))
		d.onChat(ctx, e)
	case event.UserEnter:
		d.onUserEnter(ctx, e)
	case event.GuardEntry:
		log.Info("【"+e.GuardLevel.Name()+"进入】", slog.String("uname", e.Username))
		d.check(ctx, d.sender.WelcomeGuard(ctx, e.Username, e.GuardLevel.Name()))
	case event.Gift:
		log.Info("【收到礼物】", slog.String("uname", e.Username), slog.String("gift", e.GiftName), slog.Int("num", e.Num))
		d.check(ctx, d.sender.ThanksGift(ctx, e.Username, e.GiftName, e.Num))
	case event.GiftCombo:
		log.Info("【礼物连击】", slog.String("uname", e.Username), slog.String("gift", e.GiftName), slog.Int("total", e.TotalNum))
	case event.SuperChat:
		log.Info("【醒目留言】", slog.String("uname", e.Username), slog.Int("price", e.Price), slog.String("message", e.Message))
		d.check(ctx, d.sender.ThanksSuperChat(ctx, e.Username))
	case event.GuardBuy:
		log.Info("【大航海】", slog.String("uname", e.Username), slog.String("gift", e.GiftName),
			slog.Int("num", e.Num), slog.Float64("price_yuan", float64(e.Price)/1000))
		// Roster refresh failure keeps the stale roster and is already logged.
		_ = d.refreshRoster(ctx)
		d.check(ctx, d.sender.ThanksGuard(ctx, e.Username, e.GiftName, e.Num))
	case event.StreamStart:
		log.Warn("********************【直播开始】********************", slog.Int64("room_id", e.RoomID))
		d.state.OnStreamTransition(true)
	case event.StreamEnd:
		log.Warn("********************【直播结束】********************", slog.Int64("room_id", e.RoomID))
		d.state.OnStreamTransition(false)
	case event.ViewerCount:
		log.Info("【人气更新】", slog.Int64("popularity", e.Count))
	case event.FansUpdate:
		log.Info("粉丝数更新", slog.Int64("fans", e.Fans), slog.Int64("fans_club", e.FansClub))
	case event.Notice:
		log.Debug("全频道通知", slog.String("message", e.Message))
	case event.Unknown:
		log.Debug("unhandled room command", slog.String("cmd", e.Cmd), slog.Int("bytes", len(e.Raw)))
	default:
		log.Warn("unexpected event type", slog.String("type", fmt.Sprintf("%T", ev)))
	}
}

// onChat answers messages starting with the question prefix.
func (d *Dispatcher) onChat(ctx context.Context, e event.ChatMessage) {
	opts := d.options()
	if d.ai == nil || opts.QuestionPrefix == "" || !strings.HasPrefix(e.Text, opts.QuestionPrefix) {
		return
	}
	reply, err := d.ai.Ask(ctx, strings.TrimPrefix(e.Text, opts.QuestionPrefix), e.UID.String())
	switch {
	case errors.Is(err, turing.ErrDisabled):
		telemetry.LoggerWithCorr(ctx).Debug("ai disabled; question ignored", slog.String("uid", e.UID.String()))
		return
	case err != nil:
		report(ctx, telemetry.LoggerWithCorr(ctx), "ai answer failed; using fallback", err, slog.String("uid", e.UID.String()))
		reply = opts.Fallback
	}
	d.sendText(ctx, opts.AnswerPrefix+reply, opts.ChunkDelay)
}

// onUserEnter greets notable viewers once per session: big accounts or
// holders of this room's medal at a high enough level.
func (d *Dispatcher) onUserEnter(ctx context.Context, e event.UserEnter) {
	log := telemetry.LoggerWithCorr(ctx)
	if d.state.HasWelcomed(e.UID) {
		return
	}
	log.Info("【用户进入】", slog.String("uname", e.Username))

	opts := d.options()
	eligible := e.Medal.AnchorRoomID != 0 && e.Medal.AnchorRoomID == opts.RoomID && e.Medal.Level >= opts.MinMedalLevel
	if !eligible {
		if d.profiles == nil {
			return
		}
		rel, err := d.lookupRelation(ctx, e.UID)
		if err != nil {
			report(ctx, log, "relation lookup failed; not greeting", err, slog.String("uid", e.UID.String()))
			return
		}
		eligible = rel.Follower >= opts.MinFollowers
	}
	if !eligible {
		return
	}

	var sex string
	if d.profiles != nil {
		p, err := d.lookupProfile(ctx, e.UID)
		if err != nil {
			report(ctx, log, "profile lookup failed; greeting without prefix", err, slog.String("uid", e.UID.String()))
		} else {
			sex = p.Sex
		}
	}
	if !d.state.MarkWelcomedIfAbsent(e.UID) {
		return
	}
	d.check(ctx, d.sender.WelcomeEnter(ctx, e.Username, sex))
}

func (d *Dispatcher) lookupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := d.options().LookupTimeout; t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

func (d *Dispatcher) lookupRelation(ctx context.Context, uid event.UID) (event.Relation, error) {
	ctx, cancel := d.lookupCtx(ctx)
	defer cancel()
	rel, err := d.profiles.Relation(ctx, uid)
	if err != nil {
		return rel, fmt.Errorf("%w: relation %s: %w", ErrLookup, uid, err)
	}
	return rel, nil
}

func (d *Dispatcher) lookupProfile(ctx context.Context, uid event.UID) (event.Profile, error) {
	ctx, cancel := d.lookupCtx(ctx)
	defer cancel()
	p, err := d.profiles.Profile(ctx, uid)
	if err != nil {
		return p, fmt.Errorf("%w: profile %s: %w", ErrLookup, uid, err)
	}
	return p, nil
}

// refreshRoster swaps in a freshly fetched roster. On failure the cached
// roster is kept. Caller holds d.mu.
func (d *Dispatcher) refreshRoster(ctx context.Context) error {
	log := telemetry.LoggerWithCorr(ctx)
	if d.roster == nil {
		return ErrNoCollaborator
	}
	ctx, cancel := d.lookupCtx(ctx)
	defer cancel()
	roster, err := d.roster.FetchGuardRoster(ctx, d.options().RoomID)
	if err != nil {
		err = fmt.Errorf("%w: guard roster: %w", ErrLookup, err)
		report(ctx, log, "guard roster refresh failed; keeping cached roster", err)
		return err
	}
	d.state.ReplaceRoster(roster)
	log.Info("大航海成员列表已刷新", slog.Int("members", len(roster)))
	return nil
}

func (d *Dispatcher) sendText(ctx context.Context, text string, delay time.Duration) []danmaku.Outcome {
	outs := d.sender.SendText(ctx, text, delay)
	for _, o := range outs {
		d.check(ctx, o)
	}
	return outs
}

// check reports failed sends. Suppressed sends are logged by the sender.
func (d *Dispatcher) check(ctx context.Context, out danmaku.Outcome) {
	if out.Status != danmaku.StatusFailed {
		return
	}
	report(ctx, telemetry.LoggerWithCorr(ctx), "reaction not delivered", fmt.Errorf("%w: %w", ErrTransport, out.Err))
}
