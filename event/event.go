// Package event defines the typed inbound room events consumed by the dispatcher.
//
// Every event kind is its own struct carrying only the fields its reaction
// policy needs. Platform adapters (bilibili, twitch) decode their wire frames
// into these types; the dispatcher switches over them exhaustively.
package event

import (
	"errors"
	"strconv"
	"time"
)

// ErrFatalConnection is returned by an event source that lost its room
// connection permanently. It is the only error that should stop the process.
var ErrFatalConnection = errors.New("room connection permanently lost")

// Kind names an event variant. Used for logging and metric labels.
type Kind string

const (
	KindChatMessage Kind = "chat_message"
	KindUserEnter   Kind = "user_enter"
	KindGuardEntry  Kind = "guard_entry"
	KindGift        Kind = "gift"
	KindGiftCombo   Kind = "gift_combo"
	KindSuperChat   Kind = "super_chat"
	KindGuardBuy    Kind = "guard_buy"
	KindStreamStart Kind = "stream_start"
	KindStreamEnd   Kind = "stream_end"
	KindViewerCount Kind = "viewer_count"
	KindFansUpdate  Kind = "fans_update"
	KindNotice      Kind = "notice"
	KindUnknown     Kind = "unknown"
)

// Event is the sealed sum type of inbound room events.
type Event interface {
	Kind() Kind
	isEvent()
}

// UID identifies a viewer on the room platform.
type UID int64

func (u UID) String() string { return strconv.FormatInt(int64(u), 10) }

// Medal is the fan medal a viewer wears when acting in a room.
type Medal struct {
	Name         string
	Level        int
	AnchorRoomID int64
	GuardLevel   GuardLevel
	Lighted      bool
}

// ChatMessage is a plain chat line (danmaku).
type ChatMessage struct {
	UID      UID
	Username string
	Text     string
	Medal    Medal
	SentAt   time.Time
}

// UserEnter is emitted when a regular viewer enters the room.
type UserEnter struct {
	UID      UID
	Username string
	Medal    Medal
}

// GuardEntry is the highlighted entry effect shown for guard members.
type GuardEntry struct {
	UID        UID
	Username   string
	GuardLevel GuardLevel
}

// Gift is a single gift send.
type Gift struct {
	UID       UID
	Username  string
	GiftName  string
	Num       int
	CoinType  string
	TotalCoin int64
	Medal     Medal
}

// GiftCombo summarizes a combo of repeated gifts.
type GiftCombo struct {
	UID      UID
	Username string
	GiftName string
	TotalNum int
}

// SuperChat is a paid highlighted message.
type SuperChat struct {
	UID      UID
	Username string
	Message  string
	Price    int
}

// GuardBuy is a guard (membership) purchase.
type GuardBuy struct {
	UID        UID
	Username   string
	GuardLevel GuardLevel
	Num        int
	Price      int64
	GiftName   string
}

// StreamStart marks the room going live.
type StreamStart struct{ RoomID int64 }

// StreamEnd marks the room going offline.
type StreamEnd struct{ RoomID int64 }

// ViewerCount carries the popularity value from heartbeat replies.
type ViewerCount struct{ Count int64 }

// FansUpdate carries the room follower and fan club counts.
type FansUpdate struct {
	Fans     int64
	FansClub int64
}

// Notice is a platform-wide broadcast (gift banners, raids).
type Notice struct{ Message string }

// Unknown wraps a frame the decoder has no typed variant for.
type Unknown struct {
	Cmd string
	Raw []byte
}

func (ChatMessage) Kind() Kind { return KindChatMessage }
func (UserEnter) Kind() Kind   { return KindUserEnter }
func (GuardEntry) Kind() Kind  { return KindGuardEntry }
func (Gift) Kind() Kind        { return KindGift }
func (GiftCombo) Kind() Kind   { return KindGiftCombo }
func (SuperChat) Kind() Kind   { return KindSuperChat }
func (GuardBuy) Kind() Kind    { return KindGuardBuy }
func (StreamStart) Kind() Kind { return KindStreamStart }
func (StreamEnd) Kind() Kind   { return KindStreamEnd }
func (ViewerCount) Kind() Kind { return KindViewerCount }
func (FansUpdate) Kind() Kind  { return KindFansUpdate }
func (Notice) Kind() Kind      { return KindNotice }
func (Unknown) Kind() Kind     { return KindUnknown }

func (ChatMessage) isEvent() {}
func (UserEnter) isEvent()   {}
func (GuardEntry) isEvent()  {}
func (Gift) isEvent()        {}
func (GiftCombo) isEvent()   {}
func (SuperChat) isEvent()   {}
func (GuardBuy) isEvent()    {}
func (StreamStart) isEvent() {}
func (StreamEnd) isEvent()   {}
func (ViewerCount) isEvent() {}
func (FansUpdate) isEvent()  {}
func (Notice) isEvent()      {}
func (Unknown) isEvent()     {}
