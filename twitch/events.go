package twitch

import (
	"strconv"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/danmaku-reactor/event"
)

func uid(u irc.User) event.UID {
	id, _ := strconv.ParseInt(u.ID, 10, 64)
	return event.UID(id)
}

func displayName(u irc.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// chatEvents maps a PRIVMSG. Cheers carry bits and become a gift as well as
// a chat line.
func chatEvents(msg irc.PrivateMessage) []event.Event {
	chat := event.ChatMessage{
		UID:      uid(msg.User),
		Username: displayName(msg.User),
		Text:     msg.Message,
		SentAt:   msg.Time,
	}
	if sub, ok := msg.User.Badges["subscriber"]; ok && sub > 0 {
		chat.Medal = event.Medal{Name: "subscriber", Level: sub}
	}
	if msg.Bits <= 0 {
		return []event.Event{chat}
	}
	return []event.Event{chat, event.Gift{
		UID:       chat.UID,
		Username:  chat.Username,
		GiftName:  "bits",
		Num:       msg.Bits,
		CoinType:  "bits",
		TotalCoin: int64(msg.Bits),
	}}
}

// noticeEvent maps a USERNOTICE. Subscriptions are treated like captain
// purchases; raids become notices.
func noticeEvent(msg irc.UserNoticeMessage) (event.Event, bool) {
	switch msg.MsgID {
	case "sub", "resub":
		months := atoiDefault(msg.MsgParams["msg-param-multimonth-duration"], 1)
		return event.GuardBuy{
			UID:        uid(msg.User),
			Username:   displayName(msg.User),
			GuardLevel: event.GuardCaptain,
			Num:        months,
			GiftName:   subPlanName(msg.MsgParams["msg-param-sub-plan"]),
		}, true
	case "subgift", "anonsubgift":
		return event.GuardBuy{
			UID:        uid(msg.User),
			Username:   displayName(msg.User),
			GuardLevel: event.GuardCaptain,
			Num:        atoiDefault(msg.MsgParams["msg-param-gift-months"], 1),
			GiftName:   subPlanName(msg.MsgParams["msg-param-sub-plan"]),
		}, true
	case "raid":
		return event.Notice{Message: msg.SystemMsg}, true
	case "":
		return nil, false
	default:
		return event.Unknown{Cmd: "USERNOTICE:" + msg.MsgID, Raw: []byte(msg.Raw)}, true
	}
}

func subPlanName(plan string) string {
	switch plan {
	case "Prime":
		return "Prime订阅"
	case "2000":
		return "二级订阅"
	case "3000":
		return "三级订阅"
	default:
		return "舰长"
	}
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}
