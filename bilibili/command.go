package bilibili

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/danmaku-reactor/event"
)

type medalInfo struct {
	MedalLevel   int    `json:"medal_level"`
	MedalName    string `json:"medal_name"`
	AnchorRoomID int64  `json:"anchor_roomid"`
	GuardLevel   int    `json:"guard_level"`
	IsLighted    int    `json:"is_lighted"`
}

func (m medalInfo) toMedal() event.Medal {
	return event.Medal{
		Name:         m.MedalName,
		Level:        m.MedalLevel,
		AnchorRoomID: m.AnchorRoomID,
		GuardLevel:   event.GuardLevel(m.GuardLevel),
		Lighted:      m.IsLighted == 1,
	}
}

// DecodeCommand turns one command body into a typed event. Commands
// without a typed variant come back as event.Unknown.
func DecodeCommand(body []byte) (event.Event, error) {
	var head struct {
		Cmd  string          `json:"cmd"`
		Data json.RawMessage `json:"data"`
		Info json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("bilibili: command: %w", err)
	}
	// Some commands carry a suffix, e.g. "DANMU_MSG:4:0:2:2:2:0".
	cmd, _, _ := strings.Cut(head.Cmd, ":")

	switch cmd {
	case "DANMU_MSG":
		return decodeDanmu(head.Info)
	case "INTERACT_WORD":
		var d struct {
			UID       int64     `json:"uid"`
			Uname     string    `json:"uname"`
			MsgType   int       `json:"msg_type"`
			FansMedal medalInfo `json:"fans_medal"`
		}
		if err := json.Unmarshal(head.Data, &d); err != nil {
			return nil, fmt.Errorf("bilibili: %s: %w", cmd, err)
		}
		// msg_type 1 is an entry; follows and shares use the same command.
		if d.MsgType != 0 && d.MsgType != 1 {
			return event.Unknown{Cmd: head.Cmd, Raw: body}, nil
		}
		return event.UserEnter{UID: event.UID(d.UID), Username: d.Uname, Medal: d.FansMedal.toMedal()}, nil
	case "ENTRY_EFFECT":
		var d struct {
			UID           int64  `json:"uid"`
			PrivilegeType int    `json:"privilege_type"`
			CopyWriting   string `json:"copy_writing"`
		}
		if err := json.Unmarshal(head.Data, &d); err != nil {
			return nil, fmt.Errorf("bilibili: %s: %w", cmd, err)
		}
		return event.GuardEntry{
			UID:        event.UID(d.UID),
			Username:   nameFromCopyWriting(d.CopyWriting),
			GuardLevel: event.GuardLevel(d.PrivilegeType),
		}, nil
	case "SEND_GIFT":
		var d struct {
			UID       int64     `json:"uid"`
			Uname     string    `json:"uname"`
			GiftName  string    `json:"giftName"`
			Num       int       `json:"num"`
			CoinType  string    `json:"coin_type"`
			TotalCoin int64     `json:"total_coin"`
			MedalInfo medalInfo `json:"medal_info"`
		}
		if err := json.Unmarshal(head.Data, &d); err != nil {
			return nil, fmt.Errorf("bilibili: %s: %w", cmd, err)
		}
		return event.Gift{
			UID:       event.UID(d.UID),
			Username:  d.Uname,
			GiftName:  d.GiftName,
			Num:       d.Num,
			CoinType:  d.CoinType,
			TotalCoin: d.TotalCoin,
			Medal:     d.MedalInfo.toMedal(),
		}, nil
	case "COMBO_SEND":
		var d struct {
			UID      int64  `json:"uid"`
			Uname    string `json:"uname"`
			GiftName string `json:"gift_name"`
			TotalNum int    `json:"total_num"`
		}
		if err := json.Unmarshal(head.Data, &d); err != nil {
			return nil, fmt.Errorf("bilibili: %s: %w", cmd, err)
		}
		return event.GiftCombo{UID: event.UID(d.UID), Username: d.Uname, GiftName: d.GiftName, TotalNum: d.TotalNum}, nil
	case "SUPER_CHAT_MESSAGE":
		var d struct {
			UID      int64  `json:"uid"`
			Message  string `json:"message"`
			Price    int    `json:"price"`
			UserInfo struct {
				Uname string `json:"uname"`
			} `json:"user_info"`
		}
		if err := json.Unmarshal(head.Data, &d); err != nil {
			return nil, fmt.Errorf("bilibili: %s: %w", cmd, err)
		}
		return event.SuperChat{UID: event.UID(d.UID), Username: d.UserInfo.Uname, Message: d.Message, Price: d.Price}, nil
	case "GUARD_BUY":
		var d struct {
			UID        int64  `json:"uid"`
			Username   string `json:"username"`
			GuardLevel int    `json:"guard_level"`
			Num        int    `json:"num"`
			Price      int64  `json:"price"`
			GiftName   string `json:"gift_name"`
		}
		if err := json.Unmarshal(head.Data, &d); err != nil {
			return nil, fmt.Errorf("bilibili: %s: %w", cmd, err)
		}
		return event.GuardBuy{
			UID:        event.UID(d.UID),
			Username:   d.Username,
			GuardLevel: event.GuardLevel(d.GuardLevel),
			Num:        d.Num,
			Price:      d.Price,
			GiftName:   d.GiftName,
		}, nil
	case "LIVE":
		var d struct {
			RoomID json.Number `json:"roomid"`
		}
		_ = json.Unmarshal(body, &d)
		id, _ := d.RoomID.Int64()
		return event.StreamStart{RoomID: id}, nil
	case "PREPARING":
		var d struct {
			RoomID json.Number `json:"roomid"`
		}
		_ = json.Unmarshal(body, &d)
		id, _ := d.RoomID.Int64()
		return event.StreamEnd{RoomID: id}, nil
	case "ROOM_REAL_TIME_MESSAGE_UPDATE":
		var d struct {
			Fans     int64 `json:"fans"`
			FansClub int64 `json:"fans_club"`
		}
		if err := json.Unmarshal(head.Data, &d); err != nil {
			return nil, fmt.Errorf("bilibili: %s: %w", cmd, err)
		}
		return event.FansUpdate{Fans: d.Fans, FansClub: d.FansClub}, nil
	case "NOTICE_MSG":
		var d struct {
			MsgCommon string `json:"msg_common"`
		}
		_ = json.Unmarshal(body, &d)
		return event.Notice{Message: d.MsgCommon}, nil
	default:
		return event.Unknown{Cmd: head.Cmd, Raw: body}, nil
	}
}

// decodeDanmu reads the positional info array of DANMU_MSG:
// info[0][4] send time ms, info[1] text, info[2] [uid, uname, ...],
// info[3] [level, name, anchor name, room id, ..., guard level at 10, lighted at 11].
func decodeDanmu(raw json.RawMessage) (event.Event, error) {
	var info []json.RawMessage
	if err := json.Unmarshal(raw, &info); err != nil || len(info) < 3 {
		return nil, fmt.Errorf("bilibili: DANMU_MSG: malformed info")
	}
	var msg event.ChatMessage
	if err := json.Unmarshal(info[1], &msg.Text); err != nil {
		return nil, fmt.Errorf("bilibili: DANMU_MSG text: %w", err)
	}
	var user []json.RawMessage
	if err := json.Unmarshal(info[2], &user); err != nil || len(user) < 2 {
		return nil, fmt.Errorf("bilibili: DANMU_MSG: malformed user")
	}
	var uid int64
	_ = json.Unmarshal(user[0], &uid)
	msg.UID = event.UID(uid)
	_ = json.Unmarshal(user[1], &msg.Username)

	var meta []json.RawMessage
	if json.Unmarshal(info[0], &meta) == nil && len(meta) > 4 {
		var ms int64
		if json.Unmarshal(meta[4], &ms) == nil && ms > 0 {
			msg.SentAt = time.UnixMilli(ms)
		}
	}
	if len(info) > 3 {
		var medal []json.RawMessage
		if json.Unmarshal(info[3], &medal) == nil && len(medal) >= 4 {
			_ = json.Unmarshal(medal[0], &msg.Medal.Level)
			_ = json.Unmarshal(medal[1], &msg.Medal.Name)
			_ = json.Unmarshal(medal[3], &msg.Medal.AnchorRoomID)
			if len(medal) > 11 {
				var guard, lighted int
				_ = json.Unmarshal(medal[10], &guard)
				_ = json.Unmarshal(medal[11], &lighted)
				msg.Medal.GuardLevel = event.GuardLevel(guard)
				msg.Medal.Lighted = lighted == 1
			}
		}
	}
	return msg, nil
}

// nameFromCopyWriting extracts the viewer name from "欢迎舰长 <%name%> 进入直播间".
func nameFromCopyWriting(s string) string {
	_, rest, ok := strings.Cut(s, "<%")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "%>")
	return name
}
