package danmaku

import (
	"context"
	"strconv"
	"strings"
)

// Templates are the acknowledgement texts. Placeholders: ${uname}, ${sex},
// ${gift}, ${num}, ${guard}.
type Templates struct {
	WelcomeEnter    string
	WelcomeGuard    string
	ThanksGift      string
	ThanksGuard     string
	ThanksSuperChat string
}

// DefaultTemplates mirror the texts the bot has always used.
var DefaultTemplates = Templates{
	WelcomeEnter:    "欢迎${sex}${uname}进入直播间",
	WelcomeGuard:    "喵~欢迎${guard}大人${uname}光临直播间",
	ThanksGift:      "感谢${uname}投喂的${gift}x${num}",
	ThanksGuard:     "感谢${uname}开通的${num}个月${gift}~",
	ThanksSuperChat: "感谢${uname}发送的醒目留言~",
}

func (t Templates) withDefaults() Templates {
	if t.WelcomeEnter == "" {
		t.WelcomeEnter = DefaultTemplates.WelcomeEnter
	}
	if t.WelcomeGuard == "" {
		t.WelcomeGuard = DefaultTemplates.WelcomeGuard
	}
	if t.ThanksGift == "" {
		t.ThanksGift = DefaultTemplates.ThanksGift
	}
	if t.ThanksGuard == "" {
		t.ThanksGuard = DefaultTemplates.ThanksGuard
	}
	if t.ThanksSuperChat == "" {
		t.ThanksSuperChat = DefaultTemplates.ThanksSuperChat
	}
	return t
}

func render(tmpl string, kv ...string) string {
	return truncate(strings.NewReplacer(kv...).Replace(tmpl))
}

// sexPrefix turns the profile gender into the greeting prefix; "保密" and unknown yield none.
func sexPrefix(sex string) string {
	switch sex {
	case "男", "女":
		return sex + "妈妈"
	default:
		return ""
	}
}

func (s *Sender) tmpl() Templates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.templates
}

// WelcomeEnter greets a regular viewer. Routine greetings may be throttled.
func (s *Sender) WelcomeEnter(ctx context.Context, uname, sex string) Outcome {
	return s.Send(ctx, Message{
		Text:      render(s.tmpl().WelcomeEnter, "${sex}", sexPrefix(sex), "${uname}", uname),
		Placement: PlacementBottom,
		Emphasis:  EmphasisSmall,
	})
}

// WelcomeGuard greets a guard member entering the room.
func (s *Sender) WelcomeGuard(ctx context.Context, uname, guardName string) Outcome {
	return s.Send(ctx, Message{
		Text:      render(s.tmpl().WelcomeGuard, "${guard}", guardName, "${uname}", uname),
		Placement: PlacementBottom,
		Emphasis:  EmphasisSmall,
		Important: true,
	})
}

// ThanksGift acknowledges a gift.
func (s *Sender) ThanksGift(ctx context.Context, uname, giftName string, num int) Outcome {
	return s.Send(ctx, Message{
		Text:      render(s.tmpl().ThanksGift, "${uname}", uname, "${gift}", giftName, "${num}", strconv.Itoa(num)),
		Placement: PlacementTop,
		Emphasis:  EmphasisSmall,
		Important: true,
	})
}

// ThanksGuard acknowledges a guard purchase of num months.
func (s *Sender) ThanksGuard(ctx context.Context, uname, giftName string, num int) Outcome {
	return s.Send(ctx, Message{
		Text:      render(s.tmpl().ThanksGuard, "${uname}", uname, "${gift}", giftName, "${num}", strconv.Itoa(num)),
		Placement: PlacementTop,
		Emphasis:  EmphasisNormal,
		Important: true,
	})
}

// ThanksSuperChat acknowledges a super chat.
func (s *Sender) ThanksSuperChat(ctx context.Context, uname string) Outcome {
	return s.Send(ctx, Message{
		Text:      render(s.tmpl().ThanksSuperChat, "${uname}", uname),
		Placement: PlacementTop,
		Emphasis:  EmphasisNormal,
		Important: true,
	})
}
