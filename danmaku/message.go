// Package danmaku implements the outbound chat sender for a live room.
//
// Sender enforces a minimum interval between unrelated posts, lets important
// messages bypass that interval, splits long text into room-sized chunks and
// offers templated helpers for the common acknowledgements (entry greetings,
// gift, guard and super chat thanks). Delivery itself goes through a Poster
// supplied by the platform adapter.
package danmaku

import (
	"context"
	"fmt"
)

// MaxChunkLen is the number of display units the room accepts per message.
const MaxChunkLen = 30

// Placement is where the message is rendered on the stream overlay.
type Placement int

const (
	PlacementScroll Placement = iota
	PlacementTop
	PlacementBottom
)

func (p Placement) String() string {
	switch p {
	case PlacementTop:
		return "top"
	case PlacementBottom:
		return "bottom"
	default:
		return "scroll"
	}
}

// Emphasis is the font size class of the message.
type Emphasis int

const (
	EmphasisNormal Emphasis = iota
	EmphasisSmall
)

func (e Emphasis) String() string {
	if e == EmphasisSmall {
		return "small"
	}
	return "normal"
}

// Message is one physical post. It is built and consumed inside a single send.
type Message struct {
	Text      string
	Placement Placement
	Emphasis  Emphasis
	Important bool
}

// Poster delivers a message to the room. Implementations must bound their own latency.
type Poster interface {
	Post(ctx context.Context, msg Message) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ctx context.Context, msg Message) error

func (f PosterFunc) Post(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Status is the result class of a send attempt.
type Status int

const (
	StatusSent Status = iota
	StatusSuppressed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusSuppressed:
		return "suppressed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one message. Err is set only for StatusFailed.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s (%s)", o.Status, o.Reason)
}

// Recorder observes every send outcome, e.g. to journal it.
type Recorder interface {
	RecordSend(ctx context.Context, msg Message, out Outcome)
}

// Chunk splits text into pieces of at most MaxChunkLen runes. Empty pieces are dropped.
func Chunk(text string) []string {
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/MaxChunkLen+1)
	for i := 0; i < len(runes); i += MaxChunkLen {
		end := min(i+MaxChunkLen, len(runes))
		if c := string(runes[i:end]); c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxChunkLen {
		return text
	}
	return string(runes[:MaxChunkLen])
}
