package twitch

import (
	"context"
	"errors"

	"github.com/onnwee/danmaku-reactor/event"
)

// ErrUnsupported is returned for lookups Twitch has no public API for.
var ErrUnsupported = errors.New("twitch: lookup not supported")

// Lookup answers viewer questions through Helix.
type Lookup struct {
	Helix *HelixClient
}

// Relation reports the follower count of the viewer's own channel.
func (l Lookup) Relation(ctx context.Context, uid event.UID) (event.Relation, error) {
	n, err := l.Helix.FollowerCount(ctx, uid.String())
	if err != nil {
		return event.Relation{}, err
	}
	return event.Relation{Follower: n}, nil
}

// Profile always fails; viewers greeted on Twitch get no honorific.
func (Lookup) Profile(context.Context, event.UID) (event.Profile, error) {
	return event.Profile{}, ErrUnsupported
}
