// Package session holds the per-process room state: the cached guard
// roster, the set of viewers already greeted and the streaming flag.
package session

import (
	"sync"

	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/telemetry"
)

// State is created once at startup and mutated in place.
type State struct {
	mu        sync.RWMutex
	streaming bool
	roster    map[event.UID]event.GuardLevel
	welcomed  map[event.UID]struct{}
	dedupe    bool
}

// New returns an offline State. dedupe controls whether viewers are greeted
// only once per streaming session.
func New(dedupe bool) *State {
	return &State{
		roster:   map[event.UID]event.GuardLevel{},
		welcomed: map[event.UID]struct{}{},
		dedupe:   dedupe,
	}
}

// ReplaceRoster swaps in a copy of roster wholesale.
func (s *State) ReplaceRoster(roster map[event.UID]event.GuardLevel) {
	next := make(map[event.UID]event.GuardLevel, len(roster))
	for uid, lvl := range roster {
		next[uid] = lvl
	}
	s.mu.Lock()
	s.roster = next
	s.mu.Unlock()
	telemetry.SetRosterSize(len(next))
}

// IsGuardMember reports whether uid is in the cached roster.
func (s *State) IsGuardMember(uid event.UID) bool {
	_, ok := s.GuardLevelOf(uid)
	return ok
}

// GuardLevelOf returns the cached guard level of uid.
func (s *State) GuardLevelOf(uid event.UID) (event.GuardLevel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lvl, ok := s.roster[uid]
	return lvl, ok
}

// MarkWelcomedIfAbsent returns true the first time uid is seen since the
// last stream transition. With dedupe off it always returns true.
func (s *State) MarkWelcomedIfAbsent(uid event.UID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dedupe {
		return true
	}
	if _, seen := s.welcomed[uid]; seen {
		return false
	}
	s.welcomed[uid] = struct{}{}
	telemetry.SetWelcomed(len(s.welcomed))
	return true
}

// HasWelcomed reports whether uid was greeted in this session. Always false with dedupe off.
func (s *State) HasWelcomed(uid event.UID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.dedupe {
		return false
	}
	_, seen := s.welcomed[uid]
	return seen
}

// OnStreamTransition records the live state and clears the welcomed set.
// Every call clears, including repeated notifications of the same state.
func (s *State) OnStreamTransition(streaming bool) {
	s.mu.Lock()
	s.streaming = streaming
	clear(s.welcomed)
	s.mu.Unlock()
	telemetry.UpdateStreamingGauge(streaming)
	telemetry.SetWelcomed(0)
}

// SetStreaming records the live state without clearing anything. Used for
// the initial room info lookup.
func (s *State) SetStreaming(streaming bool) {
	s.mu.Lock()
	s.streaming = streaming
	s.mu.Unlock()
	telemetry.UpdateStreamingGauge(streaming)
}

// IsStreaming reports the live state.
func (s *State) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

// SetDedupe toggles greet-once behavior. Turning it off keeps the set so
// turning it back on within a session still remembers earlier greetings.
func (s *State) SetDedupe(on bool) {
	s.mu.Lock()
	s.dedupe = on
	s.mu.Unlock()
}

// Snapshot is a read-only view for status reporting.
type Snapshot struct {
	Streaming  bool                           `json:"streaming"`
	Dedupe     bool                           `json:"dedupe"`
	RosterSize int                            `json:"roster_size"`
	Welcomed   int                            `json:"welcomed"`
	Roster     map[event.UID]event.GuardLevel `json:"-"`
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := make(map[event.UID]event.GuardLevel, len(s.roster))
	for uid, lvl := range s.roster {
		roster[uid] = lvl
	}
	return Snapshot{
		Streaming:  s.streaming,
		Dedupe:     s.dedupe,
		RosterSize: len(s.roster),
		Welcomed:   len(s.welcomed),
		Roster:     roster,
	}
}
