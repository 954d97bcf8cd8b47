package collab

import (
	"sort"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// outboundBuffer is the per-session send queue depth. A peer that cannot
// drain this many messages is treated as broken and removed.
const outboundBuffer = 64

// Session is one live connection inside a room. It never outlives its room:
// the registry that created it is the only thing that closes it.
type Session struct {
	ID       string
	Presence *Presence

	out     chan ServerMessage
	closing bool
}

// send queues a message without ever blocking the room loop. It reports
// false when the session is closing or its queue is full.
func (s *Session) send(msg ServerMessage) bool {
	if s.closing {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// Outbound is the channel drained by the connection's write pump. It is
// closed when the session is unregistered.
func (s *Session) Outbound() <-chan ServerMessage {
	return s.out
}

// registry owns the session set of one room. It is confined to the room
// loop, so it needs no locking.
type registry struct {
	sessions map[string]*Session
	log      *logrus.Entry
}

func newRegistry(log *logrus.Entry) *registry {
	return &registry{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

func (r *registry) register(p *Presence) *Session {
	s := &Session{
		ID:       ulid.Make().String(),
		Presence: p,
		out:      make(chan ServerMessage, outboundBuffer),
	}
	p.UserID = s.ID
	r.sessions[s.ID] = s
	return s
}

// unregister removes a session and closes its outbound channel. Idempotent:
// a second call for the same id returns nil.
func (r *registry) unregister(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	s.closing = true
	close(s.out)
	return s
}

func (r *registry) len() int {
	return len(r.sessions)
}

// broadcast delivers a message to every session except excludeID. A failed
// send never blocks delivery to the rest; the failing sessions are returned
// so the caller can remove them.
func (r *registry) broadcast(msg ServerMessage, excludeID string) []*Session {
	var failed []*Session
	for _, s := range r.sessions {
		if s.ID == excludeID {
			continue
		}
		if !s.send(msg) {
			r.log.WithField("session_id", s.ID).Warn("dropping unresponsive session")
			failed = append(failed, s)
		}
	}
	return failed
}

// list returns the live presences for loop-internal mutation, ordered by
// join time (session ids are ULIDs, so lexical order is join order).
func (r *registry) list() []*Presence {
	out := make([]*Presence, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Presence)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// snapshot copies every presence for embedding in outbound messages. The
// write pump marshals those off the loop, so they must not share structs
// with the registry. A shallow copy is enough: Cursor is replace-on-write.
func (r *registry) snapshot() []Presence {
	out := make([]Presence, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s.Presence)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *registry) colorsInUse() map[string]bool {
	used := make(map[string]bool, len(r.sessions))
	for _, s := range r.sessions {
		used[s.Presence.Color] = true
	}
	return used
}
