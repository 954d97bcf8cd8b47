package collab

import (
	"errors"
	"sort"
	"sync"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

// joinRetries bounds how often Join chases a room that evicts itself
// between lookup and registration.
const joinRetries = 5

// Hub maps document ids to live rooms. It guarantees at most one
// authoritative room per document id: rooms are created under the hub lock
// and eviction removes exactly the instance that evicted itself.
type Hub struct {
	store  core.DocumentStore
	events core.SessionEventLogger
	cfg    Config

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(store core.DocumentStore, events core.SessionEventLogger, cfg Config) *Hub {
	return &Hub{
		store:  store,
		events: events,
		cfg:    cfg,
		rooms:  make(map[string]*Room),
	}
}

// GetOrCreate returns the live room for a document, starting one in
// cold-start if none exists.
func (h *Hub) GetOrCreate(documentID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[documentID]; ok {
		return r
	}
	r := newRoom(documentID, h.store, h.events, h.cfg, h.remove)
	h.rooms[documentID] = r
	go r.run()
	logrus.WithField("document_id", documentID).Info("room created")
	return r
}

// Join attaches a new session to the document's room. A room that evicts
// itself mid-join is forgotten and the join retries against a fresh one.
func (h *Hub) Join(documentID, email, name string) (*Room, *Session, error) {
	for i := 0; i < joinRetries; i++ {
		room := h.GetOrCreate(documentID)
		sess, err := room.Join(email, name)
		if errors.Is(err, ErrRoomClosed) {
			h.remove(room)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return room, sess, nil
	}
	return nil, nil, errors.New("room kept closing during join")
}

// remove forgets a room, but only if the map still holds that exact
// instance; a replacement created after eviction must not be dropped.
func (h *Hub) remove(r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[r.documentID] == r {
		delete(h.rooms, r.documentID)
	}
}

// Snapshot lists live rooms for the monitoring API, busiest first.
func (h *Hub) Snapshot() []RoomStat {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	stats := make([]RoomStat, 0, len(rooms))
	for _, r := range rooms {
		if st, ok := r.Stats(); ok {
			stats = append(stats, st)
		}
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Users == stats[j].Users {
			return stats[i].DocumentID < stats[j].DocumentID
		}
		return stats[i].Users > stats[j].Users
	})
	return stats
}

// Shutdown flushes and stops every live room. Blocks until each room has
// persisted its content.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Shutdown()
	}
	logrus.WithField("rooms", len(rooms)).Info("hub shut down")
}
