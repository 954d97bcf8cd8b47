package collab

import (
	"context"
	"errors"
	"time"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

// ErrRoomClosed is returned by Join when the room evicted itself between
// the hub lookup and the join. Callers retry against a fresh room.
var ErrRoomClosed = errors.New("room is closed")

const (
	loadTimeout = 30 * time.Second
	inboxDepth  = 256
)

// roomState is the lifecycle of a room actor.
type roomState int

const (
	stateColdStart roomState = iota
	stateActive
	stateDraining
	stateEvicted
)

func (s roomState) String() string {
	switch s {
	case stateColdStart:
		return "cold-start"
	case stateActive:
		return "active"
	case stateDraining:
		return "draining"
	default:
		return "evicted"
	}
}

// Config tunes room timing. Zero values take the defaults.
type Config struct {
	// SaveDelay is the persistence debounce window.
	SaveDelay time.Duration
	// IdleThreshold is how long a session may be inactive before it is
	// marked idle (it is not disconnected).
	IdleThreshold time.Duration
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
	// EditingWindow is how long after the last applied operation a session
	// still counts as editing.
	EditingWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		SaveDelay:     2 * time.Second,
		IdleThreshold: 60 * time.Second,
		SweepInterval: 15 * time.Second,
		EditingWindow: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SaveDelay <= 0 {
		c.SaveDelay = d.SaveDelay
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.EditingWindow <= 0 {
		c.EditingWindow = d.EditingWindow
	}
	return c
}

// RoomStat is a point-in-time view of a live room for the listing API.
type RoomStat struct {
	DocumentID   string    `json:"id"`
	Users        int       `json:"users"`
	Version      int64     `json:"version"`
	LastModified time.Time `json:"lastModified"`
}

// Room is the single authoritative actor for one document. All state below
// the inbox is confined to the run loop: messages are handled one at a
// time, in arrival order, to completion, so the version check and the apply
// can never race.
type Room struct {
	documentID string
	cfg        Config
	store      core.DocumentStore
	events     core.SessionEventLogger
	log        *logrus.Entry

	inbox   chan roomEvent
	done    chan struct{}
	onEvict func(*Room)

	// loop-confined state
	state        roomState
	version      int64
	content      string
	lastModified time.Time
	sessions     *registry
	saver        *saver
}

type (
	roomEvent interface{ roomEvent() }

	joinRequest struct {
		email string
		name  string
		reply chan joinReply
	}
	joinReply struct {
		sess *Session
		err  error
	}

	inboundFrame struct {
		sess *Session
		data []byte
	}

	leaveRequest struct {
		sess *Session
	}

	saveTick   struct{}
	saveFailed struct{}

	statRequest struct {
		reply chan RoomStat
	}

	shutdownRequest struct {
		reply chan struct{}
	}
)

func (joinRequest) roomEvent()     {}
func (inboundFrame) roomEvent()    {}
func (leaveRequest) roomEvent()    {}
func (saveTick) roomEvent()        {}
func (saveFailed) roomEvent()      {}
func (statRequest) roomEvent()     {}
func (shutdownRequest) roomEvent() {}

func newRoom(documentID string, store core.DocumentStore, events core.SessionEventLogger, cfg Config, onEvict func(*Room)) *Room {
	log := logrus.WithField("document_id", documentID)
	r := &Room{
		documentID: documentID,
		cfg:        cfg.withDefaults(),
		store:      store,
		events:     events,
		log:        log,
		inbox:      make(chan roomEvent, inboxDepth),
		done:       make(chan struct{}),
		onEvict:    onEvict,
		state:      stateColdStart,
		sessions:   newRegistry(log),
	}
	r.saver = newSaver(store, r.cfg.SaveDelay, r.wakeSave, log)
	return r
}

// DocumentID returns the document this room serves.
func (r *Room) DocumentID() string {
	return r.documentID
}

// Join registers a new session. It blocks until the room has finished its
// cold-start load (only the first joiner pays that cost) and the welcome
// message has been queued.
func (r *Room) Join(email, name string) (*Session, error) {
	req := joinRequest{email: email, name: name, reply: make(chan joinReply, 1)}
	select {
	case r.inbox <- req:
	case <-r.done:
		return nil, ErrRoomClosed
	}
	select {
	case rep := <-req.reply:
		return rep.sess, rep.err
	case <-r.done:
		return nil, ErrRoomClosed
	}
}

// Deliver hands a raw inbound frame to the room loop. It reports false when
// the room is gone and the caller should drop the connection.
func (r *Room) Deliver(sess *Session, data []byte) bool {
	select {
	case r.inbox <- inboundFrame{sess: sess, data: data}:
		return true
	case <-r.done:
		return false
	}
}

// Leave removes a session after a socket close or read error. Safe to call
// more than once.
func (r *Room) Leave(sess *Session) {
	select {
	case r.inbox <- leaveRequest{sess: sess}:
	case <-r.done:
	}
}

// Stats reports the room's current size and version, or ok=false when the
// room evicted itself concurrently.
func (r *Room) Stats() (RoomStat, bool) {
	req := statRequest{reply: make(chan RoomStat, 1)}
	select {
	case r.inbox <- req:
	case <-r.done:
		return RoomStat{}, false
	}
	select {
	case st := <-req.reply:
		return st, true
	case <-r.done:
		return RoomStat{}, false
	}
}

// Shutdown flushes pending content and stops the room. Used on process
// shutdown; idle eviction happens on its own when the last session leaves.
func (r *Room) Shutdown() {
	req := shutdownRequest{reply: make(chan struct{})}
	select {
	case r.inbox <- req:
	case <-r.done:
		return
	}
	select {
	case <-req.reply:
	case <-r.done:
	}
}

// wakeSave re-enters the loop when the debounce timer fires. Dropped if the
// room is already gone: eviction flushed synchronously.
func (r *Room) wakeSave() {
	select {
	case r.inbox <- saveTick{}:
	case <-r.done:
	}
}

func (r *Room) run() {
	r.load()

	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case ev := <-r.inbox:
			if r.handle(ev) {
				return
			}
		case <-sweep.C:
			r.sweepIdle(time.Now())
		}
	}
}

// load restores prior content from the external store. A missing document
// starts empty at version 0; a store failure is logged and the room starts
// empty rather than refusing to serve live edits.
func (r *Room) load() {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	doc, err := r.store.Load(ctx, r.documentID)
	switch {
	case err == nil:
		r.content = doc.Content
		r.lastModified = doc.UpdatedAt
		r.log.WithField("content_length", len(doc.Content)).Info("room restored from store")
	case errors.Is(err, core.ErrNotFound):
		r.log.Info("room started with empty document")
	default:
		r.log.WithError(err).Error("failed to restore document, starting empty")
	}
	r.state = stateActive
}

// handle processes one loop event. It returns true when the room has
// evicted itself and the loop must stop.
func (r *Room) handle(ev roomEvent) bool {
	switch ev := ev.(type) {
	case joinRequest:
		r.handleJoin(ev)
	case inboundFrame:
		return r.handleFrame(ev.sess, ev.data)
	case leaveRequest:
		return r.removeSession(ev.sess.ID, "disconnect")
	case saveTick:
		r.saver.saveAsync(r.documentID, r.content, r.lastModified, r.saveRetry)
	case saveFailed:
		r.saver.markDirty()
	case statRequest:
		ev.reply <- RoomStat{
			DocumentID:   r.documentID,
			Users:        r.sessions.len(),
			Version:      r.version,
			LastModified: r.lastModified,
		}
	case shutdownRequest:
		r.evict()
		close(ev.reply)
		return true
	}
	return false
}

func (r *Room) saveRetry() {
	select {
	case r.inbox <- saveFailed{}:
	case <-r.done:
	}
}

func (r *Room) handleJoin(req joinRequest) {
	now := time.Now()
	p := &Presence{
		Email:        req.email,
		DisplayName:  req.name,
		Color:        assignColor(req.email, r.sessions.colorsInUse()),
		LastActiveAt: now,
	}
	sess := r.sessions.register(p)

	sess.send(newWelcome(r.sessions.snapshot(), r.version, r.content))
	r.dropFailed(r.sessions.broadcast(newUserJoined(*p), sess.ID))
	r.logSessionEvent(req.email, "join")

	r.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"email":      req.email,
		"users":      r.sessions.len(),
	}).Info("session joined")

	req.reply <- joinReply{sess: sess}
}

// handleFrame parses and dispatches one inbound frame. A malformed or
// unknown message is logged and dropped; it never takes down the room or
// touches other sessions. Returns true when a leave emptied the room.
func (r *Room) handleFrame(sess *Session, data []byte) bool {
	msg, err := decodeClientMessage(data)
	if err != nil {
		r.log.WithError(err).WithField("session_id", sess.ID).Warn("dropping malformed message")
		sess.send(newError("malformed message"))
		return false
	}

	switch msg.Type {
	case ClientOperation:
		r.applyOperation(sess, msg)
	case ClientCursor:
		r.updateCursor(sess, msg)
	case ClientPing:
		sess.Presence.touch(time.Now())
		sess.send(newPong())
	case ClientSyncRequest:
		// Always safe: reports current state, mutates nothing.
		sess.send(newSync(r.version, r.content))
	case ClientLeave:
		return r.removeSession(sess.ID, "leave")
	default:
		r.log.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"type":       string(msg.Type),
		}).Warn("dropping unknown message type")
		sess.send(newError("unknown message type"))
	}
	return false
}

// applyOperation is the version gate. A stale client version or an
// out-of-range operation is answered with a sync of the authoritative
// state; nothing is merged and nothing is partially applied.
func (r *Room) applyOperation(sess *Session, msg *ClientMessage) {
	now := time.Now()
	sess.Presence.touch(now)

	if msg.Op == nil || msg.Version == nil {
		sess.send(newError("operation requires op and version"))
		return
	}

	if *msg.Version != r.version {
		r.log.WithFields(logrus.Fields{
			"session_id":     sess.ID,
			"client_version": *msg.Version,
			"room_version":   r.version,
		}).Debug("stale operation, resyncing sender")
		sess.send(newSync(r.version, r.content))
		return
	}

	next, err := msg.Op.Apply(r.content)
	if err != nil {
		r.log.WithError(err).WithField("session_id", sess.ID).Warn("rejecting operation, resyncing sender")
		sess.send(newSync(r.version, r.content))
		return
	}

	r.content = next
	r.version++
	r.lastModified = now
	sess.Presence.IsEditing = true
	sess.Presence.lastEditAt = now

	sess.send(newAck(r.version))
	r.dropFailed(r.sessions.broadcast(newOperation(msg.Op, sess.ID, r.version), sess.ID))
	r.saver.contentChanged()
}

func (r *Room) updateCursor(sess *Session, msg *ClientMessage) {
	sess.Presence.touch(time.Now())

	if msg.From == nil {
		sess.Presence.Cursor = nil
	} else {
		sess.Presence.Cursor = &CursorRange{From: *msg.From, To: msg.To}
	}

	update := UserUpdatedMessage{
		Type:   ServerUserUpdated,
		UserID: sess.ID,
		Cursor: sess.Presence.Cursor,
	}
	r.dropFailed(r.sessions.broadcast(update, sess.ID))
}

// sweepIdle flags sessions inactive past the threshold and clears stale
// editing markers. Idle sessions stay connected.
func (r *Room) sweepIdle(now time.Time) {
	for _, p := range r.sessions.list() {
		var changed bool
		update := UserUpdatedMessage{Type: ServerUserUpdated, UserID: p.UserID}

		if !p.IsIdle && now.Sub(p.LastActiveAt) > r.cfg.IdleThreshold {
			p.IsIdle = true
			idle := true
			update.IsIdle = &idle
			changed = true
		}
		if p.IsEditing && now.Sub(p.lastEditAt) > r.cfg.EditingWindow {
			p.IsEditing = false
			editing := false
			update.IsEditing = &editing
			changed = true
		}
		if changed {
			// Unlike cursor moves, the owner did not originate this change,
			// so it gets the update too.
			r.dropFailed(r.sessions.broadcast(update, ""))
		}
	}
}

// removeSession unregisters a session, tells the others, and evicts the
// room when it was the last one. Idempotent. Returns true when the room
// evicted itself.
func (r *Room) removeSession(id, kind string) bool {
	removed := r.sessions.unregister(id)
	if removed == nil {
		return false
	}

	r.dropFailed(r.sessions.broadcast(newUserLeft(id), id))
	r.logSessionEvent(removed.Presence.Email, kind)

	r.log.WithFields(logrus.Fields{
		"session_id": id,
		"kind":       kind,
		"users":      r.sessions.len(),
	}).Info("session left")

	if r.sessions.len() == 0 {
		r.evict()
		return true
	}
	return false
}

// dropFailed removes sessions whose outbound queue rejected a broadcast.
// Removing one can fail broadcasts to others, so iterate to a fixed point.
func (r *Room) dropFailed(failed []*Session) {
	for len(failed) > 0 {
		next := failed[0]
		failed = failed[1:]
		if r.removeSession(next.ID, "send-failure") {
			return
		}
	}
}

// evict flushes pending content synchronously, then terminates the actor.
// The flush happens before the transition so no edit inside an open
// debounce window is lost.
func (r *Room) evict() {
	if r.state == stateEvicted {
		return
	}
	r.state = stateDraining

	for _, p := range r.sessions.list() {
		r.sessions.unregister(p.UserID)
	}

	if err := r.saver.flush(r.documentID, r.content, r.lastModified); err != nil {
		r.log.WithError(err).Error("eviction flush failed, content lost unless a client rejoins")
	}

	r.state = stateEvicted
	close(r.done)
	if r.onEvict != nil {
		r.onEvict(r)
	}
	r.log.WithField("version", r.version).Info("room evicted")
}

func (r *Room) logSessionEvent(email, kind string) {
	if r.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.events.LogSessionEvent(ctx, r.documentID, email, kind); err != nil {
			r.log.WithError(err).Debug("session event not recorded")
		}
	}()
}
