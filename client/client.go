// Package client implements the editor-side sync agent for the
// collaboration protocol: optimistic local apply, heartbeat, and
// reconnect with exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"collab-server/collab"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrReconnectExhausted is surfaced after the configured number of failed
// reconnect attempts; recovering from it requires manual action.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ErrNotConnected is returned when an edit is submitted while the agent
// has no live connection.
var ErrNotConnected = errors.New("not connected")

type Config struct {
	// URL is the ws:// or wss:// endpoint including the document path,
	// e.g. ws://host:3002/collab/my-doc.
	URL         string
	Email       string
	DisplayName string
	// Token is attached when the server requires JWT auth.
	Token string

	// PingInterval defaults to 30s. A pong missing for more than two
	// intervals forces a reconnect.
	PingInterval time.Duration
	// BaseDelay and MaxDelay bound the reconnect backoff:
	// min(BaseDelay * 2^attempt, MaxDelay). Defaults 1s and 30s.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts is the number of consecutive failed connects tolerated
	// before Run returns ErrReconnectExhausted. Defaults to 5.
	MaxAttempts int

	// OnChange is invoked (from the agent's read loop) whenever the local
	// document content changes, locally or remotely.
	OnChange func(content string, version int64)
	// OnPeerEvent receives user-joined, user-left and user-updated
	// notifications. Optional.
	OnPeerEvent func(event PeerEvent)
}

// PeerEvent is a presence notification about another session.
type PeerEvent struct {
	Kind     string
	UserID   string
	Presence *collab.Presence
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Client mirrors the room protocol on the editing side. It keeps a local
// copy of content and version; when the server tells it that view is stale
// it replaces both wholesale. In-flight local edits are not rebased.
type Client struct {
	cfg Config
	log *logrus.Entry

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	content  string
	version  int64
	lastPong time.Time
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg.withDefaults(),
		log: logrus.WithField("component", "sync-agent"),
	}
}

// Content returns the current local view.
func (c *Client) Content() (string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content, c.version
}

// serverEnvelope is the flat inbound decode target. Welcome carries a
// presence array, user-joined a single object, so the field stays raw.
type serverEnvelope struct {
	Type     string            `json:"type"`
	Presence json.RawMessage   `json:"presence,omitempty"`
	Version  *int64            `json:"version,omitempty"`
	Content  *string           `json:"content,omitempty"`
	Op       *collab.Operation `json:"op,omitempty"`
	UserID   string            `json:"userId,omitempty"`
	Message  string            `json:"message,omitempty"`
}

type clientEnvelope struct {
	Type    string            `json:"type"`
	Op      *collab.Operation `json:"op,omitempty"`
	Version *int64            `json:"version,omitempty"`
	From    *int              `json:"from,omitempty"`
	To      *int              `json:"to,omitempty"`
}

// Run connects and serves the protocol until the context is canceled or
// reconnection is exhausted. It blocks; edits are submitted concurrently
// via SendOperation.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	connectedBefore := false

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				return fmt.Errorf("connecting to %s: %w", c.cfg.URL, ErrReconnectExhausted)
			}
			delay := backoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
			c.log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).Warn("connect failed, backing off")
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attempt = 0

		c.mu.Lock()
		c.conn = conn
		c.lastPong = time.Now()
		version := c.version
		c.mu.Unlock()

		if connectedBefore {
			// Resynchronize before resuming operation sends.
			_ = c.write(clientEnvelope{Type: string(collab.ClientSyncRequest), Version: &version})
		}
		connectedBefore = true

		err = c.session(ctx, conn)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Info("connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("email", c.cfg.Email)
	q.Set("displayName", c.cfg.DisplayName)
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	return conn, err
}

// session runs the heartbeat and read loop for one connection. It returns
// when the connection dies or the context ends.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				silent := time.Since(c.lastPong)
				c.mu.Unlock()
				if silent > 2*c.cfg.PingInterval {
					c.log.WithField("silence", silent).Warn("heartbeat lost, forcing reconnect")
					conn.Close()
					return
				}
				if err := c.write(clientEnvelope{Type: string(collab.ClientPing)}); err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleServerMessage(data)
	}
}

func (c *Client) handleServerMessage(data []byte) {
	var msg serverEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).Warn("dropping malformed server message")
		return
	}

	switch collab.ServerMessageType(msg.Type) {
	case collab.ServerWelcome, collab.ServerSync:
		if msg.Version == nil || msg.Content == nil {
			return
		}
		c.replaceState(*msg.Content, *msg.Version)

	case collab.ServerAck:
		if msg.Version == nil {
			return
		}
		c.mu.Lock()
		c.version = *msg.Version
		c.mu.Unlock()

	case collab.ServerOperation:
		if msg.Version == nil || msg.Op == nil {
			return
		}
		c.applyRemote(msg.Op, *msg.Version)

	case collab.ServerPong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

	case collab.ServerUserJoined:
		c.emitPeerEvent(msg, "user-joined")
	case collab.ServerUserLeft:
		c.emitPeerEvent(msg, "user-left")
	case collab.ServerUserUpdated:
		c.emitPeerEvent(msg, "user-updated")

	case collab.ServerError:
		c.log.WithField("message", msg.Message).Warn("server reported error")

	default:
		c.log.WithField("type", msg.Type).Warn("dropping unknown server message")
	}
}

// replaceState adopts the authoritative view wholesale. Any optimistic
// local edit not yet acknowledged is discarded.
func (c *Client) replaceState(content string, version int64) {
	c.mu.Lock()
	c.content = content
	c.version = version
	c.mu.Unlock()

	if c.cfg.OnChange != nil {
		c.cfg.OnChange(content, version)
	}
}

// applyRemote applies a broadcast operation when it is the direct successor
// of the local version; any gap means this client missed something and asks
// for a full resync instead of guessing.
func (c *Client) applyRemote(op *collab.Operation, version int64) {
	c.mu.Lock()
	if version != c.version+1 {
		localVersion := c.version
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{
			"local_version":  localVersion,
			"server_version": version,
		}).Info("version gap, requesting resync")
		_ = c.write(clientEnvelope{Type: string(collab.ClientSyncRequest), Version: &localVersion})
		return
	}

	next, err := op.Apply(c.content)
	if err != nil {
		localVersion := c.version
		c.mu.Unlock()
		c.log.WithError(err).Warn("remote operation did not apply, requesting resync")
		_ = c.write(clientEnvelope{Type: string(collab.ClientSyncRequest), Version: &localVersion})
		return
	}

	c.content = next
	c.version = version
	content := c.content
	c.mu.Unlock()

	if c.cfg.OnChange != nil {
		c.cfg.OnChange(content, version)
	}
}

// SendOperation applies an edit optimistically to the local content and
// submits it with the current version. If the server rejects it, the next
// sync replaces the optimistic state.
func (c *Client) SendOperation(op collab.Operation) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	next, err := op.Apply(c.content)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	version := c.version
	c.content = next
	c.mu.Unlock()

	if err := c.write(clientEnvelope{Type: string(collab.ClientOperation), Op: &op, Version: &version}); err != nil {
		return err
	}

	if c.cfg.OnChange != nil {
		c.cfg.OnChange(next, version)
	}
	return nil
}

// SendCursor reports the local selection. to may be nil for a caret.
func (c *Client) SendCursor(from int, to *int) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()
	return c.write(clientEnvelope{Type: string(collab.ClientCursor), From: &from, To: to})
}

// Leave tells the room this session is done, then closes the socket.
func (c *Client) Leave() error {
	err := c.write(clientEnvelope{Type: string(collab.ClientLeave)})
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return err
}

func (c *Client) emitPeerEvent(msg serverEnvelope, kind string) {
	if c.cfg.OnPeerEvent == nil {
		return
	}
	ev := PeerEvent{Kind: kind, UserID: msg.UserID}
	if len(msg.Presence) > 0 {
		var p collab.Presence
		if err := json.Unmarshal(msg.Presence, &p); err == nil {
			ev.Presence = &p
			if ev.UserID == "" {
				ev.UserID = p.UserID
			}
		}
	}
	c.cfg.OnPeerEvent(ev)
}

func (c *Client) write(msg clientEnvelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// backoffDelay is min(base * 2^attempt, max) for attempt >= 1.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		return max
	}
	return d
}
