package collab

import (
	"net/http"
	"time"

	"collab-server/handlers/auth"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait = 10 * time.Second
	// readWait must comfortably exceed the client ping interval (30s).
	readWait     = 90 * time.Second
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware on the router.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handle upgrades a connection into a document room. Identity comes from
// the connection parameters; when JWT auth is configured the token claims
// take precedence over the raw parameters.
func Handle(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentID")
		if documentID == "" {
			http.Error(w, "document id is required", http.StatusBadRequest)
			return
		}

		q := r.URL.Query()
		email := q.Get("email")
		name := q.Get("displayName")

		if auth.Enabled() {
			claims, err := auth.ParseToken(q.Get("token"))
			if err != nil {
				logrus.WithError(err).WithField("document_id", documentID).Warn("rejected upgrade with invalid token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			email = claims.Email
			name = claims.Name
		}
		if email == "" {
			http.Error(w, "email is required", http.StatusBadRequest)
			return
		}
		if name == "" {
			name = email
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).Warn("websocket upgrade failed")
			return
		}

		room, sess, err := hub.Join(documentID, email, name)
		if err != nil {
			logrus.WithError(err).WithField("document_id", documentID).Error("join failed")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "join failed"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		go writePump(conn, sess)
		readPump(conn, room, sess)
	}
}

// writePump drains the session's outbound queue onto the socket. It exits
// when the room closes the session or the peer stops accepting writes; in
// the latter case the backed-up queue gets the session dropped by the room.
func writePump(conn *websocket.Conn, sess *Session) {
	defer conn.Close()

	for msg := range sess.Outbound() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	// Channel closed: the room unregistered this session.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readPump feeds raw frames into the room loop. Any read error (close,
// timeout, protocol violation) removes only this session.
func readPump(conn *websocket.Conn, room *Room, sess *Session) {
	defer conn.Close()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			room.Leave(sess)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if !room.Deliver(sess, data) {
			return
		}
	}
}
