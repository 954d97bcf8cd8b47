package collab

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server message kinds. Join is implicit in the WebSocket upgrade.
type ClientMessageType string

const (
	ClientLeave       ClientMessageType = "leave"
	ClientCursor      ClientMessageType = "cursor"
	ClientOperation   ClientMessageType = "operation"
	ClientPing        ClientMessageType = "ping"
	ClientSyncRequest ClientMessageType = "sync-request"
)

// Server → client message kinds.
type ServerMessageType string

const (
	ServerWelcome     ServerMessageType = "welcome"
	ServerUserJoined  ServerMessageType = "user-joined"
	ServerUserLeft    ServerMessageType = "user-left"
	ServerUserUpdated ServerMessageType = "user-updated"
	ServerOperation   ServerMessageType = "operation"
	ServerAck         ServerMessageType = "ack"
	ServerSync        ServerMessageType = "sync"
	ServerPong        ServerMessageType = "pong"
	ServerError       ServerMessageType = "error"
)

type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpDelete  OpKind = "delete"
	OpReplace OpKind = "replace"
)

// ErrOutOfBounds is returned when an operation references offsets outside
// the current content. The room resolves it exactly like a stale version:
// the sender gets a sync, nothing is applied.
var ErrOutOfBounds = errors.New("operation offsets out of bounds")

type (
	// Operation is a single edit. Immutable once created; offsets are rune
	// offsets into the document content.
	Operation struct {
		Kind    OpKind `json:"kind"`
		From    int    `json:"from"`
		To      *int   `json:"to,omitempty"`
		Content string `json:"content,omitempty"`
	}

	// CursorRange is a selection within the document. To is nil for a bare
	// caret position.
	CursorRange struct {
		From int  `json:"from"`
		To   *int `json:"to"`
	}

	// ClientMessage is the inbound envelope. Payload fields are pointers so
	// the dispatcher can tell absent from zero.
	ClientMessage struct {
		Type    ClientMessageType `json:"type"`
		Op      *Operation        `json:"op,omitempty"`
		Version *int64            `json:"version,omitempty"`
		From    *int              `json:"from,omitempty"`
		To      *int              `json:"to,omitempty"`
	}
)

// ServerMessage is implemented by every outbound message type.
type ServerMessage interface {
	serverType() ServerMessageType
}

type (
	// Presence payloads are copies taken on the room loop: the write pump
	// marshals these structs after the loop has moved on, so they must not
	// alias live registry state.
	WelcomeMessage struct {
		Type     ServerMessageType `json:"type"`
		Presence []Presence        `json:"presence"`
		Version  int64             `json:"version"`
		Content  string            `json:"content"`
	}

	UserJoinedMessage struct {
		Type     ServerMessageType `json:"type"`
		Presence Presence          `json:"presence"`
	}

	UserLeftMessage struct {
		Type   ServerMessageType `json:"type"`
		UserID string            `json:"userId"`
	}

	// UserUpdatedMessage carries only the presence fields that changed.
	UserUpdatedMessage struct {
		Type      ServerMessageType `json:"type"`
		UserID    string            `json:"userId"`
		Cursor    *CursorRange      `json:"cursor,omitempty"`
		IsIdle    *bool             `json:"isIdle,omitempty"`
		IsEditing *bool             `json:"isEditing,omitempty"`
	}

	OperationMessage struct {
		Type    ServerMessageType `json:"type"`
		Op      *Operation        `json:"op"`
		UserID  string            `json:"userId"`
		Version int64             `json:"version"`
	}

	AckMessage struct {
		Type    ServerMessageType `json:"type"`
		Version int64             `json:"version"`
	}

	SyncMessage struct {
		Type    ServerMessageType `json:"type"`
		Version int64             `json:"version"`
		Content string            `json:"content"`
	}

	PongMessage struct {
		Type ServerMessageType `json:"type"`
	}

	ErrorMessage struct {
		Type    ServerMessageType `json:"type"`
		Message string            `json:"message"`
	}
)

func (WelcomeMessage) serverType() ServerMessageType     { return ServerWelcome }
func (UserJoinedMessage) serverType() ServerMessageType  { return ServerUserJoined }
func (UserLeftMessage) serverType() ServerMessageType    { return ServerUserLeft }
func (UserUpdatedMessage) serverType() ServerMessageType { return ServerUserUpdated }
func (OperationMessage) serverType() ServerMessageType   { return ServerOperation }
func (AckMessage) serverType() ServerMessageType         { return ServerAck }
func (SyncMessage) serverType() ServerMessageType        { return ServerSync }
func (PongMessage) serverType() ServerMessageType        { return ServerPong }
func (ErrorMessage) serverType() ServerMessageType       { return ServerError }

func newWelcome(presence []Presence, version int64, content string) WelcomeMessage {
	return WelcomeMessage{Type: ServerWelcome, Presence: presence, Version: version, Content: content}
}

func newUserJoined(p Presence) UserJoinedMessage {
	return UserJoinedMessage{Type: ServerUserJoined, Presence: p}
}

func newUserLeft(userID string) UserLeftMessage {
	return UserLeftMessage{Type: ServerUserLeft, UserID: userID}
}

func newOperation(op *Operation, userID string, version int64) OperationMessage {
	return OperationMessage{Type: ServerOperation, Op: op, UserID: userID, Version: version}
}

func newAck(version int64) AckMessage {
	return AckMessage{Type: ServerAck, Version: version}
}

func newSync(version int64, content string) SyncMessage {
	return SyncMessage{Type: ServerSync, Version: version, Content: content}
}

func newPong() PongMessage {
	return PongMessage{Type: ServerPong}
}

func newError(message string) ErrorMessage {
	return ErrorMessage{Type: ServerError, Message: message}
}

// decodeClientMessage parses one inbound frame. The type is validated by
// the room's dispatcher, not here, so unknown kinds surface as protocol
// errors with the offending type attached.
func decodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("client message without type")
	}
	return &msg, nil
}

// Apply returns the content after this operation. The input is never
// modified; an operation with offsets outside the content returns
// ErrOutOfBounds and must not be applied partially.
func (op *Operation) Apply(content string) (string, error) {
	runes := []rune(content)
	n := len(runes)

	switch op.Kind {
	case OpInsert:
		if op.From < 0 || op.From > n {
			return "", fmt.Errorf("insert at %d in %d runes: %w", op.From, n, ErrOutOfBounds)
		}
		out := make([]rune, 0, n+len(op.Content))
		out = append(out, runes[:op.From]...)
		out = append(out, []rune(op.Content)...)
		out = append(out, runes[op.From:]...)
		return string(out), nil

	case OpDelete, OpReplace:
		if op.To == nil {
			return "", fmt.Errorf("%s without end offset: %w", op.Kind, ErrOutOfBounds)
		}
		to := *op.To
		if op.From < 0 || to < op.From || to > n {
			return "", fmt.Errorf("%s range [%d,%d) in %d runes: %w", op.Kind, op.From, to, n, ErrOutOfBounds)
		}
		replacement := ""
		if op.Kind == OpReplace {
			replacement = op.Content
		}
		out := make([]rune, 0, n-(to-op.From)+len(replacement))
		out = append(out, runes[:op.From]...)
		out = append(out, []rune(replacement)...)
		out = append(out, runes[to:]...)
		return string(out), nil

	default:
		return "", fmt.Errorf("unknown operation kind %q: %w", op.Kind, ErrOutOfBounds)
	}
}
