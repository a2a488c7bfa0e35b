package chat

import (
	"encoding/json"
	"time"

	"campuswell/internal/models"
)

// Client to server events.
const (
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
	EventLeaveRoom   = "leaveRoom"
)

// Server to client events.
const (
	EventJoinedRoom     = "joinedRoom"
	EventUserJoined     = "userJoined"
	EventReceiveMessage = "receiveMessage"
	EventMessageFlagged = "messageFlagged"
	EventUserLeft       = "userLeft"
	EventError          = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoomPayload carries optional userId and displayName. userId is
// never trusted; displayName is only used for the userJoined notice.
type JoinRoomPayload struct {
	Slug        string `json:"slug" validate:"required,max=128"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName" validate:"max=64"`
}

type SendMessagePayload struct {
	Slug     string `json:"slug" validate:"required,max=128"`
	Body     string `json:"body"`
	AuthorID string `json:"authorId"`
}

type LeaveRoomPayload struct {
	Slug string `json:"slug" validate:"required,max=128"`
}

type JoinedRoomEvent struct {
	RoomSlug  string `json:"roomSlug"`
	RoomTitle string `json:"roomTitle"`
	RoomID    string `json:"roomId"`
}

type UserJoinedEvent struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	RoomSlug    string `json:"roomSlug"`
}

type ReceiveMessageEvent struct {
	ID        string        `json:"id"`
	RoomSlug  string        `json:"roomSlug"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"createdAt"`
	Flagged   bool          `json:"flagged"`
	Flags     []string      `json:"flags"`
	Author    models.Author `json:"author"`
}

type UserLeftEvent struct {
	UserID   string `json:"userId"`
	RoomSlug string `json:"roomSlug"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Encode builds a server frame.
func Encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}
