package models

import "time"

// Message is a single peer room post. Rows are insert-only.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	Flagged   bool      `json:"flagged"`
	Flags     []string  `json:"flags"`
	CreatedAt time.Time `json:"createdAt"`
	Author    Author    `json:"author"`
}

// Author is the display info attached to broadcast and listed messages.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// FlaggedMessage is a message joined with its room for moderator review.
type FlaggedMessage struct {
	Message
	RoomSlug  string `json:"roomSlug"`
	RoomTitle string `json:"roomTitle"`
}

// FlaggedNotice is sent to moderators when a message matches a category.
type FlaggedNotice struct {
	MessageID string   `json:"messageId"`
	RoomSlug  string   `json:"roomSlug"`
	RoomTitle string   `json:"roomTitle"`
	UserID    string   `json:"userId"`
	Flags     []string `json:"flags"`
}
