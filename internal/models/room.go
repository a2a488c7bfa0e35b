package models

import (
	"errors"
	"time"
)

type Room struct {
	ID          string    `json:"id" db:"id"`
	Slug        string    `json:"slug" db:"slug"`
	Title       string    `json:"title" db:"title"`
	Topic       string    `json:"topic" db:"topic"`
	IsMinorSafe bool      `json:"isMinorSafe" db:"is_minor_safe"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

var ErrRoomNotFound = errors.New("room not found")
