package models

import (
	"encoding/json"
	"time"
)

const ActionMessageFlagged = "MESSAGE_FLAGGED_REALTIME"

type AuditEntry struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"actorId"`
	Action    string          `json:"action"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
}
