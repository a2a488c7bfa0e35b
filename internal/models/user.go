package models

import "time"

type Role string

const (
	RoleStudent   Role = "student"
	RoleCounselor Role = "counselor"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

type AgeBracket string

const (
	AgeMinor AgeBracket = "MINOR"
	AgeAdult AgeBracket = "ADULT"
)

// User mirrors the auth subsystem's record. The realtime core only reads it.
type User struct {
	ID             string     `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	DisplayName    string     `json:"displayName" db:"display_name"`
	Role           Role       `json:"role" db:"role"`
	AgeBracket     AgeBracket `json:"ageBracket" db:"age_bracket"`
	ConsentMinorOK bool       `json:"consentMinorOk" db:"consent_minor_ok"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

// IsModerator reports whether the role receives flagged-message notices.
func (r Role) IsModerator() bool {
	return r == RoleModerator || r == RoleAdmin
}
