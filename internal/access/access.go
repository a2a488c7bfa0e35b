// Package access decides whether a user may enter a peer room.
package access

import "campuswell/internal/models"

// ReasonAdultRoom is returned to minors without parental consent who try
// to enter a room that is not minor-safe.
const ReasonAdultRoom = "This room is not available for users under 18."

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanAccess reports whether a user may enter a room. Adults and consented
// minors may enter any room; minors without consent only minor-safe ones.
// An empty or unknown age bracket is treated as adult.
func CanAccess(age models.AgeBracket, consent bool, roomMinorSafe bool) Decision {
	if roomMinorSafe || age != models.AgeMinor || consent {
		return Decision{Allowed: true}
	}
	return Decision{Reason: ReasonAdultRoom}
}
