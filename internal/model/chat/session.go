package chat

import "time"

// Role classifies a participant for display purposes only; the relay grants no
// capabilities based on it.
type Role string

const (
	RoleUser      Role = "user"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleGuest     Role = "guest"
)

// NormalizeRole maps unrecognized role strings to RoleUser.
func NormalizeRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleDeveloper, RoleAdmin, RoleModerator, RoleGuest:
		return Role(s)
	default:
		return RoleUser
	}
}

// Status is a participant's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// NormalizeStatus maps unrecognized status strings to StatusOnline.
func NormalizeStatus(s string) Status {
	switch Status(s) {
	case StatusOnline, StatusAway, StatusOffline:
		return Status(s)
	default:
		return StatusOnline
	}
}

// DefaultRoom is joined when a client does not name one.
const DefaultRoom = "general"

// DefaultAvatar is used when a client does not pick one.
const DefaultAvatar = "👤"

// Session binds one live connection to an identity and its presence state.
type Session struct {
	ConnectionID string    `json:"-"`
	Identity     string    `json:"identity"`
	Room         string    `json:"room"`
	Avatar       string    `json:"avatar"`
	Role         Role      `json:"role"`
	Status       Status    `json:"status"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// RosterEntry is the client-facing projection of a Session.
type RosterEntry struct {
	Identity string `json:"identity"`
	Avatar   string `json:"avatar"`
	Role     Role   `json:"role"`
	Status   Status `json:"status"`
}

// Roster converts sessions into roster entries, preserving order.
func Roster(sessions []Session) []RosterEntry {
	entries := make([]RosterEntry, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, RosterEntry{
			Identity: s.Identity,
			Avatar:   s.Avatar,
			Role:     s.Role,
			Status:   s.Status,
		})
	}
	return entries
}
