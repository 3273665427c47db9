package models

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
)

// senderTypes is the closed dispatch table from viewer role to the sender
// type stamped on messages that role writes.
var senderTypes = map[Role]SenderType{
	RoleRequester: SenderRequester,
	RoleProvider:  SenderProvider,
}

// SenderTypeFor maps a participant role to its message sender type.
// Unknown roles map to system.
func SenderTypeFor(role Role) SenderType {
	if st, ok := senderTypes[role]; ok {
		return st
	}
	return SenderSystem
}

// CanMessage reports whether the role may take part in conversations at all.
func (r Role) CanMessage() bool {
	_, ok := senderTypes[r]
	return ok
}

// Participant is the denormalized (thread, user, role) membership row,
// created alongside the thread and kept for fast access checks.
type Participant struct {
	Thread   string `json:"thread"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	JoinedTS int64  `json:"joined_ts"`
}

// ReadCursor tracks how far a user has read in a thread. It only moves
// forward; the owning user's sends advance it implicitly.
type ReadCursor struct {
	Thread        string `json:"thread"`
	UserID        string `json:"user_id"`
	LastReadMsgID string `json:"last_read_msg_id,omitempty"`
	// LastReadTS is the ordering timestamp (ns) of the last read message
	LastReadTS int64 `json:"last_read_ts"`
	// ReadAtTS is the wall-clock time of the read action (ns)
	ReadAtTS int64 `json:"read_at_ts"`
}
