package models

type ThreadStatus string

const (
	ThreadOpen              ThreadStatus = "open"
	ThreadClosedByRequester ThreadStatus = "closed_by_requester"
	ThreadClosedByProvider  ThreadStatus = "closed_by_provider"
)

// Terminal reports whether the status admits no further transitions.
func (s ThreadStatus) Terminal() bool {
	return s == ThreadClosedByRequester || s == ThreadClosedByProvider
}

// Thread binds exactly one requester to one provider profile. At most one
// thread exists per (requester, provider profile) pair.
type Thread struct {
	ID                string       `json:"id"`
	RequesterUserID   string       `json:"requester_user_id"`
	ProviderUserID    string       `json:"provider_user_id"`
	ProviderProfileID string       `json:"provider_profile_id"`
	Status            ThreadStatus `json:"status"`
	Reported          bool         `json:"reported,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts"`
	// Last accepted message timestamp (ns); equals CreatedTS until the
	// first message lands
	LastMessageTS int64 `json:"last_message_ts"`
}

// ClosedStatusFor returns the terminal status a role transitions the thread
// into when closing it.
func ClosedStatusFor(role Role) ThreadStatus {
	if role == RoleProvider {
		return ThreadClosedByProvider
	}
	return ThreadClosedByRequester
}
