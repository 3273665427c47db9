package models

type SenderType string

const (
	SenderRequester SenderType = "requester"
	SenderProvider  SenderType = "provider"
	SenderSystem    SenderType = "system"
)

// Message is immutable once accepted, except for the soft-delete flag.
// Within a thread messages are totally ordered by (TS, ID); TS alone can tie
// under concurrent sends, so ID is always the tiebreak.
type Message struct {
	ID           string     `json:"id"`
	Thread       string     `json:"thread"`
	Sender       SenderType `json:"sender"`
	SenderUserID string     `json:"sender_user_id,omitempty"`
	Body         string     `json:"body,omitempty"`
	// TS is the store-assigned ordering timestamp (ns)
	TS int64 `json:"ts"`
	// ClientRequestID makes retried sends idempotent; unique per
	// (thread, sender) when present
	ClientRequestID string         `json:"client_request_id,omitempty"`
	Attachment      *AttachmentRef `json:"attachment,omitempty"`
	// Deleted flag; soft-delete only, rows are never removed while the
	// thread exists
	Deleted bool `json:"deleted,omitempty"`
}

// HasContent reports whether the message carries body text and/or an
// attachment. A message with neither is invalid.
func (m Message) HasContent() bool {
	return m.Body != "" || m.Attachment != nil
}
