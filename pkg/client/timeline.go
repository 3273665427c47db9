package client

import (
	"sort"
	"sync"

	"courier/pkg/models"
)

// PendingMessage is the local-only optimistic entry rendered while a send
// is in flight. It is keyed by ClientRequestID and replaced, never mutated
// in place, by the server-confirmed message carrying the same key. Kept as
// a distinct type from models.Message so local-only fields can never leak
// into persistence.
type PendingMessage struct {
	LocalID         string
	Thread          string
	ClientRequestID string
	Body            string
	HasAttachment   bool
	EnqueuedTS      int64
	Failed          bool
	Note            string
}

// Entry is one renderable timeline row: exactly one of Confirmed or
// Pending is set.
type Entry struct {
	Confirmed *models.Message
	Pending   *PendingMessage
}

// Timeline merges server-confirmed messages with optimistic pending ones
// for a single thread.
type Timeline struct {
	mu        sync.Mutex
	confirmed []models.Message
	byID      map[string]struct{}
	pending   []*PendingMessage
}

func NewTimeline() *Timeline {
	return &Timeline{byID: map[string]struct{}{}}
}

// ApplyConfirmed merges polled or send-confirmed messages. Messages are
// inserted in (TS, ID) order, duplicates by server id are dropped, and any
// pending entry with a matching ClientRequestID is replaced rather than
// duplicated.
func (t *Timeline) ApplyConfirmed(msgs ...models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if _, seen := t.byID[m.ID]; seen {
			continue
		}
		t.byID[m.ID] = struct{}{}
		t.confirmed = append(t.confirmed, m)
		if m.ClientRequestID != "" {
			t.removePendingLocked(m.ClientRequestID)
		}
	}
	sort.Slice(t.confirmed, func(i, j int) bool {
		a, b := t.confirmed[i], t.confirmed[j]
		if a.TS != b.TS {
			return a.TS < b.TS
		}
		return a.ID < b.ID
	})
}

// AddPending appends an optimistic entry.
func (t *Timeline) AddPending(p *PendingMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, p)
}

// MarkPendingFailed flags the pending entry so the UI can offer a manual
// retry.
func (t *Timeline) MarkPendingFailed(clientRequestID, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pending {
		if p.ClientRequestID == clientRequestID {
			p.Failed = true
			p.Note = note
		}
	}
}

// RemovePending drops the pending entry without a confirmation (user
// discarded a failed item).
func (t *Timeline) RemovePending(clientRequestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removePendingLocked(clientRequestID)
}

func (t *Timeline) removePendingLocked(clientRequestID string) {
	out := t.pending[:0]
	for _, p := range t.pending {
		if p.ClientRequestID != clientRequestID {
			out = append(out, p)
		}
	}
	t.pending = out
}

// Snapshot returns confirmed entries in order followed by pending entries
// in enqueue order, which is how the UI renders them.
func (t *Timeline) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.confirmed)+len(t.pending))
	for i := range t.confirmed {
		m := t.confirmed[i]
		out = append(out, Entry{Confirmed: &m})
	}
	for _, p := range t.pending {
		out = append(out, Entry{Pending: p})
	}
	return out
}
