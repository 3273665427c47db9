package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/pkg/models"
)

// sendScript serves POST /v1/threads/{id}/messages with a scripted sequence
// of responses so failure handling can be exercised deterministically.
type sendScript struct {
	mu       sync.Mutex
	statuses []int // consumed one per request; empty means 200
	bodies   []string
	requests []SendRequest
}

func (s *sendScript) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.requests = append(s.requests, req)
		status := http.StatusOK
		body := ""
		if len(s.statuses) > 0 {
			status = s.statuses[0]
			s.statuses = s.statuses[1:]
			if len(s.bodies) > 0 {
				body = s.bodies[0]
				s.bodies = s.bodies[1:]
			}
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			if body == "" {
				body = `{"error":"unavailable","code":"INTERNAL"}`
			}
			w.Write([]byte(body))
			return
		}
		resp := SendResponse{Message: models.Message{
			ID: "srv-" + req.ClientRequestID, Thread: "t1",
			Body: req.Body, ClientRequestID: req.ClientRequestID,
			TS: time.Now().UnixNano(),
		}}
		json.NewEncoder(w).Encode(resp)
	}
}

func (s *sendScript) seen() []SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SendRequest(nil), s.requests...)
}

func newTestQueue(t *testing.T, script *sendScript) (*Outbound, *time.Time) {
	t.Helper()
	srv := httptest.NewServer(script.handler())
	t.Cleanup(srv.Close)
	log, err := OpenPendingLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	q, err := NewOutbound(New(srv.URL, "alice", "requester"), log)
	require.NoError(t, err)
	now := time.Unix(5000, 0)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestQueueDeliversFIFOAndConfirms(t *testing.T) {
	script := &sendScript{}
	q, _ := newTestQueue(t, script)

	var confirmed []SendResponse
	q.OnConfirmed = func(_ QueueItem, resp SendResponse) { confirmed = append(confirmed, resp) }

	p1, err := q.Enqueue("t1", "first", nil)
	require.NoError(t, err)
	p2, err := q.Enqueue("t1", "second", nil)
	require.NoError(t, err)
	require.NotEqual(t, p1.ClientRequestID, p2.ClientRequestID)

	q.DrainOnce(context.Background())

	seen := script.seen()
	require.Len(t, seen, 2)
	assert.Equal(t, "first", seen[0].Body)
	assert.Equal(t, "second", seen[1].Body)
	require.Len(t, confirmed, 2)
	assert.Empty(t, q.Items("t1"))

	// nothing left on disk either
	saved, err := q.log.Load()
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestQueueRetriesTransientFailure(t *testing.T) {
	script := &sendScript{statuses: []int{http.StatusServiceUnavailable}}
	q, now := newTestQueue(t, script)

	_, err := q.Enqueue("t1", "hello", nil)
	require.NoError(t, err)
	q.DrainOnce(context.Background())

	items := q.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, ItemQueued, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Greater(t, items[0].NextAttemptTS, now.UnixNano())

	// not due yet, so an immediate drain sends nothing new
	q.DrainOnce(context.Background())
	require.Len(t, script.seen(), 1)

	*now = now.Add(30 * time.Second)
	q.DrainOnce(context.Background())
	assert.Empty(t, q.Items("t1"))
	seen := script.seen()
	require.Len(t, seen, 2)
	// the retry reuses the same client request id, keeping it idempotent
	assert.Equal(t, seen[0].ClientRequestID, seen[1].ClientRequestID)
}

func TestQueueTerminalFailureFailsImmediately(t *testing.T) {
	script := &sendScript{
		statuses: []int{http.StatusForbidden},
		bodies:   []string{`{"error":"thread is closed","code":"FORBIDDEN"}`},
	}
	q, _ := newTestQueue(t, script)
	var failed []QueueItem
	q.OnFailed = func(item QueueItem) { failed = append(failed, item) }

	_, err := q.Enqueue("t1", "too late", nil)
	require.NoError(t, err)
	q.DrainOnce(context.Background())

	items := q.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, ItemFailed, items[0].Status)
	assert.Contains(t, items[0].Note, "FORBIDDEN")
	require.Len(t, failed, 1)
	// no silent retries for terminal failures
	q.DrainOnce(context.Background())
	assert.Len(t, script.seen(), 1)
}

func TestQueueGivesUpAfterAttemptCeiling(t *testing.T) {
	script := &sendScript{statuses: []int{503, 503, 503, 503, 503, 503}}
	q, now := newTestQueue(t, script)

	_, err := q.Enqueue("t1", "doomed", nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		q.DrainOnce(context.Background())
		*now = now.Add(time.Minute)
	}
	items := q.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, ItemFailed, items[0].Status)
	assert.Equal(t, maxSendAttempts, items[0].Attempts)
	assert.Len(t, script.seen(), maxSendAttempts)
}

func TestQueueHonorsServerRetryAfter(t *testing.T) {
	script := &sendScript{
		statuses: []int{http.StatusTooManyRequests},
		bodies:   []string{`{"error":"rate limited","code":"RATE_LIMIT","retry_after_ms":5000}`},
	}
	q, now := newTestQueue(t, script)

	_, err := q.Enqueue("t1", "burst", nil)
	require.NoError(t, err)
	q.DrainOnce(context.Background())

	items := q.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, ItemQueued, items[0].Status)
	// the server wait dominates the first-attempt backoff
	assert.GreaterOrEqual(t, items[0].NextAttemptTS, now.Add(5*time.Second).UnixNano())
}

func TestShortServerRetryAfterShortensBackoff(t *testing.T) {
	script := &sendScript{
		statuses: []int{http.StatusTooManyRequests},
		bodies:   []string{`{"error":"rate limited","code":"RATE_LIMIT","retry_after_ms":100}`},
	}
	q, now := newTestQueue(t, script)

	_, err := q.Enqueue("t1", "quick", nil)
	require.NoError(t, err)
	q.DrainOnce(context.Background())

	items := q.Items("t1")
	require.Len(t, items, 1)
	require.Equal(t, ItemQueued, items[0].Status)
	wait := time.Duration(items[0].NextAttemptTS - now.UnixNano())
	// the 100ms hint replaces the 1s computed delay; only jitter is added
	assert.GreaterOrEqual(t, wait, 100*time.Millisecond)
	assert.Less(t, wait, 350*time.Millisecond)
}

func TestManualRetryRequeuesImmediately(t *testing.T) {
	script := &sendScript{
		statuses: []int{http.StatusForbidden},
		bodies:   []string{`{"error":"nope","code":"VALIDATION"}`},
	}
	q, _ := newTestQueue(t, script)

	p, err := q.Enqueue("t1", "fix me", nil)
	require.NoError(t, err)
	q.DrainOnce(context.Background())
	require.Equal(t, ItemFailed, q.Items("t1")[0].Status)

	require.True(t, q.Retry(p.LocalID))
	it := q.Items("t1")[0]
	assert.Equal(t, ItemQueued, it.Status)
	assert.Zero(t, it.Attempts)

	q.DrainOnce(context.Background())
	assert.Empty(t, q.Items("t1"))
}

func TestQueueResurrectsPersistedItemsAsFailed(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer((&sendScript{}).handler())
	defer srv.Close()
	api := New(srv.URL, "alice", "requester")

	log, err := OpenPendingLog(dir)
	require.NoError(t, err)
	q, err := NewOutbound(api, log)
	require.NoError(t, err)
	_, err = q.Enqueue("t1", "interrupted", nil)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	// simulate a process restart
	log2, err := OpenPendingLog(dir)
	require.NoError(t, err)
	defer log2.Close()
	q2, err := NewOutbound(api, log2)
	require.NoError(t, err)

	assert.Equal(t, 1, q2.RecoveredCount())
	items := q2.Items("t1")
	require.Len(t, items, 1)
	assert.Equal(t, ItemFailed, items[0].Status)
	assert.Equal(t, "recovered after restart", items[0].Note)
	assert.Equal(t, "interrupted", items[0].Body)
	// nothing resends without an explicit user retry
	q2.DrainOnce(context.Background())
	assert.Equal(t, ItemFailed, q2.Items("t1")[0].Status)
}

func TestAttachmentItemsAreNotPersisted(t *testing.T) {
	script := &sendScript{}
	q, _ := newTestQueue(t, script)
	_, err := q.Enqueue("t1", "photo", &AttachmentUpload{
		FileName: "a.png", MimeType: "image/png", Data: []byte("img"),
	})
	require.NoError(t, err)

	saved, err := q.log.Load()
	require.NoError(t, err)
	assert.Empty(t, saved, "attachment bytes must never reach the durable log")
	require.Len(t, q.Items("t1"), 1)
}

func TestDiscardDropsFailedItem(t *testing.T) {
	script := &sendScript{
		statuses: []int{http.StatusForbidden},
		bodies:   []string{`{"error":"nope","code":"FORBIDDEN"}`},
	}
	q, _ := newTestQueue(t, script)
	p, err := q.Enqueue("t1", "never mind", nil)
	require.NoError(t, err)
	q.DrainOnce(context.Background())

	require.True(t, q.Discard(p.LocalID))
	assert.Empty(t, q.Items("t1"))
	saved, err := q.log.Load()
	require.NoError(t, err)
	assert.Empty(t, saved)
}
