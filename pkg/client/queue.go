package client

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier/pkg/blob"
	"courier/pkg/logger"
)

// ItemStatus tracks an outbound item through its lifecycle.
type ItemStatus string

const (
	ItemQueued  ItemStatus = "queued"
	ItemSending ItemStatus = "sending"
	ItemFailed  ItemStatus = "failed"
)

// QueueItem is one not-yet-confirmed send. Text-only items are persisted
// to the PendingLog; items carrying an attachment live in memory only.
type QueueItem struct {
	LocalID         string     `json:"local_id"`
	Thread          string     `json:"thread"`
	ClientRequestID string     `json:"client_request_id"`
	Body            string     `json:"body"`
	Status          ItemStatus `json:"status"`
	Attempts        int        `json:"attempts"`
	NextAttemptTS   int64      `json:"next_attempt_ts"`
	CreatedTS       int64      `json:"created_ts"`
	Note            string     `json:"note,omitempty"`
	HasAttachment   bool       `json:"-"`
}

// AttachmentUpload holds the bytes of a to-be-sent attachment until the
// presign and upload round trip completes.
type AttachmentUpload struct {
	FileName string
	MimeType string
	Data     []byte
	Scope    string
}

const (
	maxSendAttempts = 5
	baseBackoff     = 500 * time.Millisecond
	maxBackoff      = 15 * time.Second
)

// Outbound owns all unconfirmed sends for one client. Draining is
// single-flight per thread: at most one item per thread is in flight, and
// a success immediately releases the next queued item for that thread.
type Outbound struct {
	api *Client
	log *PendingLog

	mu        sync.Mutex
	items     []*QueueItem
	attach    map[string]*AttachmentUpload
	inflight  map[string]bool
	recovered int

	rng *rand.Rand
	now func() time.Time

	// OnConfirmed fires after the server accepts an item, OnFailed after
	// the item is marked failed (terminal error, attempt ceiling, or
	// resurrection). Both may be nil.
	OnConfirmed func(item QueueItem, resp SendResponse)
	OnFailed    func(item QueueItem)
}

// NewOutbound builds the queue and resurrects any items left in the
// durable log by a previous process. Resurrected items come back as
// failed so the user decides whether to retry, never as silent resends.
func NewOutbound(api *Client, log *PendingLog) (*Outbound, error) {
	q := &Outbound{
		api:      api,
		log:      log,
		attach:   map[string]*AttachmentUpload{},
		inflight: map[string]bool{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	saved, err := log.Load()
	if err != nil {
		return nil, err
	}
	for i := range saved {
		it := saved[i]
		it.Status = ItemFailed
		it.Note = "recovered after restart"
		q.items = append(q.items, &it)
		q.recovered++
		if err := log.Put(it); err != nil {
			logger.Warn("pending_resurrect_persist_failed", "local_id", it.LocalID, "error", err)
		}
	}
	if q.recovered > 0 {
		logger.Info("outbound_resurrected", "count", q.recovered)
	}
	return q, nil
}

// RecoveredCount reports how many items were restored as failed at open.
func (q *Outbound) RecoveredCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.recovered
}

// Enqueue accepts a send and returns the optimistic entry for the
// timeline. The ClientRequestID minted here is what makes the eventual
// server write idempotent across retries and restarts.
func (q *Outbound) Enqueue(thread, body string, att *AttachmentUpload) (*PendingMessage, error) {
	item := &QueueItem{
		LocalID:         "loc-" + uuid.NewString(),
		Thread:          thread,
		ClientRequestID: uuid.NewString(),
		Body:            body,
		Status:          ItemQueued,
		CreatedTS:       q.now().UnixNano(),
		HasAttachment:   att != nil,
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	if att != nil {
		q.attach[item.LocalID] = att
	}
	q.mu.Unlock()
	if att == nil {
		if err := q.log.Put(*item); err != nil {
			return nil, err
		}
	}
	return &PendingMessage{
		LocalID:         item.LocalID,
		Thread:          thread,
		ClientRequestID: item.ClientRequestID,
		Body:            body,
		HasAttachment:   att != nil,
		EnqueuedTS:      item.CreatedTS,
	}, nil
}

// Retry re-queues a failed item for immediate delivery with a fresh
// attempt budget.
func (q *Outbound) Retry(localID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.LocalID == localID && it.Status == ItemFailed {
			it.Status = ItemQueued
			it.Attempts = 0
			it.NextAttemptTS = 0
			it.Note = ""
			q.persistLocked(it)
			return true
		}
	}
	return false
}

// Discard drops a failed item entirely.
func (q *Outbound) Discard(localID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.LocalID == localID && it.Status == ItemFailed {
			q.items = append(q.items[:i], q.items[i+1:]...)
			delete(q.attach, localID)
			if !it.HasAttachment {
				if err := q.log.Delete(it.Thread, it.LocalID); err != nil {
					logger.Warn("pending_delete_failed", "local_id", it.LocalID, "error", err)
				}
			}
			return true
		}
	}
	return false
}

// Items returns a snapshot of the queue for one thread, oldest first.
func (q *Outbound) Items(thread string) []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueueItem
	for _, it := range q.items {
		if it.Thread == thread {
			out = append(out, *it)
		}
	}
	return out
}

// DrainOnce walks every thread and delivers due items. For each thread it
// keeps sending FIFO until the queue is empty, an item is not yet due, or
// a delivery fails. Blocking and sequential so callers get deterministic
// behavior; Run wraps it in a loop.
func (q *Outbound) DrainOnce(ctx context.Context) {
	for {
		item := q.claimNext()
		if item == nil {
			return
		}
		q.deliver(ctx, item)
		if ctx.Err() != nil {
			return
		}
	}
}

// Run drains on a fixed cadence until ctx is done.
func (q *Outbound) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.DrainOnce(ctx)
		}
	}
}

// claimNext picks the oldest due queued item of any thread with no item
// in flight and marks it sending.
func (q *Outbound) claimNext() *QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	nowTS := q.now().UnixNano()
	for _, it := range q.items {
		if it.Status != ItemQueued || q.inflight[it.Thread] {
			continue
		}
		if it.NextAttemptTS > nowTS {
			continue
		}
		it.Status = ItemSending
		q.inflight[it.Thread] = true
		q.persistLocked(it)
		return it
	}
	return nil
}

func (q *Outbound) deliver(ctx context.Context, item *QueueItem) {
	attachmentID, err := q.stageAttachment(ctx, item)
	var resp SendResponse
	if err == nil {
		resp, err = q.api.SendMessage(ctx, item.Thread, SendRequest{
			Body:            item.Body,
			AttachmentID:    attachmentID,
			ClientRequestID: item.ClientRequestID,
		})
	}

	q.mu.Lock()
	q.inflight[item.Thread] = false
	if err == nil {
		q.removeLocked(item.LocalID)
		q.mu.Unlock()
		if resp.Deduped {
			logger.Info("outbound_deduped", "thread", item.Thread, "client_request_id", item.ClientRequestID)
		}
		if q.OnConfirmed != nil {
			q.OnConfirmed(*item, resp)
		}
		return
	}

	item.Attempts++
	switch {
	case !IsRetryable(err):
		item.Status = ItemFailed
		item.Note = err.Error()
	case item.Attempts >= maxSendAttempts:
		item.Status = ItemFailed
		item.Note = "gave up after repeated delivery failures"
	default:
		item.Status = ItemQueued
		item.NextAttemptTS = q.now().Add(q.backoff(item.Attempts, RetryAfterOf(err))).UnixNano()
	}
	q.persistLocked(item)
	failed := item.Status == ItemFailed
	snapshot := *item
	q.mu.Unlock()

	logger.Warn("outbound_send_failed", "thread", item.Thread, "attempts", item.Attempts, "error", err)
	if failed && q.OnFailed != nil {
		q.OnFailed(snapshot)
	}
}

// stageAttachment runs the presign and upload round trip for attachment
// items and returns the attachment id to bind to the send.
func (q *Outbound) stageAttachment(ctx context.Context, item *QueueItem) (string, error) {
	q.mu.Lock()
	att := q.attach[item.LocalID]
	q.mu.Unlock()
	if att == nil {
		return "", nil
	}
	presigned, err := q.api.PresignUpload(ctx, blob.PresignRequest{
		Scope:     att.Scope,
		FileName:  att.FileName,
		MimeType:  att.MimeType,
		SizeBytes: int64(len(att.Data)),
	})
	if err != nil {
		return "", err
	}
	if err := q.api.UploadBlob(ctx, presigned.UploadURL, att.Data); err != nil {
		return "", err
	}
	return presigned.Attachment.ID, nil
}

// backoff is exponential with a hard ceiling. A server-given wait takes
// the place of the computed delay outright, so a short hint shortens the
// retry. Jitter spreads retries from many clients out.
func (q *Outbound) backoff(attempts int, serverWait time.Duration) time.Duration {
	d := baseBackoff << uint(attempts)
	if d > maxBackoff {
		d = maxBackoff
	}
	if serverWait > 0 {
		d = serverWait
	}
	return d + time.Duration(q.rng.Int63n(int64(250*time.Millisecond)))
}

func (q *Outbound) removeLocked(localID string) {
	for i, it := range q.items {
		if it.LocalID == localID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			delete(q.attach, localID)
			if !it.HasAttachment {
				if err := q.log.Delete(it.Thread, it.LocalID); err != nil {
					logger.Warn("pending_delete_failed", "local_id", it.LocalID, "error", err)
				}
			}
			return
		}
	}
}

func (q *Outbound) persistLocked(item *QueueItem) {
	if item.HasAttachment {
		return
	}
	if err := q.log.Put(*item); err != nil {
		logger.Warn("pending_persist_failed", "local_id", item.LocalID, "error", err)
	}
}
