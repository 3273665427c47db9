// Package store owns the durable conversation log: threads, messages,
// participants, read cursors, attachment refs and provider profiles, all
// kept in a single Pebble keyspace. The store is the single source of truth
// for ordering: it assigns every accepted message a monotonic (ts, id) key.
//
// Key layout:
//
//	profile:<id>                                -> ProviderProfile JSON
//	pair:<requesterUserID>:<profileID>          -> thread id (uniqueness guard)
//	thread:<id>:meta                            -> Thread JSON
//	thread:<id>:msg:<%020d ts>-<msgID>          -> Message JSON
//	thread:<id>:msgid:<msgID>                   -> full msg key
//	thread:<id>:dedup:<senderID>:<clientReqID>  -> full msg key (idempotency guard)
//	thread:<id>:part:<userID>                   -> Participant JSON
//	thread:<id>:cursor:<userID>                 -> ReadCursor JSON
//	user:<id>:thread:<threadID>                 -> thread id (membership index)
//	attach:<id>                                 -> AttachmentRef JSON
//
// Pebble has no unique indexes, so the guard keys above are checked and
// written inside the store's write mutex and committed in the same atomic
// batch as the row they protect. A send either lands with all its side
// effects (dedup guard, thread timestamp, sender cursor) or not at all.
// External ids in guard keys are escaped (keySeg) so an id containing the
// separator cannot alias a different id pair.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"courier/pkg/apperr"
	"courier/pkg/logger"
	"courier/pkg/models"
	"courier/pkg/utils"
)

type Store struct {
	db   *pebble.DB
	path string

	// mu serializes writers; guard-key checks and their batch commits
	// must not interleave
	mu sync.Mutex
	// lastTS is the last ordering timestamp handed out; bumped so two
	// accepted sends never share a timestamp within one store
	lastTS int64
}

// Open opens (or creates) the conversation store at the given path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("store_opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying Pebble handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("store_closed", "path", s.path)
	return err
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

func (s *Store) nextTS() int64 {
	now := time.Now().UTC().UnixNano()
	if now <= s.lastTS {
		now = s.lastTS + 1
	}
	s.lastTS = now
	return now
}

func msgKey(threadID string, ts int64, msgID string) []byte {
	return []byte(fmt.Sprintf("thread:%s:msg:%020d-%s", threadID, ts, msgID))
}

// keySeg escapes an externally supplied identifier before it is joined
// into a guard key. Without this, ids containing the separator alias
// each other: ("a:b","c") and ("a","b:c") would share one pair key.
var keySeg = strings.NewReplacer("%", "%25", ":", "%3a").Replace

func pairKey(requesterUserID, profileID string) []byte {
	return []byte("pair:" + keySeg(requesterUserID) + ":" + keySeg(profileID))
}

func dedupKey(threadID, senderUserID, clientRequestID string) []byte {
	return []byte("thread:" + threadID + ":dedup:" + keySeg(senderUserID) + ":" + keySeg(clientRequestID))
}

func (s *Store) get(key []byte, v interface{}) error {
	raw, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return apperr.New(apperr.NotFound, "key %s not found", key)
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(raw, v)
}

func setJSON(b *pebble.Batch, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Set(key, raw, nil)
}

// --- provider profiles ---

// SaveProfile upserts a provider profile directory entry.
func (s *Store) SaveProfile(p models.ProviderProfile) error {
	if p.ID == "" {
		return apperr.New(apperr.Validation, "profile id is required")
	}
	if p.CreatedTS == 0 {
		p.CreatedTS = time.Now().UTC().UnixNano()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Set([]byte("profile:"+p.ID), raw, pebble.Sync)
}

// GetProfile returns the profile for id, or NOT_FOUND.
func (s *Store) GetProfile(id string) (models.ProviderProfile, error) {
	var p models.ProviderProfile
	if err := s.get([]byte("profile:"+id), &p); err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return p, apperr.New(apperr.NotFound, "provider profile %s not found", id)
		}
		return p, err
	}
	return p, nil
}

// --- threads ---

// CreateThread creates the thread for (requester, profile) or returns the
// existing one. The pair guard key makes the call idempotent: two
// concurrent creates commit one thread row and both observe the same id.
func (s *Store) CreateThread(requesterUserID string, profile models.ProviderProfile) (models.Thread, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := pairKey(requesterUserID, profile.ID)
	if raw, closer, err := s.db.Get(pk); err == nil {
		existingID := string(raw)
		closer.Close()
		th, gerr := s.GetThread(existingID)
		return th, false, gerr
	} else if err != pebble.ErrNotFound {
		return models.Thread{}, false, err
	}

	now := s.nextTS()
	th := models.Thread{
		ID:                utils.GenThreadID(),
		RequesterUserID:   requesterUserID,
		ProviderUserID:    profile.OwnerUserID,
		ProviderProfileID: profile.ID,
		Status:            models.ThreadOpen,
		CreatedTS:         now,
		LastMessageTS:     now,
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(pk, []byte(th.ID), nil); err != nil {
		return th, false, err
	}
	if err := setJSON(b, []byte("thread:"+th.ID+":meta"), th); err != nil {
		return th, false, err
	}
	parts := []models.Participant{
		{Thread: th.ID, UserID: requesterUserID, Role: models.RoleRequester, JoinedTS: now},
		{Thread: th.ID, UserID: profile.OwnerUserID, Role: models.RoleProvider, JoinedTS: now},
	}
	for _, p := range parts {
		if err := setJSON(b, []byte("thread:"+th.ID+":part:"+p.UserID), p); err != nil {
			return th, false, err
		}
		cur := models.ReadCursor{Thread: th.ID, UserID: p.UserID}
		if err := setJSON(b, []byte("thread:"+th.ID+":cursor:"+p.UserID), cur); err != nil {
			return th, false, err
		}
		if err := b.Set([]byte("user:"+p.UserID+":thread:"+th.ID), []byte(th.ID), nil); err != nil {
			return th, false, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("thread_create_failed", "thread", th.ID, "error", err)
		return th, false, err
	}
	threadsCreated.Inc()
	logger.Info("thread_created", "thread", th.ID, "requester", requesterUserID, "profile", profile.ID)
	return th, true, nil
}

// GetThread returns the thread metadata, or NOT_FOUND.
func (s *Store) GetThread(id string) (models.Thread, error) {
	var th models.Thread
	if err := s.get([]byte("thread:"+id+":meta"), &th); err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return th, apperr.New(apperr.NotFound, "thread %s not found", id)
		}
		return th, err
	}
	return th, nil
}

// Participant returns the membership row for (thread, user), or NOT_FOUND.
func (s *Store) Participant(threadID, userID string) (models.Participant, error) {
	var p models.Participant
	if err := s.get([]byte("thread:"+threadID+":part:"+userID), &p); err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return p, apperr.New(apperr.NotFound, "no participant %s in thread %s", userID, threadID)
		}
		return p, err
	}
	return p, nil
}

// Participants returns all membership rows of a thread.
func (s *Store) Participants(threadID string) ([]models.Participant, error) {
	prefix := []byte("thread:" + threadID + ":part:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Participant
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var p models.Participant
		if json.Unmarshal(iter.Value(), &p) == nil {
			out = append(out, p)
		}
	}
	return out, iter.Error()
}

// ThreadsFor returns all threads the user participates in.
func (s *Store) ThreadsFor(userID string) ([]models.Thread, error) {
	prefix := []byte("user:" + userID + ":thread:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		th, err := s.GetThread(string(iter.Value()))
		if err != nil {
			continue
		}
		out = append(out, th)
	}
	return out, iter.Error()
}

// AllThreads returns every thread in the store (administrative listing).
func (s *Store) AllThreads() ([]models.Thread, error) {
	prefix := []byte("thread:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var th models.Thread
		if json.Unmarshal(iter.Value(), &th) == nil {
			out = append(out, th)
		}
	}
	return out, iter.Error()
}

// --- messages ---

// AppendMessage durably appends msg to its thread. When the message carries
// a ClientRequestID already seen for (thread, sender), the previously stored
// message is returned with deduped=true and nothing is written. On a fresh
// append the thread's LastMessageTS and the sender's read cursor advance in
// the same batch, so a send is never partially applied.
func (s *Store) AppendMessage(threadID string, msg models.Message) (models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ClientRequestID != "" && msg.SenderUserID != "" {
		if raw, closer, err := s.db.Get(dedupKey(threadID, msg.SenderUserID, msg.ClientRequestID)); err == nil {
			storedKey := append([]byte(nil), raw...)
			closer.Close()
			var prev models.Message
			if err := s.get(storedKey, &prev); err != nil {
				return prev, false, fmt.Errorf("dedup index points at missing message: %w", err)
			}
			sendsDeduped.Inc()
			logger.Info("message_deduped", "thread", threadID, "id", prev.ID, "client_request_id", msg.ClientRequestID)
			return prev, true, nil
		} else if err != pebble.ErrNotFound {
			return msg, false, err
		}
	}

	th, err := s.GetThread(threadID)
	if err != nil {
		return msg, false, err
	}

	if msg.ID == "" {
		msg.ID = utils.GenID()
	}
	msg.Thread = threadID
	msg.TS = s.nextTS()

	key := msgKey(threadID, msg.TS, msg.ID)
	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, msg); err != nil {
		return msg, false, err
	}
	if err := b.Set([]byte("thread:"+threadID+":msgid:"+msg.ID), key, nil); err != nil {
		return msg, false, err
	}
	if msg.ClientRequestID != "" && msg.SenderUserID != "" {
		if err := b.Set(dedupKey(threadID, msg.SenderUserID, msg.ClientRequestID), key, nil); err != nil {
			return msg, false, err
		}
	}
	th.LastMessageTS = msg.TS
	if err := setJSON(b, []byte("thread:"+threadID+":meta"), th); err != nil {
		return msg, false, err
	}
	// sending counts as having read up to your own message
	if msg.SenderUserID != "" {
		cur := models.ReadCursor{
			Thread: threadID, UserID: msg.SenderUserID,
			LastReadMsgID: msg.ID, LastReadTS: msg.TS,
			ReadAtTS: time.Now().UTC().UnixNano(),
		}
		if err := setJSON(b, []byte("thread:"+threadID+":cursor:"+msg.SenderUserID), cur); err != nil {
			return msg, false, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("message_append_failed", "thread", threadID, "id", msg.ID, "error", err)
		return msg, false, err
	}
	messagesAppended.Inc()
	logger.Info("message_appended", "thread", threadID, "id", msg.ID, "sender", string(msg.Sender))
	return msg, false, nil
}

// GetMessage loads a single message by id within a thread.
func (s *Store) GetMessage(threadID, msgID string) (models.Message, error) {
	var keyRaw []byte
	raw, closer, err := s.db.Get([]byte("thread:" + threadID + ":msgid:" + msgID))
	if err == pebble.ErrNotFound {
		return models.Message{}, apperr.New(apperr.NotFound, "message %s not found", msgID)
	}
	if err != nil {
		return models.Message{}, err
	}
	keyRaw = append(keyRaw, raw...)
	closer.Close()
	var m models.Message
	if err := s.get(keyRaw, &m); err != nil {
		return m, err
	}
	return m, nil
}

// MessagesAfter returns up to limit non-deleted messages ordered strictly
// after the cursor. A zero cursor means "from the beginning".
func (s *Store) MessagesAfter(threadID string, after Cursor, limit int) ([]models.Message, error) {
	prefix := []byte("thread:" + threadID + ":msg:")
	start := prefix
	if !after.IsZero() {
		// seek to the cursor key itself; the equal key is skipped below
		start = msgKey(threadID, after.TS, after.ID)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("message_decode_failed", "thread", threadID, "key", string(iter.Key()))
			continue
		}
		if !after.IsZero() && !after.Before(m.TS, m.ID) {
			continue
		}
		if m.Deleted {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// LatestMessage returns the newest non-deleted message of a thread.
func (s *Store) LatestMessage(threadID string) (models.Message, bool, error) {
	prefix := []byte("thread:" + threadID + ":msg:")
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return models.Message{}, false, err
	}
	defer iter.Close()
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Deleted {
			continue
		}
		return m, true, nil
	}
	return models.Message{}, false, iter.Error()
}

// SoftDeleteMessage flips the deleted flag on a message in place. The row
// stays under its original ordering key.
func (s *Store) SoftDeleteMessage(threadID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.GetMessage(threadID, msgID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}
	m.Deleted = true
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.db.Set(msgKey(threadID, m.TS, m.ID), raw, pebble.Sync); err != nil {
		return err
	}
	logger.Info("message_soft_deleted", "thread", threadID, "id", msgID)
	return nil
}

// --- read cursors ---

// GetCursor returns the user's read cursor in a thread; absent cursors read
// as zero (nothing read yet).
func (s *Store) GetCursor(threadID, userID string) (models.ReadCursor, error) {
	var cur models.ReadCursor
	err := s.get([]byte("thread:"+threadID+":cursor:"+userID), &cur)
	if err != nil && apperr.CodeOf(err) == apperr.NotFound {
		return models.ReadCursor{Thread: threadID, UserID: userID}, nil
	}
	return cur, err
}

// MarkRead advances the user's cursor to the target message. The cursor
// never regresses: marking an older message read is a no-op.
func (s *Store) MarkRead(threadID, userID string, target models.Message) (models.ReadCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.GetCursor(threadID, userID)
	if err != nil {
		return cur, err
	}
	c := Cursor{TS: cur.LastReadTS, ID: cur.LastReadMsgID}
	if !c.Before(target.TS, target.ID) {
		return cur, nil
	}
	cur = models.ReadCursor{
		Thread: threadID, UserID: userID,
		LastReadMsgID: target.ID, LastReadTS: target.TS,
		ReadAtTS: time.Now().UTC().UnixNano(),
	}
	raw, err := json.Marshal(cur)
	if err != nil {
		return cur, err
	}
	if err := s.db.Set([]byte("thread:"+threadID+":cursor:"+userID), raw, pebble.Sync); err != nil {
		return cur, err
	}
	return cur, nil
}

// UnreadCount counts non-deleted messages from the other side strictly
// after the user's read cursor. System events (thread closed) carry no
// sender and are not unread for anyone. Never derived from client input.
func (s *Store) UnreadCount(threadID, userID string) (int, error) {
	cur, err := s.GetCursor(threadID, userID)
	if err != nil {
		return 0, err
	}
	after := Cursor{TS: cur.LastReadTS, ID: cur.LastReadMsgID}
	msgs, err := s.MessagesAfter(threadID, after, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.Sender == models.SenderSystem || m.SenderUserID == userID {
			continue
		}
		n++
	}
	return n, nil
}

// --- thread lifecycle ---

// CloseThread transitions the thread to the terminal status and appends the
// system event message in one batch. Closing an already-closed thread is a
// no-op returning the stored state.
func (s *Store) CloseThread(threadID string, status models.ThreadStatus, event models.Message) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.GetThread(threadID)
	if err != nil {
		return th, err
	}
	if th.Status.Terminal() {
		return th, nil
	}
	th.Status = status
	event.ID = utils.GenID()
	event.Thread = threadID
	event.Sender = models.SenderSystem
	event.TS = s.nextTS()
	th.LastMessageTS = event.TS

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, []byte("thread:"+threadID+":meta"), th); err != nil {
		return th, err
	}
	if err := setJSON(b, msgKey(threadID, event.TS, event.ID), event); err != nil {
		return th, err
	}
	if err := b.Set([]byte("thread:"+threadID+":msgid:"+event.ID), msgKey(threadID, event.TS, event.ID), nil); err != nil {
		return th, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return th, err
	}
	logger.Info("thread_closed", "thread", threadID, "status", string(status))
	return th, nil
}

// MarkReported flags the thread as reported.
func (s *Store) MarkReported(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.GetThread(threadID)
	if err != nil {
		return err
	}
	if th.Reported {
		return nil
	}
	th.Reported = true
	raw, err := json.Marshal(th)
	if err != nil {
		return err
	}
	return s.db.Set([]byte("thread:"+threadID+":meta"), raw, pebble.Sync)
}

// --- attachments ---

// SaveAttachment upserts an attachment reference.
func (s *Store) SaveAttachment(a models.AttachmentRef) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Set([]byte("attach:"+a.ID), raw, pebble.Sync)
}

// GetAttachment returns the attachment ref, or NOT_FOUND.
func (s *Store) GetAttachment(id string) (models.AttachmentRef, error) {
	var a models.AttachmentRef
	if err := s.get([]byte("attach:"+id), &a); err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return a, apperr.New(apperr.NotFound, "attachment %s not found", id)
		}
		return a, err
	}
	return a, nil
}

// --- retention ---

// PurgeDeleted removes soft-deleted messages older than cutoff and whole
// threads that reached a terminal status before cutoff. Returns the number
// of purged entities.
func (s *Store) PurgeDeleted(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutNS := cutoff.UTC().UnixNano()
	purged := 0

	threads, err := s.AllThreads()
	if err != nil {
		return 0, err
	}
	for _, th := range threads {
		if th.Status.Terminal() && th.LastMessageTS < cutNS {
			if err := s.deleteThreadLocked(th); err != nil {
				return purged, err
			}
			purged++
			continue
		}
		msgs, err := s.allMessagesLocked(th.ID)
		if err != nil {
			return purged, err
		}
		for _, m := range msgs {
			if m.Deleted && m.TS < cutNS {
				b := s.db.NewBatch()
				_ = b.Delete(msgKey(th.ID, m.TS, m.ID), nil)
				_ = b.Delete([]byte("thread:"+th.ID+":msgid:"+m.ID), nil)
				if m.ClientRequestID != "" && m.SenderUserID != "" {
					_ = b.Delete(dedupKey(th.ID, m.SenderUserID, m.ClientRequestID), nil)
				}
				if err := b.Commit(pebble.Sync); err != nil {
					b.Close()
					return purged, err
				}
				b.Close()
				purged++
			}
		}
	}
	if purged > 0 {
		purgedEntries.Add(float64(purged))
		logger.Info("retention_purged", "count", purged)
	}
	return purged, nil
}

func (s *Store) allMessagesLocked(threadID string) ([]models.Message, error) {
	prefix := []byte("thread:" + threadID + ":msg:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if json.Unmarshal(iter.Value(), &m) == nil {
			out = append(out, m)
		}
	}
	return out, iter.Error()
}

func (s *Store) deleteThreadLocked(th models.Thread) error {
	prefix := []byte("thread:" + th.ID + ":")
	upper := append(append([]byte(nil), prefix...), 0xff)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, upper, nil); err != nil {
		return err
	}
	_ = b.Delete(pairKey(th.RequesterUserID, th.ProviderProfileID), nil)
	_ = b.Delete([]byte("user:"+th.RequesterUserID+":thread:"+th.ID), nil)
	_ = b.Delete([]byte("user:"+th.ProviderUserID+":thread:"+th.ID), nil)
	return b.Commit(pebble.Sync)
}
