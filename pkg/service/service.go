// Package service is the request-handling layer of the messaging core. It
// enforces authorization and the thread state machine, passes every call
// through the backpressure governor, and leaves ordering and idempotency to
// the store.
package service

import (
	"time"

	"courier/pkg/apperr"
	"courier/pkg/governor"
	"courier/pkg/models"
	"courier/pkg/notify"
	"courier/pkg/store"
	"courier/pkg/validation"
)

// Actor is the authenticated caller supplied by the session collaborator.
// The core trusts it and performs no credential checks of its own.
type Actor struct {
	ID          string
	Role        models.Role
	DisplayName string
}

// Config carries service-level tunables.
type Config struct {
	PageSize         int
	MaxBodyLen       int
	AudioAttachments bool
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.MaxBodyLen <= 0 {
		c.MaxBodyLen = validation.DefaultMaxBodyLen
	}
	return c
}

type Service struct {
	store    *store.Store
	limits   governor.RateLimiter
	standing Standing
	events   *notify.Emitter
	cfg      Config
}

func New(st *store.Store, limits governor.RateLimiter, standing Standing, events *notify.Emitter, cfg Config) *Service {
	if standing == nil {
		standing = NewProfileStanding(st)
	}
	if events == nil {
		events = notify.NewEmitter(notify.LogSink{}, 0)
	}
	return &Service{store: st, limits: limits, standing: standing, events: events, cfg: cfg.withDefaults()}
}

// Store exposes the underlying store to wiring code (handlers that need
// profile/attachment lookups).
func (s *Service) Store() *store.Store { return s.store }

// --- thread summaries ---

const previewLen = 120

// ThreadSummary is what thread lists render: thread metadata plus derived
// fields the client is never trusted to compute.
type ThreadSummary struct {
	Thread      models.Thread `json:"thread"`
	UnreadCount int           `json:"unread_count"`
	Preview     string        `json:"preview"`
	// ReadByOther reports whether the counterpart's cursor has passed the
	// latest message. UI-grade only: cursor and message timestamps come
	// from different writes and may skew by milliseconds.
	ReadByOther bool `json:"read_by_other"`
}

// ListThreads returns summaries for every thread the actor participates in
// (all threads for admins), plus a poll-interval hint for the inbox poller.
func (s *Service) ListThreads(actor Actor) ([]ThreadSummary, governor.Hints, error) {
	v := s.limits.CheckPoll(actor.ID, "inbox:"+actor.ID, governor.PollInbox)
	if !v.Allowed {
		return nil, v.Hints, apperr.RateLimited(v.RetryAfterMs)
	}

	var threads []models.Thread
	var err error
	if actor.Role == models.RoleAdmin {
		threads, err = s.store.AllThreads()
	} else {
		threads, err = s.store.ThreadsFor(actor.ID)
	}
	if err != nil {
		return nil, v.Hints, err
	}

	out := make([]ThreadSummary, 0, len(threads))
	for _, th := range threads {
		sum, err := s.summarize(th, actor.ID)
		if err != nil {
			return nil, v.Hints, err
		}
		out = append(out, sum)
	}
	return out, v.Hints, nil
}

func (s *Service) summarize(th models.Thread, viewerID string) (ThreadSummary, error) {
	sum := ThreadSummary{Thread: th, Preview: "No messages yet"}
	unread, err := s.store.UnreadCount(th.ID, viewerID)
	if err != nil {
		return sum, err
	}
	sum.UnreadCount = unread

	latest, ok, err := s.store.LatestMessage(th.ID)
	if err != nil {
		return sum, err
	}
	if !ok {
		return sum, nil
	}
	switch {
	case latest.Body != "":
		body := []rune(latest.Body)
		if len(body) > previewLen {
			body = body[:previewLen]
		}
		sum.Preview = string(body)
	case latest.Attachment != nil:
		sum.Preview = latest.Attachment.Label()
	}

	otherID := th.RequesterUserID
	if viewerID == th.RequesterUserID {
		otherID = th.ProviderUserID
	}
	cur, err := s.store.GetCursor(th.ID, otherID)
	if err != nil {
		return sum, err
	}
	c := store.Cursor{TS: cur.LastReadTS, ID: cur.LastReadMsgID}
	sum.ReadByOther = !c.Before(latest.TS, latest.ID)
	return sum, nil
}

// --- open/create ---

// OpenOrCreateThread resolves the provider profile and returns the single
// thread for (actor, profile), creating it on first contact. Safe to call
// twice with the same inputs; the second call reports created=false.
func (s *Service) OpenOrCreateThread(actor Actor, providerProfileID string) (models.Thread, bool, error) {
	if !actor.Role.CanMessage() {
		return models.Thread{}, false, apperr.New(apperr.Validation, "role %q cannot open conversations", actor.Role)
	}
	profile, err := s.store.GetProfile(providerProfileID)
	if err != nil {
		return models.Thread{}, false, err
	}
	if !profile.Active || !profile.MessagingEnabled {
		return models.Thread{}, false, apperr.New(apperr.Forbidden, "provider is not accepting messages")
	}
	if profile.OwnerUserID == "" {
		return models.Thread{}, false, apperr.New(apperr.Conflict, "provider profile has no linked user account")
	}
	if profile.OwnerUserID == actor.ID {
		return models.Thread{}, false, apperr.New(apperr.Forbidden, "cannot open a conversation with yourself")
	}

	th, created, err := s.store.CreateThread(actor.ID, profile)
	if err != nil {
		return th, created, err
	}
	if created {
		s.events.Emit(notify.Event{Kind: notify.EventThreadCreated, Thread: th.ID, Actor: actor.ID})
	}
	return th, created, nil
}

// --- send ---

// SendResult is what a send returns to the transport layer.
type SendResult struct {
	Message models.Message
	Deduped bool
	Hints   governor.Hints
}

// SendMessage validates, gates and appends one message. Supplying the same
// clientRequestID again returns the originally accepted message with
// Deduped=true, so an unknown-outcome retry can never create a duplicate.
func (s *Service) SendMessage(actor Actor, threadID, body string, attachmentID, clientRequestID string) (SendResult, error) {
	v := s.limits.CheckSend(actor.ID, threadID)
	if !v.Allowed {
		return SendResult{Hints: v.Hints}, apperr.RateLimited(v.RetryAfterMs)
	}
	res := SendResult{Hints: v.Hints}

	part, err := s.participantOf(actor, threadID)
	if err != nil {
		return res, err
	}
	th, err := s.store.GetThread(threadID)
	if err != nil {
		return res, err
	}
	if th.Status.Terminal() {
		return res, apperr.New(apperr.Forbidden, "thread is closed")
	}
	// the provider's standing is re-evaluated on every send; it can lapse
	// between messages independent of thread status
	if part.Role == models.RoleProvider {
		ok, err := s.standing.MayReply(th.ProviderProfileID)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, apperr.New(apperr.Forbidden, "provider standing does not allow replies")
		}
	}

	var att *models.AttachmentRef
	if attachmentID != "" {
		a, err := s.store.GetAttachment(attachmentID)
		if err != nil {
			return res, err
		}
		if a.Status != models.AttachmentUploaded && a.Status != models.AttachmentValidated {
			return res, apperr.New(apperr.Validation, "attachment %s is %s", a.ID, a.Status)
		}
		if a.Kind == models.AttachmentAudio && !s.cfg.AudioAttachments {
			return res, apperr.New(apperr.Unsupported, "audio attachments are not enabled")
		}
		att = &a
	}
	if err := validation.ValidateSend(body, att, s.cfg.MaxBodyLen); err != nil {
		return res, err
	}

	msg := models.Message{
		Thread:          threadID,
		Sender:          models.SenderTypeFor(part.Role),
		SenderUserID:    actor.ID,
		Body:            body,
		ClientRequestID: clientRequestID,
		Attachment:      att,
	}
	stored, deduped, err := s.store.AppendMessage(threadID, msg)
	if err != nil {
		return res, err
	}
	res.Message = stored
	res.Deduped = deduped
	if !deduped {
		s.events.Emit(notify.Event{Kind: notify.EventMessageCreated, Thread: threadID, Message: stored.ID, Actor: actor.ID})
	}
	return res, nil
}

// --- read / poll ---

// MarkThreadRead advances the actor's read cursor to the given message, or
// to the latest message when none is given. Idempotent; never regresses.
func (s *Service) MarkThreadRead(actor Actor, threadID, lastReadMessageID string) (models.ReadCursor, error) {
	if _, err := s.participantOf(actor, threadID); err != nil {
		return models.ReadCursor{}, err
	}
	var target models.Message
	if lastReadMessageID != "" {
		m, err := s.store.GetMessage(threadID, lastReadMessageID)
		if err != nil {
			return models.ReadCursor{}, err
		}
		target = m
	} else {
		m, ok, err := s.store.LatestMessage(threadID)
		if err != nil {
			return models.ReadCursor{}, err
		}
		if !ok {
			return s.store.GetCursor(threadID, actor.ID)
		}
		target = m
	}
	return s.store.MarkRead(threadID, actor.ID, target)
}

// PollResult carries one poll page plus its continuation cursor.
type PollResult struct {
	Items      []models.Message
	NextCursor string
	ServerTime int64
	Hints      governor.Hints
}

// PollMessages returns non-deleted messages strictly after the cursor,
// bounded to the page size. Participants with lapsed standing may still
// poll; only sending is gated.
func (s *Service) PollMessages(actor Actor, threadID, cursorToken string, mode governor.PollMode) (PollResult, error) {
	v := s.limits.CheckPoll(actor.ID, threadID, mode)
	if !v.Allowed {
		return PollResult{Hints: v.Hints}, apperr.RateLimited(v.RetryAfterMs)
	}
	res := PollResult{Hints: v.Hints, NextCursor: cursorToken, ServerTime: time.Now().UTC().UnixNano()}

	if _, err := s.participantOf(actor, threadID); err != nil {
		return res, err
	}
	var after store.Cursor
	if cursorToken != "" {
		c, err := store.DecodeCursor(cursorToken)
		if err != nil {
			return res, err
		}
		after = c
	}
	items, err := s.store.MessagesAfter(threadID, after, s.cfg.PageSize)
	if err != nil {
		return res, err
	}
	res.Items = items
	if len(items) > 0 {
		last := items[len(items)-1]
		res.NextCursor = store.Cursor{TS: last.TS, ID: last.ID}.Encode()
	}
	return res, nil
}

// --- lifecycle ---

// CloseThread moves the thread to the actor's terminal status and appends a
// system event message. Closing an already-closed thread is a no-op.
func (s *Service) CloseThread(actor Actor, threadID string) (models.Thread, error) {
	part, err := s.participantOf(actor, threadID)
	if err != nil {
		return models.Thread{}, err
	}
	event := models.Message{Body: "Conversation closed by " + string(part.Role)}
	th, err := s.store.CloseThread(threadID, models.ClosedStatusFor(part.Role), event)
	if err != nil {
		return th, err
	}
	s.events.Emit(notify.Event{Kind: notify.EventThreadClosed, Thread: threadID, Actor: actor.ID})
	return th, nil
}

// DeleteMessage soft-deletes the actor's own message.
func (s *Service) DeleteMessage(actor Actor, threadID, messageID string) error {
	if _, err := s.participantOf(actor, threadID); err != nil {
		return err
	}
	m, err := s.store.GetMessage(threadID, messageID)
	if err != nil {
		return err
	}
	if m.SenderUserID != actor.ID && actor.Role != models.RoleAdmin {
		return apperr.New(apperr.Forbidden, "only the sender can delete a message")
	}
	return s.store.SoftDeleteMessage(threadID, messageID)
}

// ReportThread flags the thread and emits the event the moderation
// collaborator listens for.
func (s *Service) ReportThread(actor Actor, threadID string) error {
	if _, err := s.participantOf(actor, threadID); err != nil {
		return err
	}
	if err := s.store.MarkReported(threadID); err != nil {
		return err
	}
	s.events.Emit(notify.Event{Kind: notify.EventThreadReported, Thread: threadID, Actor: actor.ID})
	return nil
}

// GetThread returns the thread for a participant (or admin).
func (s *Service) GetThread(actor Actor, threadID string) (models.Thread, error) {
	if _, err := s.participantOf(actor, threadID); err != nil {
		return models.Thread{}, err
	}
	return s.store.GetThread(threadID)
}

// participantOf resolves the actor's membership row; non-members get
// FORBIDDEN (admins pass with a synthetic row).
func (s *Service) participantOf(actor Actor, threadID string) (models.Participant, error) {
	if actor.ID == "" {
		return models.Participant{}, apperr.New(apperr.Forbidden, "no authenticated actor")
	}
	if actor.Role == models.RoleAdmin {
		return models.Participant{Thread: threadID, UserID: actor.ID, Role: models.RoleAdmin}, nil
	}
	p, err := s.store.Participant(threadID, actor.ID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return p, apperr.New(apperr.Forbidden, "no access to thread %s", threadID)
		}
		return p, err
	}
	return p, nil
}
