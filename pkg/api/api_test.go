package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"courier/pkg/blob"
	"courier/pkg/client"
	"courier/pkg/governor"
	"courier/pkg/models"
	"courier/pkg/service"
	"courier/pkg/store"
)

func newTestServer(t *testing.T, govCfg governor.Config, svcCfg service.Config) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	blobs, err := blob.NewLocalDisk(t.TempDir(), "/v1/blobs")
	if err != nil {
		t.Fatalf("blob.NewLocalDisk: %v", err)
	}
	svc := service.New(st, governor.New(govCfg), nil, nil, svcCfg)
	h := NewRouter(svc, blobs, Options{MaxAttachBytes: 1 << 20})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	if err := st.SaveProfile(models.ProviderProfile{
		ID: "prof-bob", OwnerUserID: "bob", DisplayName: "Dr Bob",
		Active: true, MessagingEnabled: true,
	}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	return srv, st
}

func TestRejectsRequestsWithoutIdentity(t *testing.T) {
	srv, _ := newTestServer(t, governor.Config{}, service.Config{})
	resp, err := http.Post(srv.URL+"/v1/threads", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", resp.StatusCode)
	}
}

func TestHealthzIsOpen(t *testing.T) {
	srv, _ := newTestServer(t, governor.Config{}, service.Config{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status=%d err=%v", resp.StatusCode, err)
	}
	resp.Body.Close()
	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status=%d err=%v", resp.StatusCode, err)
	}
	resp.Body.Close()
}

func TestWireConversationFlow(t *testing.T) {
	srv, _ := newTestServer(t, governor.Config{}, service.Config{})
	ctx := context.Background()
	alice := client.New(srv.URL, "alice", "requester")
	bob := client.New(srv.URL, "bob", "provider")

	opened, err := alice.OpenThread(ctx, "prof-bob")
	if err != nil || !opened.Created {
		t.Fatalf("open: created=%v err=%v", opened.Created, err)
	}
	reopened, err := alice.OpenThread(ctx, "prof-bob")
	if err != nil || reopened.Created || reopened.Thread.ID != opened.Thread.ID {
		t.Fatalf("reopen: %+v err=%v", reopened, err)
	}
	threadID := opened.Thread.ID

	sent, err := alice.SendMessage(ctx, threadID, client.SendRequest{Body: "hola", ClientRequestID: "w-1"})
	if err != nil || sent.Deduped {
		t.Fatalf("send: deduped=%v err=%v", sent.Deduped, err)
	}
	dup, err := alice.SendMessage(ctx, threadID, client.SendRequest{Body: "hola", ClientRequestID: "w-1"})
	if err != nil || !dup.Deduped || dup.Message.ID != sent.Message.ID {
		t.Fatalf("dedup over the wire: %+v err=%v", dup, err)
	}
	if _, err := bob.SendMessage(ctx, threadID, client.SendRequest{Body: "hi", ClientRequestID: "w-2"}); err != nil {
		t.Fatalf("reply: %v", err)
	}

	poll, err := alice.PollMessages(ctx, threadID, "", governor.PollForeground)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(poll.Items) != 2 || poll.NextCursor == "" || poll.ServerTime == 0 {
		t.Fatalf("poll page: items=%d cursor=%q time=%d", len(poll.Items), poll.NextCursor, poll.ServerTime)
	}
	if poll.ServerHints.SuggestedPollIntervalMs < 3000 {
		t.Fatalf("hints below foreground floor: %+v", poll.ServerHints)
	}
	tail, err := alice.PollMessages(ctx, threadID, poll.NextCursor, governor.PollForeground)
	if err != nil || len(tail.Items) != 0 {
		t.Fatalf("tail poll: items=%d err=%v", len(tail.Items), err)
	}

	if err := alice.MarkRead(ctx, threadID, ""); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	inbox, err := alice.ListThreads(ctx)
	if err != nil || len(inbox.Threads) != 1 {
		t.Fatalf("inbox: %+v err=%v", inbox, err)
	}
	if inbox.Threads[0].UnreadCount != 0 {
		t.Fatalf("unread=%d after mark read", inbox.Threads[0].UnreadCount)
	}
	if inbox.PollIntervalMs < 10000 {
		t.Fatalf("inbox interval below floor: %d", inbox.PollIntervalMs)
	}

	if err := alice.CloseThread(ctx, threadID); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = bob.SendMessage(ctx, threadID, client.SendRequest{Body: "late", ClientRequestID: "w-3"})
	ae, ok := err.(*client.APIError)
	if !ok || ae.Status != http.StatusForbidden || ae.Code != "FORBIDDEN" {
		t.Fatalf("send into closed thread: %v", err)
	}
}

func TestWireRateLimitCarriesRetryAfter(t *testing.T) {
	srv, _ := newTestServer(t, governor.Config{SendPerThread: 1, SendPerActor: 1}, service.Config{})
	ctx := context.Background()
	alice := client.New(srv.URL, "alice", "requester")

	opened, err := alice.OpenThread(ctx, "prof-bob")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := alice.SendMessage(ctx, opened.Thread.ID, client.SendRequest{Body: "one", ClientRequestID: "r-1"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err = alice.SendMessage(ctx, opened.Thread.ID, client.SendRequest{Body: "two", ClientRequestID: "r-2"})
	ae, ok := err.(*client.APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Status != http.StatusTooManyRequests || ae.Code != "RATE_LIMIT" {
		t.Fatalf("status=%d code=%s", ae.Status, ae.Code)
	}
	if ae.RetryAfterMs <= 0 {
		t.Fatalf("missing retry_after_ms")
	}
	if !client.IsRetryable(err) {
		t.Fatalf("429 must classify as retryable")
	}
}

func TestWireAttachmentUploadAndSend(t *testing.T) {
	srv, _ := newTestServer(t, governor.Config{}, service.Config{})
	ctx := context.Background()
	alice := client.New(srv.URL, "alice", "requester")

	opened, err := alice.OpenThread(ctx, "prof-bob")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	presigned, err := alice.PresignUpload(ctx, blob.PresignRequest{
		FileName: "scan.png", MimeType: "image/png", SizeBytes: 4,
	})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if presigned.Attachment.Kind != models.AttachmentImage || presigned.Attachment.Status != models.AttachmentUploaded {
		t.Fatalf("attachment ref: %+v", presigned.Attachment)
	}
	if err := alice.UploadBlob(ctx, presigned.UploadURL, []byte("data")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	sent, err := alice.SendMessage(ctx, opened.Thread.ID, client.SendRequest{
		AttachmentID: presigned.Attachment.ID, ClientRequestID: "a-1",
	})
	if err != nil {
		t.Fatalf("attachment send: %v", err)
	}
	if sent.Message.Attachment == nil || sent.Message.Attachment.ID != presigned.Attachment.ID {
		t.Fatalf("attachment not bound: %+v", sent.Message)
	}

	// oversize presign is rejected up front
	_, err = alice.PresignUpload(ctx, blob.PresignRequest{
		FileName: "huge.png", MimeType: "image/png", SizeBytes: 2 << 20,
	})
	if ae, ok := err.(*client.APIError); !ok || ae.Status != http.StatusBadRequest {
		t.Fatalf("oversize presign: %v", err)
	}
}
