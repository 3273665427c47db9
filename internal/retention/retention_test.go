package retention

import (
	"context"
	"testing"

	"courier/pkg/apperr"
	"courier/pkg/config"
	"courier/pkg/models"
	"courier/pkg/store"
)

func TestRunOncePurgesSoftDeleted(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	profile := models.ProviderProfile{ID: "p1", OwnerUserID: "bob", Active: true, MessagingEnabled: true}
	th, _, err := st.CreateThread("alice", profile)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	m, _, err := st.AppendMessage(th.ID, models.Message{
		Sender: models.SenderRequester, SenderUserID: "alice", Body: "oops",
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := st.SoftDeleteMessage(th.ID, m.ID); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}

	// a negative age pushes the cutoff into the future, covering everything
	n, err := RunOnce(st, -1)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged=%d, want 1", n)
	}
	if _, err := st.GetMessage(th.ID, m.ID); apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("message survived purge: %v", err)
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	var cfg config.Config
	cfg.Retention.Enabled = true
	cfg.Retention.Cron = "not a cron"
	if _, err := Start(context.Background(), cfg, st); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	var cfg config.Config
	cancel, err := Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
}
