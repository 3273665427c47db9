package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"courier/pkg/auth"
	"courier/pkg/blob"
	"courier/pkg/governor"
	"courier/pkg/models"
	"courier/pkg/service"
	"courier/pkg/utils"
)

// API holds the handler dependencies. One instance is registered per
// router.
type API struct {
	Svc   *service.Service
	Blobs *blob.LocalDisk
}

// RegisterThreads registers all thread-related HTTP routes to the provided
// router.
func (a *API) RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads", a.openThread).Methods(http.MethodPost)
	r.HandleFunc("/threads", a.listThreads).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", a.getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/read", a.markRead).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/close", a.closeThread).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/report", a.reportThread).Methods(http.MethodPost)
}

// openThread handles POST /threads. Calling it twice with the same inputs
// returns the same thread with created=false the second time.
func (a *API) openThread(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	var req struct {
		ProviderProfileID string `json:"provider_profile_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	th, created, err := a.Svc.OpenOrCreateThread(actor, req.ProviderProfileID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread  models.Thread `json:"thread"`
		Created bool          `json:"created"`
	}{Thread: th, Created: created})
}

// listThreads handles GET /threads?mode=inbox: thread summaries plus the
// inbox poll-interval hint.
func (a *API) listThreads(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	sums, hints, err := a.Svc.ListThreads(actor)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sums == nil {
		sums = []service.ThreadSummary{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Threads        []service.ThreadSummary `json:"threads"`
		PollIntervalMs int64                   `json:"poll_interval_ms"`
	}{Threads: sums, PollIntervalMs: hints.SuggestedPollIntervalMs})
}

// getThread handles GET /threads/{id}: the thread plus its first message
// page and continuation cursor.
func (a *API) getThread(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	th, err := a.Svc.GetThread(actor, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	page, err := a.Svc.PollMessages(actor, id, "", governor.PollForeground)
	if err != nil {
		writeErr(w, err)
		return
	}
	if page.Items == nil {
		page.Items = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread     models.Thread    `json:"thread"`
		Messages   []models.Message `json:"messages"`
		NextCursor string           `json:"next_cursor"`
	}{Thread: th, Messages: page.Items, NextCursor: page.NextCursor})
}

// markRead handles POST /threads/{id}/read. An absent message id means
// "read everything".
func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	var req struct {
		LastReadMessageID string `json:"last_read_message_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	cur, err := a.Svc.MarkThreadRead(actor, id, req.LastReadMessageID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, cur)
}

func (a *API) closeThread(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	th, err := a.Svc.CloseThread(actor, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread models.Thread `json:"thread"`
	}{Thread: th})
}

func (a *API) reportThread(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	if err := a.Svc.ReportThread(actor, id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
