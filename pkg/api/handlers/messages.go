package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"courier/pkg/auth"
	"courier/pkg/governor"
	"courier/pkg/models"
	"courier/pkg/utils"
)

// RegisterMessages registers thread-scoped message endpoints.
func (a *API) RegisterMessages(r *mux.Router) {
	r.HandleFunc("/threads/{id}/messages", a.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/messages", a.pollMessages).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/messages/{mid}", a.deleteMessage).Methods(http.MethodDelete)
}

// sendMessage handles POST /threads/{id}/messages. Retrying with the same
// client_request_id returns the original message with deduped=true.
func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	var req struct {
		Body            string `json:"body"`
		AttachmentID    string `json:"attachment_id"`
		ClientRequestID string `json:"client_request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := a.Svc.SendMessage(actor, id, req.Body, req.AttachmentID, req.ClientRequestID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Message     models.Message `json:"message"`
		ServerHints governor.Hints `json:"server_hints"`
		Deduped     bool           `json:"deduped"`
	}{Message: res.Message, ServerHints: res.Hints, Deduped: res.Deduped})
}

// pollMessages handles GET /threads/{id}/messages?cursor=&mode=. The
// cursor is opaque; an empty cursor reads from the beginning.
func (a *API) pollMessages(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	id := mux.Vars(r)["id"]
	mode := governor.PollMode(r.URL.Query().Get("mode"))
	res, err := a.Svc.PollMessages(actor, id, r.URL.Query().Get("cursor"), mode)
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.Items == nil {
		res.Items = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Items       []models.Message `json:"items"`
		NextCursor  string           `json:"next_cursor"`
		ServerTime  int64            `json:"server_time"`
		ServerHints governor.Hints   `json:"server_hints"`
	}{Items: res.Items, NextCursor: res.NextCursor, ServerTime: res.ServerTime, ServerHints: res.Hints})
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	vars := mux.Vars(r)
	if err := a.Svc.DeleteMessage(actor, vars["id"], vars["mid"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
