package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"courier/pkg/blob"
	"courier/pkg/models"
	"courier/pkg/utils"
	"courier/pkg/validation"
)

// RegisterBlobs registers the attachment upload boundary: presign, PUT and
// GET against the local dev presigner. Production deployments point
// presigned URLs at real object storage instead.
func (a *API) RegisterBlobs(r *mux.Router, maxAttachBytes int64) {
	r.HandleFunc("/blobs/presign", a.presign(maxAttachBytes)).Methods(http.MethodPost)
	r.PathPrefix("/blobs/").HandlerFunc(a.putBlob).Methods(http.MethodPut)
	r.PathPrefix("/blobs/").HandlerFunc(a.getBlob).Methods(http.MethodGet)
}

// presign creates the AttachmentRef before any message can bind it and
// hands back the upload target.
func (a *API) presign(maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blob.PresignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		kind, err := validation.ValidateUpload(req.FileName, req.MimeType, req.SizeBytes, maxBytes)
		if err != nil {
			writeErr(w, err)
			return
		}
		if req.Scope == "" {
			req.Scope = "attachments"
		}
		signed, err := a.Blobs.PresignUpload(req)
		if err != nil {
			writeErr(w, err)
			return
		}
		ref := models.AttachmentRef{
			ID:         utils.GenAttachmentID(),
			Kind:       kind,
			Status:     models.AttachmentUploaded,
			FileName:   req.FileName,
			MimeType:   req.MimeType,
			SizeBytes:  req.SizeBytes,
			StorageKey: signed.StorageKey,
			CreatedTS:  time.Now().UTC().UnixNano(),
		}
		if err := a.Svc.Store().SaveAttachment(ref); err != nil {
			writeErr(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, struct {
			UploadURL  string               `json:"upload_url"`
			StorageKey string               `json:"storage_key"`
			PublicURL  string               `json:"public_url,omitempty"`
			Attachment models.AttachmentRef `json:"attachment"`
		}{UploadURL: signed.UploadURL, StorageKey: signed.StorageKey, PublicURL: signed.PublicURL, Attachment: ref})
	}
}

func (a *API) putBlob(w http.ResponseWriter, r *http.Request) {
	key := blobKey(r)
	if err := a.Blobs.Put(key, r.Body); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getBlob(w http.ResponseWriter, r *http.Request) {
	key := blobKey(r)
	rc, err := a.Blobs.Open(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, rc)
}

func blobKey(r *http.Request) string {
	const pfx = "/blobs/"
	p := r.URL.Path
	if idx := strings.Index(p, pfx); idx >= 0 {
		return p[idx+len(pfx):]
	}
	return ""
}
