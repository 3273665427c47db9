// Package api assembles the HTTP surface of the messaging core.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courier/pkg/api/handlers"
	"courier/pkg/auth"
	"courier/pkg/blob"
	"courier/pkg/service"
)

// Options configures router assembly.
type Options struct {
	Auth           auth.Config
	MaxAttachBytes int64
}

// NewRouter wires all /v1 endpoints behind the actor middleware, plus the
// unauthenticated /healthz and /metrics endpoints.
func NewRouter(svc *service.Service, blobs *blob.LocalDisk, opts Options) http.Handler {
	root := mux.NewRouter()
	root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	root.Handle("/metrics", promhttp.Handler())

	a := &handlers.API{Svc: svc, Blobs: blobs}
	v1 := mux.NewRouter().PathPrefix("/v1").Subrouter()
	a.RegisterThreads(v1)
	a.RegisterMessages(v1)
	a.RegisterBlobs(v1, opts.MaxAttachBytes)

	root.PathPrefix("/v1/").Handler(auth.WithActor(opts.Auth, v1))
	return root
}
