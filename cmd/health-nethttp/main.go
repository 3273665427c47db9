package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sidecar liveness probe on net/http, the baseline to compare against the
// fasthttp variant. Optionally relays the upstream courier /healthz state.
func main() {
	addr := flag.String("addr", ":8082", "listen address for the net/http health probe")
	upstream := flag.String("upstream", "", "courier base URL to relay health from (optional)")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	client := &http.Client{Timeout: 2 * time.Second}
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := "ok"
		code := http.StatusOK
		if *upstream != "" {
			resp, err := client.Get(*upstream + "/healthz")
			if err != nil || resp.StatusCode != http.StatusOK {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
		w.WriteHeader(code)
		fmt.Fprintf(w, "{\"status\":%q,\"version\":%q}", status, *ver)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h)
	mux.HandleFunc("/healthz", h)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	fmt.Printf("net/http health probe listening on %s\n", *addr)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Printf("net/http server exit: %v\n", err)
	}
}
