package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// Sidecar liveness probe on fasthttp for deployments that health-check at
// high frequency. Optionally relays the upstream courier /healthz state.
func main() {
	addr := flag.String("addr", ":8081", "listen address for the fasthttp health probe")
	upstream := flag.String("upstream", "", "courier base URL to relay health from (optional)")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	client := &http.Client{Timeout: 2 * time.Second}
	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			status := "ok"
			code := fasthttp.StatusOK
			if *upstream != "" {
				resp, err := client.Get(*upstream + "/healthz")
				if err != nil || resp.StatusCode != http.StatusOK {
					status = "degraded"
					code = fasthttp.StatusServiceUnavailable
				}
				if resp != nil {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
			}
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(code)
			fmt.Fprintf(ctx, "{\"status\":%q,\"version\":%q}", status, *ver)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("fasthttp health probe listening on %s\n", *addr)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "courier-health",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("fasthttp server exit: %v\n", err)
	}
}
