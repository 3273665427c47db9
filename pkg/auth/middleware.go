// Package auth resolves the authenticated actor injected by the upstream
// session collaborator and applies a coarse per-caller request limiter in
// front of the governor. The core trusts the identity headers; credential
// verification happens before requests reach it.
package auth

import (
	"context"
	"net/http"
	"strings"

	"courier/pkg/logger"
	"courier/pkg/models"
	"courier/pkg/service"
	"courier/pkg/utils"
)

type ctxActorKey struct{}

// Config drives the edge limiter pool.
type Config struct {
	RPS   float64
	Burst int
}

// WithActor extracts the actor from the X-User-ID / X-Role-Name /
// X-Display-Name headers, applies the per-caller edge limiter, and injects
// the actor into the request context. Requests without an identity are
// rejected before they reach handlers.
func WithActor(cfg Config, next http.Handler) http.Handler {
	pool := &limiterPool{rps: cfg.RPS, b: cfg.Burst}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			logger.Warn("missing_identity_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing identity headers")
			return
		}
		role := models.Role(strings.TrimSpace(r.Header.Get("X-Role-Name")))
		switch role {
		case models.RoleRequester, models.RoleProvider, models.RoleAdmin:
		default:
			role = models.RoleRequester
		}

		if !pool.Allow(userID) {
			utils.JSONErrorBody(w, http.StatusTooManyRequests, utils.ErrorBody{
				Error: "too many requests", Code: "RATE_LIMIT", RetryAfterMs: 1000,
			})
			return
		}

		actor := service.Actor{
			ID:          userID,
			Role:        role,
			DisplayName: strings.TrimSpace(r.Header.Get("X-Display-Name")),
		}
		ctx := context.WithValue(r.Context(), ctxActorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the actor resolved by WithActor, or a zero
// actor when the middleware did not run.
func ActorFromContext(ctx context.Context) service.Actor {
	if v := ctx.Value(ctxActorKey{}); v != nil {
		if a, ok := v.(service.Actor); ok {
			return a
		}
	}
	return service.Actor{}
}
