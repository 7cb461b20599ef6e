package httpx

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/auth"
)

type actorKey struct{}

// Authenticate requires a valid HS256 bearer token and stores the actor it
// names on the request context.
func Authenticate(secret string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token", Code: "UNAUTHORIZED"})
				return
			}
			actor, err := auth.Parse(token, secret)
			if err != nil {
				log.Debug("rejected token", zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or expired token", Code: "UNAUTHORIZED"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

func actorFrom(ctx context.Context) auth.Actor {
	a, _ := ctx.Value(actorKey{}).(auth.Actor)
	return a
}
