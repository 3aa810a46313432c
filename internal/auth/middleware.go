package auth

import (
	"encoding/json"
	"net/http"

	"github.com/stefando/scormhost/internal/logging"
)

// LearnerMiddleware puts the learner identity into the request context.
//
// A learner already in the context (set by the Lambda adapter from the
// gateway authorizer) is kept. Otherwise the bearer token is verified; a
// request without one proceeds as Anonymous when allowAnonymous is set and
// is refused otherwise. Invalid tokens are always refused.
func LearnerMiddleware(v Verifier, allowAnonymous bool, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := GetLearner(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if !allowAnonymous {
					unauthorized(w, "authorization required")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithLearner(r.Context(), Anonymous)))
				return
			}

			info, err := v.Verify(r.Context(), authHeader)
			if err != nil {
				logger.Warn("Rejected token", "error", err, "path", r.URL.Path)
				unauthorized(w, "invalid token")
				return
			}

			ctx := WithLearner(r.Context(), info.Learner)
			if info.Expiration != 0 {
				ctx = WithTokenExpiration(ctx, info.Expiration)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": msg})
}
