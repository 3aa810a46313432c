package auth

import "context"

type contextKey string

const (
	learnerKey    contextKey = "learner_id"
	expirationKey contextKey = "token_expiration"
)

// Anonymous is the learner of requests without a token when anonymous
// access is allowed.
const Anonymous = "anonymous"

// WithLearner adds the learner ID to the context.
func WithLearner(ctx context.Context, learner string) context.Context {
	return context.WithValue(ctx, learnerKey, learner)
}

// GetLearner retrieves the learner ID from the context.
func GetLearner(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(learnerKey).(string)
	return val, ok && val != ""
}

// WithTokenExpiration adds the token expiration (unix seconds) to the context.
func WithTokenExpiration(ctx context.Context, expiration int64) context.Context {
	return context.WithValue(ctx, expirationKey, expiration)
}

// GetTokenExpiration retrieves the token expiration from the context.
func GetTokenExpiration(ctx context.Context) (int64, bool) {
	val, ok := ctx.Value(expirationKey).(int64)
	return val, ok
}
