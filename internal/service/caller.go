package service

import "context"

// Caller is the authenticated principal on whose behalf a write runs.
type Caller struct {
	ID    string
	Admin bool
}

type callerKey struct{}

// WithCaller attaches the authenticated caller to ctx. Writes reached without
// a caller (CDC consumer, auditor, tests) are trusted internal calls.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

func authorize(ctx context.Context, actorID string) error {
	c, ok := CallerFrom(ctx)
	if !ok || c.Admin || c.ID == actorID {
		return nil
	}
	return withDetail(ErrPermission, actorID, nil)
}
