package testutil

import (
	"context"
	"time"

	"idcheck/pkg/requestcontext"
)

// Invocation returns a context carrying what a worker sets once per
// invocation: the request id and the pinned current time.
func Invocation(now time.Time, requestID string) context.Context {
	ctx := requestcontext.WithTime(context.Background(), now)
	if requestID != "" {
		ctx = requestcontext.WithRequestID(ctx, requestID)
	}
	return ctx
}
