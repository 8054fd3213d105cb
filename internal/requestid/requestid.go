// Package requestid carries a per-request correlation id through contexts
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type key string

const contextKey = key("x-request-id")

// Header is the HTTP header used to propagate the id
const Header = "X-Request-ID"

// With returns a context carrying id, generating a new one if id is empty
func With(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, contextKey, id)
}

// From returns the request id in ctx, or "" if none
func From(ctx context.Context) string {
	id, _ := ctx.Value(contextKey).(string)
	return id
}
