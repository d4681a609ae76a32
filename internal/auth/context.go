// ABOUTME: Authenticated actor carried through request handlers and sessions
// ABOUTME: Provides WithActor/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Actor is the authenticated identity behind a request or connection.
type Actor struct {
	ID   string // stable identifier, the token "sub" claim
	Name string // display name shown to other participants
}

// DisplayName returns Name, falling back to ID.
func (a *Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// actorContextKey is the key type for storing Actor in context.Context.
type actorContextKey struct{}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext retrieves the Actor from the context, returning nil if not present.
func FromContext(ctx context.Context) *Actor {
	actor, ok := ctx.Value(actorContextKey{}).(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// MustFromContext retrieves the Actor from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Actor {
	actor := FromContext(ctx)
	if actor == nil {
		panic("auth: Actor not found in context")
	}
	return actor
}
