// ABOUTME: AuthorizationGuard checks thread membership before any scoped operation
// ABOUTME: Denials never reveal whether the thread exists

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/tandem/internal/store"
)

// ErrForbidden is the uniform denial for non-members and unknown threads.
var ErrForbidden = errors.New("access denied")

// Guard answers membership questions against the store.
type Guard struct {
	store store.Store
}

// NewGuard creates a Guard.
func NewGuard(s store.Store) *Guard {
	return &Guard{store: s}
}

// IsParticipant reports whether actorID belongs to threadID. A missing
// thread reads as false.
func (g *Guard) IsParticipant(ctx context.Context, actorID, threadID string) (bool, error) {
	if actorID == "" || threadID == "" {
		return false, nil
	}
	ok, err := g.store.IsParticipant(ctx, threadID, actorID)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

// Authorize returns ErrForbidden unless actorID belongs to threadID.
func (g *Guard) Authorize(ctx context.Context, actorID, threadID string) error {
	ok, err := g.IsParticipant(ctx, actorID, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
