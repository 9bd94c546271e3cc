// Package guestname is the side channel for guest display names. Guests have
// no durable account, so the host app keys their chosen names by a stable
// hash of their first durable session id; renames observed through signaling
// are recorded here so the rest of the stack shows them consistently.
package guestname

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
)

// Recorder stores a guest's display name under its derived actor id.
type Recorder interface {
	RecordGuestName(ctx context.Context, token, actorID, displayName string) error
}

// ActorID derives the stable guest actor id from a durable session id. The
// hex SHA-1 form must match what the host app derives for the same session.
func ActorID(sessionID string) string {
	sum := sha1.Sum([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}
