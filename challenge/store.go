package challenge

import (
	"context"
	"errors"
	"time"
)

// ErrChallengeNotFound is returned when no pending challenge exists for the
// user, either because none was issued or because it already expired or was
// consumed.
var ErrChallengeNotFound = errors.New("challenge not found")

// Store is the pluggable challenge slot capability. Implementations must
// guarantee the single-slot property: one pending challenge per user,
// overwritten by Put and consumed exactly once by TakeAndDelete.
type Store interface {
	Put(ctx context.Context, userID string, data []byte, ttl time.Duration) error
	TakeAndDelete(ctx context.Context, userID string) ([]byte, error)
}
