package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Code is one stored recovery code. Only the bcrypt hash is kept; the
// plaintext exists exactly once, in the response to the generating request.
type Code struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Hash      []byte
	CreatedAt time.Time
	UsedAt    *time.Time
}

// CodeRepository stores recovery codes. ConsumeCode must be a conditional
// update on the unused state so that exactly one of N concurrent consumers
// of the same code succeeds.
type CodeRepository interface {
	// ReplaceBatch removes the user's unused codes and stores the new batch.
	// Consumed codes are kept so a burned code can be told apart from a
	// wrong one.
	ReplaceBatch(ctx context.Context, userID uuid.UUID, codes []Code) error
	// FindCodes returns the user's codes, consumed ones included.
	FindCodes(ctx context.Context, userID uuid.UUID) ([]Code, error)
	// ConsumeCode marks the code used if and only if it is still unused.
	// Returns false when another consumer won.
	ConsumeCode(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
	CountRemaining(ctx context.Context, userID uuid.UUID) (int, error)

	// Transaction support
	WithTx(tx interface{}) CodeRepository
}
