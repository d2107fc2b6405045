package meetcode

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrCodeTaken is returned by a Ledger when the candidate code is
	// already reserved. The allocator treats it as a collision, not a
	// failure.
	ErrCodeTaken = errors.New("meeting code already reserved")
	// ErrExhausted is returned when no unique code was found within the
	// attempt cap. It signals ledger near-exhaustion or a generator defect
	// and is fatal for the request, never silently recovered.
	ErrExhausted = errors.New("meeting code allocation exhausted")
)

// maxAttempts bounds the regeneration loop. The code space holds ~3x10^12
// combinations, so hitting the cap means something is wrong.
const maxAttempts = 10

// Ledger is the append-only reservation store. Reserve must be atomic:
// concurrent reservations of the same code must fail for all but one caller
// with ErrCodeTaken.
type Ledger interface {
	Reserve(ctx context.Context, code string, tenantID uuid.UUID) error
}

// Allocator hands out globally unique meeting codes.
type Allocator struct {
	ledger Ledger
	logger *zap.Logger
}

// NewAllocator creates an allocator backed by the given ledger.
func NewAllocator(ledger Ledger, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{ledger: ledger, logger: logger}
}

// Allocate reserves and returns a fresh meeting code for the tenant. A
// uniqueness conflict triggers regeneration; any other ledger error aborts.
func (a *Allocator) Allocate(ctx context.Context, tenantID uuid.UUID) (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code := Generate()
		err := a.ledger.Reserve(ctx, code, tenantID)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, ErrCodeTaken) {
			a.logger.Debug("meeting code collision",
				zap.String("code", code),
				zap.Int("attempt", attempt))
			continue
		}
		return "", fmt.Errorf("reserve meeting code: %w", err)
	}
	return "", ErrExhausted
}
