package recovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/blogpress/authguard/pkg/errors"
)

const (
	// BatchSize is the number of codes issued per generation.
	BatchSize = 10

	// codeAlphabet excludes 0/O and 1/I so codes survive being read aloud
	// or written down.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	groupLength  = 5
)

// Service manages the recovery code vault: batch generation, at-most-once
// consumption, and remaining-count reporting.
type Service struct {
	repository CodeRepository
	bcryptCost int
}

// ServiceOption configures the recovery service.
type ServiceOption func(*Service)

// WithBcryptCost overrides the hashing cost. Tests lower it.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(repository CodeRepository, opts ...ServiceOption) *Service {
	s := &Service{
		repository: repository,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateBatch issues a fresh batch of recovery codes for the user,
// invalidating any previous batch. The returned plaintext codes are shown to
// the user once and never stored.
func (s *Service) GenerateBatch(ctx context.Context, userID uuid.UUID) ([]string, error) {
	plaintexts := make([]string, 0, BatchSize)
	stored := make([]Code, 0, BatchSize)
	now := time.Now().UTC()

	for i := 0; i < BatchSize; i++ {
		plaintext, err := randomCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(normalizeCode(plaintext)), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		plaintexts = append(plaintexts, plaintext)
		stored = append(stored, Code{
			ID:        uuid.New(),
			UserID:    userID,
			Hash:      hash,
			CreatedAt: now,
		})
	}

	if err := s.repository.ReplaceBatch(ctx, userID, stored); err != nil {
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}

	slog.Info("generated recovery code batch", "userID", userID, "count", BatchSize)
	return plaintexts, nil
}

// Consume verifies and burns one recovery code. Each code works exactly
// once: the mark-used step is conditional on the code still being unused, so
// concurrent submissions of the same code yield one success. Submitting a
// code that was already burned is a replay, not a plain failure.
func (s *Service) Consume(ctx context.Context, userID uuid.UUID, code string) error {
	normalized := normalizeCode(code)
	if err := checkCodeFormat(normalized); err != nil {
		return err
	}

	stored, err := s.repository.FindCodes(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load recovery codes: %w", err)
	}

	for _, candidate := range stored {
		if bcrypt.CompareHashAndPassword(candidate.Hash, []byte(normalized)) != nil {
			continue
		}
		if candidate.UsedAt != nil {
			return errors.New(errors.ErrCodeReplayDetected, "recovery code already used")
		}
		consumed, err := s.repository.ConsumeCode(ctx, candidate.ID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to consume recovery code: %w", err)
		}
		if !consumed {
			// Lost the race: the code was burned between lookup and update.
			return errors.New(errors.ErrCodeReplayDetected, "recovery code already used")
		}
		slog.Info("recovery code consumed", "userID", userID, "codeID", candidate.ID)
		return nil
	}

	return errors.New(errors.ErrCodeAuthFailed, "incorrect code")
}

// Remaining reports how many unused codes the user has left.
func (s *Service) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.repository.CountRemaining(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return count, nil
}

// randomCode draws a XXXXX-XXXXX code from the restricted alphabet using
// crypto/rand.
func randomCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	for i := 0; i < 2*groupLength; i++ {
		if i == groupLength {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// normalizeCode uppercases and strips the separator so user input is
// forgiving about case and hyphen placement.
func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(code)), "-", "")
}

func checkCodeFormat(normalized string) error {
	if len(normalized) != 2*groupLength {
		return errors.New(errors.ErrCodeValidation, "malformed recovery code")
	}
	for i := 0; i < len(normalized); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(normalized[i])) {
			return errors.New(errors.ErrCodeValidation, "malformed recovery code")
		}
	}
	return nil
}
