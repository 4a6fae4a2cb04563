package totp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/blogpress/authguard/pkg/errors"
)

const (
	// DefaultPeriod is the RFC 6238 time-step in seconds.
	DefaultPeriod = 30
	// DefaultSkew accepts one step on either side of the current one to
	// absorb clock drift.
	DefaultSkew = 1
	// DefaultSecretSize is the generated secret length in bytes (160 bits).
	DefaultSecretSize = 20
)

// Engine generates and verifies RFC 6238 time-based one-time passwords.
// Verified codes are consumed per (user, time-step) through the UsedStepStore
// so a code observed in transit cannot be replayed within its validity
// window.
type Engine struct {
	issuer    string
	period    uint
	skew      uint
	digits    otp.Digits
	algorithm otp.Algorithm
	usedSteps UsedStepStore
}

// Option configures an Engine.
type Option func(*Engine)

// WithPeriod overrides the time-step length in seconds.
func WithPeriod(period uint) Option {
	return func(e *Engine) { e.period = period }
}

// WithSkew overrides the number of adjacent steps accepted on each side.
func WithSkew(skew uint) Option {
	return func(e *Engine) { e.skew = skew }
}

// NewEngine creates a TOTP engine. The issuer appears in provisioning URIs.
func NewEngine(issuer string, usedSteps UsedStepStore, opts ...Option) *Engine {
	e := &Engine{
		issuer:    issuer,
		period:    DefaultPeriod,
		skew:      DefaultSkew,
		digits:    otp.DigitsSix,
		algorithm: otp.AlgorithmSHA1,
		usedSteps: usedSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Period returns the configured time-step in seconds.
func (e *Engine) Period() uint {
	return e.period
}

// GenerateSecret creates a new shared secret and returns the otp.Key, whose
// Secret() is the Base32 secret and URL() the otpauth:// provisioning URI.
func (e *Engine) GenerateSecret(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		Period:      e.period,
		SecretSize:  DefaultSecretSize,
		Digits:      e.digits,
		Algorithm:   e.algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key, nil
}

// GenerateCode computes the code for the step containing at. Used by
// operator tooling and tests; verification goes through Verify.
func (e *Engine) GenerateCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, e.validateOpts())
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}

// Verify checks code against secret at time at, accepting the configured
// skew, and consumes the matched time-step for userID.
//
// A malformed code is a validation error and does not count toward lockout.
// A well-formed code that matches no step in the window is an authentication
// failure. A correct code whose step was already consumed is a replay.
func (e *Engine) Verify(ctx context.Context, userID uuid.UUID, secret, code string, at time.Time) error {
	if err := checkCodeFormat(code, e.digits.Length()); err != nil {
		return err
	}

	matchedStep, ok, err := e.matchStep(secret, code, at)
	if err != nil {
		return fmt.Errorf("failed to verify totp code: %w", err)
	}
	if !ok {
		return errors.New(errors.ErrCodeAuthFailed, "incorrect code")
	}

	consumed, err := e.usedSteps.Consume(ctx, userID, matchedStep, e.stepTTL())
	if err != nil {
		return fmt.Errorf("failed to record used step: %w", err)
	}
	if !consumed {
		return errors.New(errors.ErrCodeReplayDetected, "code already used")
	}
	return nil
}

// matchStep walks the accepted window and reports which time-step the code
// belongs to. Comparison is constant-time per candidate; the loop always
// visits every candidate so timing does not reveal the matched offset.
func (e *Engine) matchStep(secret, code string, at time.Time) (uint64, bool, error) {
	period := int64(e.period)
	baseStep := at.Unix() / period

	var matched uint64
	found := 0
	for delta := -int64(e.skew); delta <= int64(e.skew); delta++ {
		step := baseStep + delta
		if step < 0 {
			continue
		}
		candidate, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), e.validateOpts())
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			matched = uint64(step)
			found = 1
		}
	}
	return matched, found == 1, nil
}

func (e *Engine) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.period,
		Skew:      0,
		Digits:    e.digits,
		Algorithm: e.algorithm,
	}
}

// stepTTL is how long a consumed step marker must survive: the full accepted
// window plus one step of slack.
func (e *Engine) stepTTL() time.Duration {
	return time.Duration(e.period*(2*e.skew+2)) * time.Second
}

func checkCodeFormat(code string, length int) error {
	if len(code) != length {
		return errors.New(errors.ErrCodeValidation, "malformed code")
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return errors.New(errors.ErrCodeValidation, "malformed code")
		}
	}
	return nil
}
