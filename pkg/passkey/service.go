package passkey

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/directory"
	"github.com/blogpress/authguard/pkg/errors"
)

// CeremonyTTL bounds how long a begun ceremony can be finished.
const CeremonyTTL = 5 * time.Minute

// Service manages WebAuthn registration and login ceremonies. Challenges
// live server-side in the CeremonyStore; a credential whose signature
// counter fails to advance is treated as cloned and disabled.
type Service struct {
	wa          *webauthn.WebAuthn
	credentials CredentialRepository
	ceremonies  CeremonyStore
}

// Config carries the relying-party identity.
type Config struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

func NewService(cfg Config, credentials CredentialRepository, ceremonies CeremonyStore) (*Service, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}
	return &Service{
		wa:          wa,
		credentials: credentials,
		ceremonies:  ceremonies,
	}, nil
}

// waUser adapts a directory user and their stored credentials to the
// webauthn.User interface.
type waUser struct {
	user        directory.User
	credentials []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte {
	id := u.user.ID
	return id[:]
}

func (u *waUser) WebAuthnName() string {
	return u.user.Username
}

func (u *waUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Username
}

func (u *waUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (u *waUser) WebAuthnIcon() string {
	return ""
}

func (s *Service) loadUser(ctx context.Context, user directory.User, activeOnly bool) (*waUser, []Credential, error) {
	stored, err := s.credentials.FindCredentialsByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	wu := &waUser{user: user}
	for _, c := range stored {
		if activeOnly && !c.Active() {
			continue
		}
		wu.credentials = append(wu.credentials, c.Credential)
	}
	return wu, stored, nil
}

// BeginRegistration starts a registration ceremony and returns the creation
// options for the client plus the opaque ceremony id.
func (s *Service) BeginRegistration(ctx context.Context, user directory.User) (*protocol.CredentialCreation, string, error) {
	wu, _, err := s.loadUser(ctx, user, false)
	if err != nil {
		return nil, "", err
	}

	options, sessionData, err := s.wa.BeginRegistration(
		wu,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin registration: %w", err)
	}

	ceremonyID, err := s.saveCeremony(ctx, user.ID, PurposeRegistration, *sessionData)
	if err != nil {
		return nil, "", err
	}
	return options, ceremonyID, nil
}

// FinishRegistration completes a registration ceremony with the client's
// attestation response and stores the new credential.
func (s *Service) FinishRegistration(ctx context.Context, user directory.User, ceremonyID, name string, response io.Reader) (Credential, error) {
	ceremony, err := s.takeCeremony(ctx, user.ID, ceremonyID, PurposeRegistration)
	if err != nil {
		return Credential{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		return Credential{}, errors.Wrap(err, errors.ErrCodeValidation, "malformed attestation response")
	}

	wu, _, err := s.loadUser(ctx, user, false)
	if err != nil {
		return Credential{}, err
	}

	waCredential, err := s.wa.CreateCredential(wu, ceremony.Session, parsed)
	if err != nil {
		return Credential{}, errors.Wrap(err, errors.ErrCodeAuthFailed, "attestation verification failed")
	}

	credential := Credential{
		ID:         uuid.New(),
		UserID:     user.ID,
		Name:       name,
		Credential: *waCredential,
		CreatedAt:  time.Now().UTC(),
	}
	created, err := s.credentials.CreateCredential(ctx, credential)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to store credential: %w", err)
	}

	slog.Info("registered hardware key", "userID", user.ID, "credentialID", created.ID)
	return created, nil
}

// BeginLogin starts a login ceremony over the user's active credentials.
func (s *Service) BeginLogin(ctx context.Context, user directory.User) (*protocol.CredentialAssertion, string, error) {
	wu, _, err := s.loadUser(ctx, user, true)
	if err != nil {
		return nil, "", err
	}
	if len(wu.credentials) == 0 {
		return nil, "", errors.New(errors.ErrCodeMethodNotEnrolled, "no active hardware keys")
	}

	options, sessionData, err := s.wa.BeginLogin(wu)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin login: %w", err)
	}

	ceremonyID, err := s.saveCeremony(ctx, user.ID, PurposeLogin, *sessionData)
	if err != nil {
		return nil, "", err
	}
	return options, ceremonyID, nil
}

// FinishLogin completes a login ceremony with the client's assertion
// response. A signature counter that fails to advance strictly past the
// stored value disables the credential and surfaces as a replay.
func (s *Service) FinishLogin(ctx context.Context, user directory.User, ceremonyID string, response io.Reader) (Credential, error) {
	ceremony, err := s.takeCeremony(ctx, user.ID, ceremonyID, PurposeLogin)
	if err != nil {
		return Credential{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		return Credential{}, errors.Wrap(err, errors.ErrCodeValidation, "malformed assertion response")
	}

	wu, stored, err := s.loadUser(ctx, user, true)
	if err != nil {
		return Credential{}, err
	}

	asserted, err := s.wa.ValidateLogin(wu, ceremony.Session, parsed)
	if err != nil {
		return Credential{}, errors.Wrap(err, errors.ErrCodeAuthFailed, "assertion verification failed")
	}

	var match *Credential
	for i := range stored {
		if string(stored[i].Credential.ID) == string(asserted.ID) {
			match = &stored[i]
			break
		}
	}
	if match == nil {
		return Credential{}, errors.New(errors.ErrCodeAuthFailed, "assertion matched no stored credential")
	}
	if !match.Active() {
		return Credential{}, errors.New(errors.ErrCodeCredentialDisabled, "credential is disabled")
	}

	if err := s.recordAssertion(ctx, match, asserted.Authenticator.SignCount); err != nil {
		return Credential{}, err
	}
	return *match, nil
}

// recordAssertion enforces strict counter monotonicity and advances the
// stored value. A counter at or below the stored one means a clone may hold
// the private key, so the credential is disabled outright.
func (s *Service) recordAssertion(ctx context.Context, credential *Credential, newCount uint32) error {
	stored := credential.Credential.Authenticator.SignCount
	now := time.Now().UTC()

	if newCount <= stored {
		slog.Warn("sign counter regression, disabling credential",
			"credentialID", credential.ID,
			"stored", stored,
			"asserted", newCount)
		if err := s.credentials.DisableCredential(ctx, credential.ID, now); err != nil {
			return fmt.Errorf("failed to disable credential: %w", err)
		}
		return errors.New(errors.ErrCodeReplayDetected, "authenticator counter did not advance").
			WithDetail("credential_id", credential.ID.String())
	}

	advanced, err := s.credentials.UpdateSignCount(ctx, credential.ID, stored, newCount, now)
	if err != nil {
		return fmt.Errorf("failed to advance sign counter: %w", err)
	}
	if !advanced {
		// A concurrent assertion advanced the counter first; this one is
		// stale and treated like a regression.
		if err := s.credentials.DisableCredential(ctx, credential.ID, now); err != nil {
			return fmt.Errorf("failed to disable credential: %w", err)
		}
		return errors.New(errors.ErrCodeReplayDetected, "authenticator counter did not advance")
	}

	credential.Credential.Authenticator.SignCount = newCount
	return nil
}

// ListCredentials returns the user's credentials for the management screen.
func (s *Service) ListCredentials(ctx context.Context, userID uuid.UUID) ([]Credential, error) {
	stored, err := s.credentials.FindCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return stored, nil
}

// DisableCredential lets the owner retire a key.
func (s *Service) DisableCredential(ctx context.Context, userID, credentialID uuid.UUID) error {
	stored, err := s.credentials.FindCredentialsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	for _, c := range stored {
		if c.ID == credentialID {
			if err := s.credentials.DisableCredential(ctx, credentialID, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to disable credential: %w", err)
			}
			return nil
		}
	}
	return errors.NotFound("credential", credentialID.String())
}

// HasActiveCredential reports whether the user can assert with any key.
func (s *Service) HasActiveCredential(ctx context.Context, userID uuid.UUID) (bool, error) {
	stored, err := s.credentials.FindCredentialsByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load credentials: %w", err)
	}
	for _, c := range stored {
		if c.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) saveCeremony(ctx context.Context, userID uuid.UUID, purpose CeremonyPurpose, session webauthn.SessionData) (string, error) {
	ceremony := Ceremony{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		Session:   session,
		ExpiresAt: time.Now().UTC().Add(CeremonyTTL),
	}
	if err := s.ceremonies.Save(ctx, ceremony); err != nil {
		return "", fmt.Errorf("failed to store ceremony: %w", err)
	}
	return ceremony.ID, nil
}

func (s *Service) takeCeremony(ctx context.Context, userID uuid.UUID, ceremonyID string, purpose CeremonyPurpose) (Ceremony, error) {
	ceremony, ok, err := s.ceremonies.Take(ctx, ceremonyID)
	if err != nil {
		return Ceremony{}, fmt.Errorf("failed to take ceremony: %w", err)
	}
	if !ok {
		return Ceremony{}, errors.New(errors.ErrCodeCeremonyUnknown, "ceremony not found or expired")
	}
	if ceremony.UserID != userID || ceremony.Purpose != purpose {
		return Ceremony{}, errors.New(errors.ErrCodeCeremonyUnknown, "ceremony not found or expired")
	}
	return ceremony, nil
}
