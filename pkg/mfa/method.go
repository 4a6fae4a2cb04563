package mfa

import (
	"fmt"
)

// Kind identifies a second-factor method family.
type Kind string

const (
	KindTotp        Kind = "totp"
	KindSms         Kind = "sms"
	KindEmail       Kind = "email"
	KindHardwareKey Kind = "hardware_key"
	KindRecovery    Kind = "recovery"
)

// Method is a closed set of second-factor methods. Each variant carries its
// own payload, so method-specific data cannot leak across variants (an SMS
// method cannot hold a TOTP secret). The unexported method keeps the set
// sealed to this package.
type Method interface {
	Kind() Kind
	method()
}

// TotpMethod is an authenticator-app method holding the shared secret.
type TotpMethod struct {
	Secret string // Base32, no padding
}

func (TotpMethod) Kind() Kind { return KindTotp }
func (TotpMethod) method()    {}

// SmsMethod delivers one-time passcodes to a phone number.
type SmsMethod struct {
	PhoneNumber string
	Secret      string // HMAC secret for passcode generation
}

func (SmsMethod) Kind() Kind { return KindSms }
func (SmsMethod) method()    {}

// EmailMethod delivers one-time passcodes to an email address.
type EmailMethod struct {
	Address string
	Secret  string
}

func (EmailMethod) Kind() Kind { return KindEmail }
func (EmailMethod) method()    {}

// HardwareKeyMethod references a WebAuthn credential by its id.
type HardwareKeyMethod struct {
	CredentialID string
}

func (HardwareKeyMethod) Kind() Kind { return KindHardwareKey }
func (HardwareKeyMethod) method()    {}

// ParseKind validates a method kind coming off the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTotp, KindSms, KindEmail, KindHardwareKey, KindRecovery:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown method kind: %q", s)
}

// newMethod rebuilds a Method variant from its stored kind and material.
// destination holds the phone number or email address, material the secret
// or credential reference.
func newMethod(kind Kind, destination, material string) (Method, error) {
	switch kind {
	case KindTotp:
		return TotpMethod{Secret: material}, nil
	case KindSms:
		return SmsMethod{PhoneNumber: destination, Secret: material}, nil
	case KindEmail:
		return EmailMethod{Address: destination, Secret: material}, nil
	case KindHardwareKey:
		return HardwareKeyMethod{CredentialID: material}, nil
	}
	return nil, fmt.Errorf("unknown method kind: %q", kind)
}

// wipeMaterial strips the secret or credential reference from a method.
// Applied on disable so key material does not linger at rest; the
// destination is kept for display.
func wipeMaterial(m Method) Method {
	switch v := m.(type) {
	case TotpMethod:
		return TotpMethod{}
	case SmsMethod:
		return SmsMethod{PhoneNumber: v.PhoneNumber}
	case EmailMethod:
		return EmailMethod{Address: v.Address}
	case HardwareKeyMethod:
		return HardwareKeyMethod{}
	}
	return m
}

// methodColumns flattens a Method variant into its stored representation.
func methodColumns(m Method) (destination, material string) {
	switch v := m.(type) {
	case TotpMethod:
		return "", v.Secret
	case SmsMethod:
		return v.PhoneNumber, v.Secret
	case EmailMethod:
		return v.Address, v.Secret
	case HardwareKeyMethod:
		return "", v.CredentialID
	}
	return "", ""
}
