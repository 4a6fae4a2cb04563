// Package totp implements RFC 6238 time-based one-time passwords: secret
// provisioning, windowed verification with a per-(user, step) replay guard,
// and longer-period passcodes for email and SMS delivery.
package totp
