// Package passkey manages WebAuthn hardware key credentials and their
// registration and login ceremonies. Ceremony state is server-side and
// single-use; signature counters must advance strictly or the credential is
// disabled as a suspected clone.
package passkey
