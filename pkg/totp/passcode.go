package totp

// PasscodePeriod is the time-step for delivered passcodes (email, SMS):
// the TOTP machinery with a longer window so the code stays valid for the
// delivery round-trip. Engines verifying delivered passcodes are built with
// WithPeriod(PasscodePeriod) so the replay guard applies to them too.
const PasscodePeriod = 300
