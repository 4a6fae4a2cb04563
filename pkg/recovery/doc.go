// Package recovery implements the recovery code vault: batches of one-time
// fallback codes, bcrypt-hashed at rest, each consumable exactly once.
package recovery
