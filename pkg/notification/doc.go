// Package notification routes passcodes and security notices to delivery
// channels. Transports live behind the Notifier interface; delivery failure
// is recoverable and never turns into a verification failure.
package notification
