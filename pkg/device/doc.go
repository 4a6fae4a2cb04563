// Package device implements device fingerprinting and the trusted-device
// registry. Trust grants are always time-bounded and only issued after a
// fully verified second-factor challenge.
package device
