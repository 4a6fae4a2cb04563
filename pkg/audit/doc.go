// Package audit implements the append-only security event log and
// bounded-window anomaly detection over it.
package audit
