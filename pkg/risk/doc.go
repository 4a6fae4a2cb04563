// Package risk scores verification attempts from audit history, device
// trust, and IP reputation, and maps the score to a recommendation. It
// advises only; enforcement belongs to the verification flow.
package risk
