// Package mfa models second-factor methods and their enrollment lifecycle.
//
// Methods form a closed sum type: each variant (TOTP, SMS, email, hardware
// key) carries only its own payload. Enrollments track the enroll/confirm/
// disable lifecycle per user, and the repository also holds per-user policy
// flags such as admin-forced 2FA.
package mfa
