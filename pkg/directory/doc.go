// Package directory defines the read-only user directory collaborator.
package directory
