// Package middleware holds the gin middleware of the control API: CORS,
// per-client rate limiting, access logging and panic recovery.
package middleware
