// Package server assembles the host: configuration, logging, metrics,
// package loading, per-app storage, permissions, asset resolution, the
// instance manager and the HTTP and WebSocket surfaces on one gin router.
package server
