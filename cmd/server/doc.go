// Package main runs the mini-app host.
//
// The host loads application packages from a directory, runs each
// application's logic script in its own JavaScript context and exposes:
//
//   - a control API to launch, show, hide, navigate and kill applications
//   - a WebSocket endpoint renderers attach to, one socket per surface
//   - package files at the URLs handed to renderers
//   - Prometheus metrics at /metrics
//
// Configuration comes from the environment; flags override it.
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -apps ./apps
//
//	# Without renderers, colored debug logs
//	./server -headless -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
