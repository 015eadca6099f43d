// Package ws serves renderer connections. A renderer connects to
// /ws/apps/:appId, is told which surface it drives with an "attached" frame,
// and then exchanges bridge frames with the host as JSON text messages.
package ws
