// Package providers groups the host capabilities applications reach
// through the message bridge.
//
// Available Providers:
//   - Storage: Key-value persistence per application and env version
//   - Permissions: Scope authorization with a per-app audit trail
//   - Assets: Package file resolution and remote image metadata
//
// Each provider lives in its own subpackage and is injected into app
// instances by the manager.
package providers
