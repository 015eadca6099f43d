// Package http is the control API of the host: installed packages, running
// applications and their navigation, broadcasts, permissions and package
// files. Errors map their kind onto a status code.
package http
