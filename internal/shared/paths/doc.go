// Package paths defines the on-disk layout of installed application
// packages and their persisted data.
//
// # Directory Structure
//
//	<packages>/
//	  └── <appId>/
//	      └── <envVersion>/      (release, trial or develop)
//	          ├── app.json       (or app.yaml / app.toml)
//	          ├── app-service.js
//	          └── **/*.css       (style chunks injected into surfaces)
//	<storage>/
//	  └── <appId>/<envVersion>.json
//
// # Usage
//
//	app := paths.AppPath(root, "demo", paths.EnvRelease)
//	svc := app.ServiceFile() // <root>/demo/release/app-service.js
package paths
