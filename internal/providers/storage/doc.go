// Package storage keeps the key-value data of each application.
//
// Data is scoped per app id and env version. A Provider holds one scope in
// memory and, when opened with a path, persists it as a single JSON file
// after every write.
package storage
