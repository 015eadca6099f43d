package logic

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/batch"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
)

// Config defines logic context limits
type Config struct {
	ScriptTimeout    time.Duration // Longest a single dispatch may run
	MaxCallStackSize int           // goja call stack ceiling
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		ScriptTimeout:    5 * time.Second,
		MaxCallStackSize: 1024,
	}
}

// StorageOp names a synchronous storage call made from script.
type StorageOp string

const (
	StorageGet    StorageOp = "get"
	StorageSet    StorageOp = "set"
	StorageRemove StorageOp = "remove"
	StorageClear  StorageOp = "clear"
	StorageInfo   StorageOp = "info"
)

// Hooks connect the script globals to the host. Every hook runs on the
// logic loop and must not block.
type Hooks struct {
	// Invoke receives nativeBridge.invoke(event, params, callbackId).
	Invoke func(args bridge.InvokeArgs)
	// Publish receives nativeBridge.publish(event, params, surfaceId).
	Publish func(args bridge.PublishArgs)
	// Canvas receives nativeCanvas.exec(surfaceId, nodeId, command).
	Canvas func(t batch.Target, cmd batch.Command) error
	// Storage serves the nativeStorage *Sync calls. value is the exported
	// script value, nil when absent.
	Storage func(op StorageOp, key string, value any) (any, error)
}

// JS entry points the service script installs on its JSBridge global.
const (
	bridgeGlobal     = "JSBridge"
	callbackHandler  = "invokeCallbackHandler"
	subscribeHandler = "subscribeHandler"
)
