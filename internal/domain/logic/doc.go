/*
Package logic hosts the script domain of an application instance.

Each Context owns a goja VM and a dedicated loop. Every entry into the VM,
whether evaluating the service bundle, delivering a bridge reply or a
subscription, or firing a timer, is a task on that loop, so one script runs
to completion before the next message is dispatched.

# Globals

The service script sees:

  - nativeBridge.invoke(event, params, callbackId) and
    nativeBridge.publish(event, params, surfaceId)
  - nativeCanvas.exec(surfaceId, nodeId, command)
  - nativeStorage.getSync/setSync/removeSync/clearSync/infoSync
  - console, setTimeout, setInterval, clearTimeout, clearInterval

require, process, module and exports are removed.

Replies and subscriptions are handed to JSBridge.invokeCallbackHandler and
JSBridge.subscribeHandler, which the service script installs.

# Limits

Each dispatch runs with a script timeout; a runaway script is interrupted
and reported as resource exhaustion.
*/
package logic
