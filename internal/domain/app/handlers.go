package app

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/navigation"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/providers/storage"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

type urlParams struct {
	URL string `json:"url"`
}

type deltaParams struct {
	Delta int `json:"delta"`
}

type keyParams struct {
	Key string `json:"key"`
}

type setStorageParams struct {
	Key      string `json:"key"`
	Data     any    `json:"data"`
	DataType string `json:"dataType,omitempty"`
}

type scopeParams struct {
	Scope string `json:"scope"`
}

type srcParams struct {
	Src string `json:"src"`
}

type keepScreenOnParams struct {
	KeepScreenOn bool `json:"keepScreenOn"`
}

// handlers builds the invocation table of the instance. Handlers run on the
// host loop; the slow ones answer from their own goroutine.
func (i *Instance) handlers() bridge.Table {
	return bridge.Table{
		bridge.EventNavigateTo: i.navigateURL((*navigation.Navigator).Push),
		bridge.EventRedirectTo: i.navigateURL((*navigation.Navigator).Redirect),
		bridge.EventReLaunch:   i.navigateURL((*navigation.Navigator).ReLaunch),
		bridge.EventSwitchTab:  i.navigateURL((*navigation.Navigator).SwitchTab),
		bridge.EventNavigateBack: func(call *bridge.Call) {
			var p deltaParams
			if err := call.Decode(&p); err != nil {
				call.Reject(err)
				return
			}
			i.nav.Pop(p.Delta, func(err error) { call.Complete(nil, err) })
		},

		bridge.EventGetStorage:     i.getStorage,
		bridge.EventSetStorage:     i.setStorage,
		bridge.EventRemoveStorage:  i.removeStorage,
		bridge.EventClearStorage:   func(call *bridge.Call) { call.Complete(nil, i.storage.Clear()) },
		bridge.EventGetStorageInfo: i.getStorageInfo,

		bridge.EventAuthorize:       i.authorize,
		bridge.EventGetImageInfo:    i.getImageInfo,
		bridge.EventSetKeepScreenOn: i.setKeepScreenOn,
		bridge.EventExit:            i.exit,
	}
}

func (i *Instance) navigateURL(op func(*navigation.Navigator, string, func(error))) bridge.Handler {
	return func(call *bridge.Call) {
		var p urlParams
		if err := call.Decode(&p); err != nil {
			call.Reject(err)
			return
		}
		if p.URL == "" {
			call.Reject(errs.New(errs.KindMalformedInput, call.Event.String(), "url is required"))
			return
		}
		op(i.nav, p.URL, func(err error) { call.Complete(nil, err) })
	}
}

func (i *Instance) getStorage(call *bridge.Call) {
	var p keyParams
	if err := call.Decode(&p); err != nil {
		call.Reject(err)
		return
	}
	item, err := i.storage.Get(p.Key)
	call.Complete(item, err)
}

func (i *Instance) setStorage(call *bridge.Call) {
	var p setStorageParams
	if err := call.Decode(&p); err != nil {
		call.Reject(err)
		return
	}
	if p.Key == "" {
		call.Reject(errs.New(errs.KindMalformedInput, "setStorage", "key is required"))
		return
	}

	// a renderer may send a value it already encoded
	var (
		item storage.Item
		err  error
	)
	if s, ok := p.Data.(string); ok && p.DataType != "" {
		item = storage.Item{Data: s, DataType: p.DataType}
	} else {
		item, err = storage.Encode(p.Data)
	}
	if err != nil {
		call.Reject(err)
		return
	}
	call.Complete(nil, i.storage.Set(p.Key, item))
}

func (i *Instance) removeStorage(call *bridge.Call) {
	var p keyParams
	if err := call.Decode(&p); err != nil {
		call.Reject(err)
		return
	}
	call.Complete(nil, i.storage.Remove(p.Key))
}

func (i *Instance) getStorageInfo(call *bridge.Call) {
	info, err := i.storage.Info()
	call.Complete(info, err)
}

func (i *Instance) authorize(call *bridge.Call) {
	var p scopeParams
	if err := call.Decode(&p); err != nil {
		call.Reject(err)
		return
	}
	if i.gate == nil {
		call.Reject(errs.New(errs.KindDenied, "authorize", "authorize:fail auth deny %s", p.Scope))
		return
	}
	ctx, appID := i.ctx, i.appID
	go func() {
		call.Complete(nil, i.gate.RequestAuthorization(ctx, appID, p.Scope))
	}()
}

func (i *Instance) getImageInfo(call *bridge.Call) {
	var p srcParams
	if err := call.Decode(&p); err != nil {
		call.Reject(err)
		return
	}
	if p.Src == "" {
		call.Reject(errs.New(errs.KindMalformedInput, "getImageInfo", "src is required"))
		return
	}
	if i.assets == nil {
		call.Reject(errs.New(errs.KindNotFound, "getImageInfo", "image resolution unavailable"))
		return
	}
	ctx, res := i.ctx, i.assets
	go func() {
		info, err := res.ImageInfo(ctx, p.Src)
		call.Complete(info, err)
	}()
}

func (i *Instance) setKeepScreenOn(call *bridge.Call) {
	var p keepScreenOnParams
	if err := call.Decode(&p); err != nil {
		call.Reject(err)
		return
	}
	i.keepScreenOn = p.KeepScreenOn
	if i.machine.AppState() == lifecycle.Front {
		i.screenOn = p.KeepScreenOn
	}
	call.Resolve(nil)
}

// exit answers first, then kills the instance once the reply is out.
func (i *Instance) exit(call *bridge.Call) {
	call.Resolve(nil)
	i.loop.Post(func() { i.kill("exit requested") })
	i.logger.Debug("exit requested", zap.Int("source", int(call.Source)))
}
