package bridge

// Event enumerates every invocation the host answers. The set is closed:
// names outside it resolve to EventUnknown.
type Event uint8

const (
	EventUnknown Event = iota

	// navigation
	EventNavigateTo
	EventNavigateBack
	EventRedirectTo
	EventReLaunch
	EventSwitchTab

	// storage
	EventGetStorage
	EventSetStorage
	EventRemoveStorage
	EventClearStorage
	EventGetStorageInfo

	// device and app
	EventAuthorize
	EventGetImageInfo
	EventSetKeepScreenOn
	EventExit

	eventCount
)

var eventNames = [eventCount]string{
	EventUnknown:         "",
	EventNavigateTo:      "navigateTo",
	EventNavigateBack:    "navigateBack",
	EventRedirectTo:      "redirectTo",
	EventReLaunch:        "reLaunch",
	EventSwitchTab:       "switchTab",
	EventGetStorage:      "getStorage",
	EventSetStorage:      "setStorage",
	EventRemoveStorage:   "removeStorage",
	EventClearStorage:    "clearStorage",
	EventGetStorageInfo:  "getStorageInfo",
	EventAuthorize:       "authorize",
	EventGetImageInfo:    "getImageInfo",
	EventSetKeepScreenOn: "setKeepScreenOn",
	EventExit:            "exitMiniProgram",
}

var eventsByName = func() map[string]Event {
	m := make(map[string]Event, eventCount)
	for e := EventUnknown + 1; e < eventCount; e++ {
		m[eventNames[e]] = e
	}
	return m
}()

// ParseEvent maps a wire name to its Event.
func ParseEvent(name string) Event {
	return eventsByName[name]
}

func (e Event) String() string {
	if e < eventCount && e != EventUnknown {
		return eventNames[e]
	}
	return "unknown"
}

// Events lists every known event.
func Events() []Event {
	out := make([]Event, 0, eventCount-1)
	for e := EventUnknown + 1; e < eventCount; e++ {
		out = append(out, e)
	}
	return out
}
