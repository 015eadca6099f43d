package bridge

// SubscribeKey names a broadcast delivered through Publish.
type SubscribeKey string

// Application lifecycle and environment broadcasts.
const (
	KeyOnLaunch                 SubscribeKey = "APP_ON_LAUNCH"
	KeyOnShow                   SubscribeKey = "APP_ON_SHOW"
	KeyOnHide                   SubscribeKey = "APP_ON_HIDE"
	KeyThemeChange              SubscribeKey = "APP_THEME_CHANGE"
	KeyNetworkStatusChange      SubscribeKey = "APP_NETWORK_STATUS_CHANGE"
	KeyTaskStateChange          SubscribeKey = "APP_ON_TASK_STATE_CHANGE"
	KeyUserCaptureScreen        SubscribeKey = "APP_USER_CAPTURE_SCREEN"
	KeyAudioInterruptionBegin   SubscribeKey = "APP_ON_AUDIO_INTERRUPTION_BEGIN"
	KeyAudioInterruptionEnd     SubscribeKey = "APP_ON_AUDIO_INTERRUPTION_END"
	KeyFetchShareMessageContent SubscribeKey = "FETCH_SHARE_APP_MESSAGE_CONTENT"
)

// Page lifecycle broadcasts.
const (
	KeyPageOnLoad       SubscribeKey = "PAGE_ON_LOAD"
	KeyPageOnShow       SubscribeKey = "PAGE_ON_SHOW"
	KeyPageOnHide       SubscribeKey = "PAGE_ON_HIDE"
	KeyPageOnReady      SubscribeKey = "PAGE_ON_READY"
	KeyPageOnUnload     SubscribeKey = "PAGE_ON_UNLOAD"
	KeyPageOnTabItemTap SubscribeKey = "PAGE_ON_TAB_ITEM_TAP"
)

var builtinKeys = []SubscribeKey{
	KeyOnLaunch, KeyOnShow, KeyOnHide, KeyThemeChange, KeyNetworkStatusChange,
	KeyTaskStateChange, KeyUserCaptureScreen, KeyAudioInterruptionBegin,
	KeyAudioInterruptionEnd, KeyFetchShareMessageContent,
	KeyPageOnLoad, KeyPageOnShow, KeyPageOnHide, KeyPageOnReady,
	KeyPageOnUnload, KeyPageOnTabItemTap,
}

// LaunchPayload is the data of APP_ON_LAUNCH and APP_ON_SHOW.
type LaunchPayload struct {
	Path         string        `json:"path"`
	ReferrerInfo *ReferrerInfo `json:"referrerInfo,omitempty"`
}

// ReferrerInfo identifies the app that opened this one.
type ReferrerInfo struct {
	AppID           string `json:"appId"`
	ExtraDataString string `json:"extraDataString,omitempty"`
}

// NetworkStatus is the data of APP_NETWORK_STATUS_CHANGE.
type NetworkStatus struct {
	IsConnected bool   `json:"isConnected"`
	NetworkType string `json:"networkType"`
}

// TaskStatePayload is the data of APP_ON_TASK_STATE_CHANGE.
type TaskStatePayload struct {
	State string `json:"state"`
}

// PagePayload is the data of page lifecycle broadcasts.
type PagePayload struct {
	PageID int               `json:"pageId"`
	Route  string            `json:"route"`
	Query  map[string]string `json:"query,omitempty"`
}

// TabItemTapPayload is the data of PAGE_ON_TAB_ITEM_TAP.
type TabItemTapPayload struct {
	PageID   int    `json:"pageId"`
	Index    int    `json:"index"`
	PagePath string `json:"pagePath"`
	Text     string `json:"text,omitempty"`
	FromTap  bool   `json:"fromTap"`
}

// ThemePayload is the data of APP_THEME_CHANGE.
type ThemePayload struct {
	Theme string `json:"theme"`
}
