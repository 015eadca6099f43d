package bridge

import (
	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// InvokeArgs is a request expecting exactly one reply.
type InvokeArgs struct {
	Event      string `json:"event"`
	Params     string `json:"params"`
	CallbackID int    `json:"callbackId"`
}

// PublishArgs is a fire-and-forget message. SurfaceID zero means the logic
// context.
type PublishArgs struct {
	Event     string `json:"event"`
	Params    string `json:"params"`
	SurfaceID int    `json:"surfaceId,omitempty"`
}

// Reply answers one invocation. Exactly one of Result or ErrMsg is set.
type Reply struct {
	CallbackID int    `json:"callbackId"`
	Result     any    `json:"result,omitempty"`
	ErrMsg     string `json:"errMsg,omitempty"`
}

// FrameType tags a wire frame.
type FrameType string

const (
	// renderer or logic context to host
	FrameInvoke  FrameType = "invoke"
	FramePublish FrameType = "publish"
	FrameLoaded  FrameType = "loaded"
	FrameFailed  FrameType = "failed"

	// host to renderer or logic context
	FrameReply     FrameType = "reply"
	FrameSubscribe FrameType = "subscribe"
	FrameLoadPage  FrameType = "loadPage"
	FrameEvaluate  FrameType = "evaluate"
	FrameReload    FrameType = "reload"
	FrameCanvas    FrameType = "canvas"
	FrameAttached  FrameType = "attached"
)

// FirstRenderEvent is published by a surface once its first frame is painted.
const FirstRenderEvent = "WEBVIEW_FIRST_RENDER"

// Frame is the envelope exchanged with renderers over the socket and handed
// to the logic context.
type Frame struct {
	Type       FrameType `json:"type"`
	Event      string    `json:"event,omitempty"`
	Params     string    `json:"params,omitempty"`
	CallbackID int       `json:"callbackId,omitempty"`
	SurfaceID  int       `json:"surfaceId,omitempty"`
	Result     any       `json:"result,omitempty"`
	ErrMsg     string    `json:"errMsg,omitempty"`
}

// ReplyFrame wraps a reply for delivery.
func ReplyFrame(r Reply) Frame {
	return Frame{Type: FrameReply, CallbackID: r.CallbackID, Result: r.Result, ErrMsg: r.ErrMsg}
}

// SubscribeFrame wraps a subscription for delivery. from is the surface the
// message originated on, zero for the host.
func SubscribeFrame(event, params string, from int) Frame {
	return Frame{Type: FrameSubscribe, Event: event, Params: params, SurfaceID: from}
}

// Invoke extracts the invocation carried by an inbound frame.
func (f Frame) Invoke() (InvokeArgs, error) {
	if f.Event == "" {
		return InvokeArgs{}, errs.New(errs.KindMalformedInput, "bridge.Frame", "invoke without event")
	}
	if f.CallbackID <= 0 {
		return InvokeArgs{}, errs.New(errs.KindMalformedInput, "bridge.Frame", "invoke %q without callbackId", f.Event)
	}
	return InvokeArgs{Event: f.Event, Params: f.Params, CallbackID: f.CallbackID}, nil
}

// Publish extracts the publication carried by an inbound frame.
func (f Frame) Publish() (PublishArgs, error) {
	if f.Event == "" {
		return PublishArgs{}, errs.New(errs.KindMalformedInput, "bridge.Frame", "publish without event")
	}
	return PublishArgs{Event: f.Event, Params: f.Params, SurfaceID: f.SurfaceID}, nil
}

// DecodeFrame parses a wire frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Frame{}, errs.Wrap(errs.KindMalformedInput, "bridge.DecodeFrame", err)
	}
	if f.Type == "" {
		return Frame{}, errs.New(errs.KindMalformedInput, "bridge.DecodeFrame", "frame without type")
	}
	return f, nil
}

// EncodeFrame serializes a wire frame.
func EncodeFrame(f Frame) ([]byte, error) {
	return sonic.Marshal(f)
}

// EncodeParams serializes a payload into the string form carried by Params.
// A nil payload encodes as an empty object.
func EncodeParams(v any) string {
	if v == nil {
		return "{}"
	}
	s, err := sonic.MarshalString(v)
	if err != nil {
		return "{}"
	}
	return s
}

// DecodeParams parses a Params payload into v. Empty params decode as {}.
func DecodeParams(params string, v any) error {
	if params == "" {
		params = "{}"
	}
	if err := sonic.UnmarshalString(params, v); err != nil {
		return errs.Wrap(errs.KindMalformedInput, "bridge.DecodeParams", err)
	}
	return nil
}
