package protocol

import (
	stdjson "encoding/json"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/luciancaetano/ddpbot"
)

const (
	maxFrameSize = 10 * 1024 * 1024 // 10MB max frame size
)

// Frame is a decoded DDP frame. Only the fields relevant to the frame's Msg are set.
type Frame struct {
	Msg string `json:"msg,omitempty"`
	ID  string `json:"id,omitempty"`

	// connected / failed
	Session string `json:"session,omitempty"`
	Version string `json:"version,omitempty"`

	// result
	Result stdjson.RawMessage  `json:"result,omitempty"`
	Error  *ddpbot.MethodError `json:"error,omitempty"`

	// ready
	Subs []string `json:"subs,omitempty"`

	// changed / added / updated / removed
	Collection string             `json:"collection,omitempty"`
	Fields     stdjson.RawMessage `json:"fields,omitempty"`

	// error
	Reason string `json:"reason,omitempty"`
}

// ChangedFields is the "fields" object of a stream push.
type ChangedFields struct {
	EventName string               `json:"eventName"`
	Args      []stdjson.RawMessage `json:"args"`
}

// Encode builds a frame of type msgType. The fields of payload, which must marshal to a JSON
// object, are merged into the frame; a non-empty id overrides any "id" among them.
func Encode(msgType, id string, payload any) ([]byte, error) {
	if msgType == "" {
		return nil, errors.New("frame type is required")
	}

	frame := make(map[string]any)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		fields := make(map[string]stdjson.RawMessage)
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
		for k, v := range fields {
			frame[k] = v
		}
	}

	frame["msg"] = msgType
	if id != "" {
		frame["id"] = id
	}

	out, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	if len(out) > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d bytes", len(out), maxFrameSize)
	}
	return out, nil
}

// Decode parses one inbound frame.
func Decode(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, errors.New("data too short")
	}
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d bytes", len(data), maxFrameSize)
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", ddpbot.ErrMsgInvalidFrame, err)
	}
	return &f, nil
}

// DecodeChanged parses the fields of a stream push.
func DecodeChanged(f *Frame) (*ChangedFields, error) {
	if len(f.Fields) == 0 {
		return nil, errors.New("frame has no fields")
	}
	var cf ChangedFields
	if err := json.Unmarshal(f.Fields, &cf); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &cf, nil
}

// IsChatStream reports whether f is a push on the subscribed room-messages stream.
func IsChatStream(f *Frame) bool {
	if f.Collection != ddpbot.StreamRoomMessages {
		return false
	}
	cf, err := DecodeChanged(f)
	if err != nil {
		return false
	}
	return cf.EventName == ddpbot.EventMyMessages
}
