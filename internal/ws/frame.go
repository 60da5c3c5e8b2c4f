package ws

import (
	"encoding/json"
	"fmt"

	"github.com/christopherjohns/realchat/internal/protocol"
)

// Hub method names accepted from clients. Matching is case-insensitive.
const (
	targetJoin             = "Join"
	targetSendMessage      = "SendMessage"
	targetSetTyping        = "SetTyping"
	targetGetOnlineUserIDs = "GetOnlineUserIds"
)

// Frame is the JSON text frame exchanged over /hubs/chat. Invocations carry
// Target and Payload; events carry Target and Payload; completions carry
// InvocationID with Result or Error.
type Frame struct {
	InvocationID string          `json:"invocationId,omitempty"`
	Target       string          `json:"target,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// joinPayload is the argument of the Join invocation.
type joinPayload struct {
	UserName string `json:"userName"`
}

func encodeEvent(ev protocol.Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Name, err)
	}
	return json.Marshal(Frame{Target: string(ev.Name), Payload: payload})
}

func encodeResult(invocationID string, result any) ([]byte, error) {
	f := Frame{InvocationID: invocationID}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		f.Result = raw
	}
	return json.Marshal(f)
}

func encodeFailure(invocationID, msg string) ([]byte, error) {
	return json.Marshal(Frame{InvocationID: invocationID, Error: msg})
}
