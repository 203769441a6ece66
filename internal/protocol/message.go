// Package protocol defines the JSON envelopes exchanged with dashboard clients.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	jsonx "debugconsole/internal/shared/json"
)

// MessageType tags every outbound envelope.
type MessageType string

const (
	Response        MessageType = "RESPONSE"
	ComponentList   MessageType = "COMPONENT_LIST"
	ComponentChange MessageType = "COMPONENT_CHANGE"
	DepsGraph       MessageType = "DEPS_GRAPH"
	LogList         MessageType = "LOG_LIST"
	ComponentLogs   MessageType = "COMPONENT_LOGS"
	PubSubMsg       MessageType = "PUB_SUB_MSG"
)

// NoRequestID marks unsolicited pushes.
const NoRequestID int64 = -1

// NotAuthenticated is the payload answered to a failed init.
const NotAuthenticated = "Not authenticated"

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed request")

// Request is the call carried by an inbound envelope.
type Request struct {
	Call string   `json:"call"`
	Args []string `json:"args"`
}

// PackedRequest is the inbound envelope.
type PackedRequest struct {
	RequestID int64   `json:"requestID"`
	Request   Request `json:"request"`
}

// Message is the outbound envelope.
type Message struct {
	Type      MessageType `json:"type"`
	RequestID int64       `json:"requestID"`
	Payload   any         `json:"payload"`
}

// NewResponse builds the reply to requestID.
func NewResponse(requestID int64, payload any) Message {
	return Message{Type: Response, RequestID: requestID, Payload: payload}
}

// NewPush builds an unsolicited message of the given kind.
func NewPush(kind MessageType, payload any) Message {
	return Message{Type: kind, RequestID: NoRequestID, Payload: payload}
}

// LogItem is the COMPONENT_LOGS payload.
type LogItem struct {
	Name string `json:"name"`
	Log  string `json:"log"`
}

// PubSubMessage is the PUB_SUB_MSG payload. Topic is the filter the client
// subscribed with and Subtopic the concrete topic the message was published on.
type PubSubMessage struct {
	Topic    string `json:"topic"`
	Subtopic string `json:"subtopic"`
	Payload  string `json:"payload"`
}

type wireRequest struct {
	Call *string            `json:"call"`
	Args []jsonx.RawMessage `json:"args"`
}

type wireEnvelope struct {
	RequestID int64        `json:"requestID"`
	Request   *wireRequest `json:"request"`
}

// Decode parses one inbound text frame. String arguments are taken verbatim;
// other JSON scalars are kept as their literal text so a client sending a
// number still reaches the handler.
func Decode(data []byte) (PackedRequest, error) {
	var env wireEnvelope
	if err := jsonx.Unmarshal(data, &env); err != nil {
		return PackedRequest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Request == nil || env.Request.Call == nil {
		return PackedRequest{}, fmt.Errorf("%w: missing request.call", ErrMalformed)
	}

	args := make([]string, 0, len(env.Request.Args))
	for i, raw := range env.Request.Args {
		arg, err := decodeArg(raw)
		if err != nil {
			return PackedRequest{}, fmt.Errorf("%w: argument %d: %v", ErrMalformed, i, err)
		}
		args = append(args, arg)
	}

	return PackedRequest{
		RequestID: env.RequestID,
		Request:   Request{Call: *env.Request.Call, Args: args},
	}, nil
}

func decodeArg(raw jsonx.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", errors.New("empty value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := jsonx.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", errors.New("arguments must be scalars")
	case 'n':
		return "", nil
	default:
		if _, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
			return string(trimmed), nil
		}
		if b, err := strconv.ParseBool(string(trimmed)); err == nil {
			return strconv.FormatBool(b), nil
		}
		return "", fmt.Errorf("unsupported literal %q", trimmed)
	}
}

// Encode serializes an outbound envelope.
func Encode(msg Message) ([]byte, error) {
	data, err := jsonx.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

// EncodeRequest serializes an inbound envelope; used by clients and tests.
func EncodeRequest(requestID int64, call string, args ...string) ([]byte, error) {
	if args == nil {
		args = []string{}
	}
	return jsonx.Marshal(PackedRequest{RequestID: requestID, Request: Request{Call: call, Args: args}})
}
