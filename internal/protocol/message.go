// Package protocol implements the GBE wire protocols: the newline-delimited
// tagged-JSON control channel (§4.1) and the length-prefixed binary data
// frame channel.
//
// All control messages are JSON, one per line (LF-terminated), UTF-8. The
// tag field is "type". Go has no native sum type, so ControlMessage is a
// single envelope struct carrying every variant's fields as omitempty
// members.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of control message.
type MessageType string

const (
	TypeConnect              MessageType = "Connect"
	TypeConnectAck           MessageType = "ConnectAck"
	TypeDisconnect           MessageType = "Disconnect"
	TypeSubscribe            MessageType = "Subscribe"
	TypeSubscribeAck         MessageType = "SubscribeAck"
	TypeUnsubscribe          MessageType = "Unsubscribe"
	TypeQueryCapabilities    MessageType = "QueryCapabilities"
	TypeCapabilitiesResponse MessageType = "CapabilitiesResponse"
	TypeQueryTools           MessageType = "QueryTools"
	TypeToolsResponse        MessageType = "ToolsResponse"
	TypeFlowControl          MessageType = "FlowControl"
	TypeError                MessageType = "Error"
)

// ErrorCode is the closed taxonomy of codes carried on an Error message.
type ErrorCode string

const (
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrProtocol   ErrorCode = "PROTOCOL"
	ErrBadRequest ErrorCode = "BAD_REQUEST"
)

// ToolInfo is one entry in a ToolsResponse snapshot.
type ToolInfo struct {
	ToolID       ToolID   `json:"tool_id"`
	Capabilities []string `json:"capabilities"`
}

// ControlMessage is the wire envelope for every control-channel message.
// Only the fields relevant to Type are populated; the rest are zero value
// and omitted from the JSON encoding.
type ControlMessage struct {
	Type MessageType `json:"type"`

	// Connect
	Capabilities []string `json:"capabilities,omitempty"`

	// ConnectAck
	ToolID            ToolID  `json:"tool_id,omitempty"`
	DataListenAddress Address `json:"data_listen_address,omitempty"`

	// Subscribe, Unsubscribe, QueryCapabilities
	Target ToolID `json:"target,omitempty"`

	// SubscribeAck
	DataConnectAddress Address `json:"data_connect_address,omitempty"`

	// QueryTools / ToolsResponse
	Tools []ToolInfo `json:"tools,omitempty"`

	// FlowControl
	Source ToolID `json:"source,omitempty"`
	Status string `json:"status,omitempty"`

	// Error
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Connect builds a Connect message.
func Connect(capabilities []string) ControlMessage {
	return ControlMessage{Type: TypeConnect, Capabilities: capabilities}
}

// ConnectAck builds a ConnectAck message.
func ConnectAck(id ToolID, dataAddr Address) ControlMessage {
	return ControlMessage{Type: TypeConnectAck, ToolID: id, DataListenAddress: dataAddr}
}

// Disconnect builds a Disconnect message.
func Disconnect() ControlMessage {
	return ControlMessage{Type: TypeDisconnect}
}

// Subscribe builds a Subscribe message.
func Subscribe(target ToolID) ControlMessage {
	return ControlMessage{Type: TypeSubscribe, Target: target}
}

// SubscribeAck builds a SubscribeAck message.
func SubscribeAck(connectAddr Address, capabilities []string) ControlMessage {
	return ControlMessage{Type: TypeSubscribeAck, DataConnectAddress: connectAddr, Capabilities: capabilities}
}

// Unsubscribe builds an Unsubscribe message.
func Unsubscribe(target ToolID) ControlMessage {
	return ControlMessage{Type: TypeUnsubscribe, Target: target}
}

// QueryCapabilities builds a QueryCapabilities message.
func QueryCapabilities(target ToolID) ControlMessage {
	return ControlMessage{Type: TypeQueryCapabilities, Target: target}
}

// CapabilitiesResponse builds a CapabilitiesResponse message.
func CapabilitiesResponse(capabilities []string) ControlMessage {
	return ControlMessage{Type: TypeCapabilitiesResponse, Capabilities: capabilities}
}

// QueryTools builds a QueryTools message.
func QueryTools() ControlMessage {
	return ControlMessage{Type: TypeQueryTools}
}

// ToolsResponse builds a ToolsResponse message.
func ToolsResponse(tools []ToolInfo) ControlMessage {
	return ControlMessage{Type: TypeToolsResponse, Tools: tools}
}

// NewFlowControl builds a FlowControl message. Advisory only: see §4.4/§9.
func NewFlowControl(source ToolID, status string) ControlMessage {
	return ControlMessage{Type: TypeFlowControl, Source: source, Status: status}
}

// NewError builds an Error message with a formatted message string.
func NewError(code ErrorCode, format string, args ...any) ControlMessage {
	return ControlMessage{Type: TypeError, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Encode serializes the message to JSON without a trailing newline.
func (m *ControlMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage deserializes a message from raw JSON bytes.
func DecodeMessage(b []byte) (*ControlMessage, error) {
	var m ControlMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &m, nil
}

// DecodeError wraps a JSON parse failure on a control line. Callers use
// this to distinguish "malformed line" (reply BAD_REQUEST, keep the
// connection) from other I/O errors (which are fatal to the connection).
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode control message: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
