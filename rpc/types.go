package rpc

import "encoding/json"

// Version is the JSON-RPC protocol version sent on every message.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request or, when ID is nil, a
// notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// CodeMethodNotFound is the JSON-RPC error code returned to the backend for
// any request the bridge does not implement.
const CodeMethodNotFound = -32601

// Message is the decode target for incoming lines, which may be responses,
// backend-initiated requests, or notifications.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsResponse reports whether the message answers one of our requests.
func (m *Message) IsResponse() bool { return m.ID != nil && m.Method == "" }

// IsRequest reports whether the message is a backend-initiated request.
func (m *Message) IsRequest() bool { return m.ID != nil && m.Method != "" }

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool { return m.ID == nil && m.Method != "" }
