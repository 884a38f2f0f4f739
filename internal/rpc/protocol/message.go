// Package protocol implements the JSON-RPC 2.0 message layer of the stdio
// server.
package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// Request is a JSON-RPC 2.0 request.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Message is the union shape used when reading from the wire.
type Message struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsRequest reports whether the message carries a method and an id.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether the message carries a method without id.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// ToRequest converts a request-shaped message.
func (m *Message) ToRequest() *Request {
	if !m.IsRequest() {
		return nil
	}
	return &Request{Jsonrpc: m.Jsonrpc, ID: m.ID, Method: m.Method, Params: m.Params}
}

// Parse decodes one wire message and checks the protocol version.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if msg.Jsonrpc != Version {
		return nil, fmt.Errorf("unsupported jsonrpc version: %q", msg.Jsonrpc)
	}
	return &msg, nil
}

// NewResponse builds a success response, marshaling the result.
func NewResponse(id any, result any) (*Response, error) {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		raw = data
	}
	return &Response{Jsonrpc: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response. A nil id is legal for parse
// errors, per the JSON-RPC spec.
func NewErrorResponse(id any, rpcErr *RPCError) *Response {
	return &Response{Jsonrpc: Version, ID: id, Error: rpcErr}
}
