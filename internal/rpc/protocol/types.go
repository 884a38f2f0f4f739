package protocol

import "encoding/json"

// Methods accepted by the server.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
	MethodCancelled   = "notifications/cancelled"
)

// ProtocolVersion is the negotiated wire protocol revision.
const ProtocolVersion = "2024-11-05"

// InitializeParams is the client's initialize request.
type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      PeerInfo     `json:"clientInfo"`
}

// InitializeResult is the server's initialize reply.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      PeerInfo     `json:"serverInfo"`
}

// PeerInfo names one end of the connection.
type PeerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities declares the features either side supports.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability declares tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Tool is the wire description of a callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the tools/list reply.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is a tools/call reply.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextContent wraps text in a content item.
func NewTextContent(text string) Content {
	return Content{Type: "text", Text: text}
}
