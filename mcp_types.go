package fsmcp

import (
	"context"
	"encoding/json"
)

// ServerInfo identifies the server in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type CapabilitiesTools struct {
	ListChanged bool `json:"listChanged"`
}

type CapabilitiesResources struct {
	ListChanged bool `json:"listChanged"`
	Subscribe   bool `json:"subscribe"`
}

type CapabilitiesPrompts struct {
	ListChanged bool `json:"listChanged"`
}

// Capabilities advertised to the client.
type Capabilities struct {
	Tools     CapabilitiesTools     `json:"tools"`
	Resources CapabilitiesResources `json:"resources"`
	Prompts   CapabilitiesPrompts   `json:"prompts"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      ClientInfo             `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// ListParams carries the optional pagination cursor of list methods.
type ListParams struct {
	Cursor string `json:"cursor"`
}

// ToolHandler executes a tool call with already-validated arguments.
type ToolHandler func(ctx context.Context, params CallToolParams) (CallToolResult, error)

// Tool is a callable operation. InputSchema is a JSON Schema object that
// arguments are validated against before Handler runs.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`

	Handler ToolHandler `json:"-"`
}

type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultContent is one content block of a tool result.
type ToolResultContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type CallToolResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// TextResult wraps text in a single-entry result.
func TextResult(text string) CallToolResult {
	return CallToolResult{Content: []ToolResultContent{{Type: "text", Text: text}}}
}

// ErrorResult is a TextResult flagged as a tool error.
func ErrorResult(text string) CallToolResult {
	r := TextResult(text)
	r.IsError = true
	return r
}

type ListResourcesResult struct {
	Resources  []json.RawMessage `json:"resources"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type ListPromptsResult struct {
	Prompts    []json.RawMessage `json:"prompts"`
	NextCursor string            `json:"nextCursor,omitempty"`
}
