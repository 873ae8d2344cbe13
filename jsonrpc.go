package fsmcp

import (
	"bytes"
	"encoding/json"
)

// JSON-RPC 2.0 error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
	// ErrorCodeServerShuttingDown is returned for requests that arrive after
	// shutdown started.
	ErrorCodeServerShuttingDown = -32000
)

const jsonRPCVersion = "2.0"

// Request is an incoming JSON-RPC message. ID is nil for notifications.
type Request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// Response always carries an id; a nil ID is written as null.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

type messageKind int

const (
	kindInvalidJSON messageKind = iota
	kindInvalidRequest
	kindRequest
	kindNotification
	kindUnroutable
)

// classify decodes one raw line. A message with a method and a non-null id
// is a request; a method with an absent or null id is a notification. A
// message with an id but no method is an invalid request. Anything without
// both is unroutable and gets no reply.
func classify(raw []byte) (messageKind, *Request) {
	if !json.Valid(raw) {
		return kindInvalidJSON, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return kindInvalidRequest, nil
	}

	req := &Request{}
	if v, ok := envelope["jsonrpc"]; ok {
		_ = json.Unmarshal(v, &req.JSONRPC)
	}
	if v, ok := envelope["id"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		id := json.RawMessage(v)
		req.ID = &id
	}
	req.Params = envelope["params"]

	methodRaw, hasMethod := envelope["method"]
	if hasMethod {
		if err := json.Unmarshal(methodRaw, &req.Method); err != nil || req.Method == "" {
			hasMethod = false
		}
	}

	switch {
	case hasMethod && req.ID != nil:
		return kindRequest, req
	case hasMethod:
		return kindNotification, req
	case req.ID != nil:
		return kindInvalidRequest, req
	default:
		return kindUnroutable, req
	}
}

// decodeParams unmarshals params into v, treating absent or null params as
// an empty object.
func decodeParams(params json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, v)
}
