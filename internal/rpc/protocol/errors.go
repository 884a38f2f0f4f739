package protocol

import (
	"errors"
	"fmt"

	"automatosx/internal/errs"
)

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server extension error codes.
const (
	CodeToolNotFound   = -32001
	CodeNotInitialized = -32002
	CodeToolFailed     = -32003
)

func NewParseError(data any) *RPCError {
	return &RPCError{Code: CodeParseError, Message: "Parse error", Data: data}
}

func NewInvalidRequestError(msg string) *RPCError {
	return &RPCError{Code: CodeInvalidRequest, Message: "Invalid request: " + msg}
}

func NewMethodNotFoundError(method string) *RPCError {
	return &RPCError{Code: CodeMethodNotFound, Message: "Method not found: " + method}
}

func NewInvalidParamsError(msg string) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: "Invalid params: " + msg}
}

func NewInternalError(msg string) *RPCError {
	return &RPCError{Code: CodeInternalError, Message: "Internal error: " + msg}
}

func NewToolNotFoundError(name string) *RPCError {
	return &RPCError{Code: CodeToolNotFound, Message: "Tool not found: " + name}
}

func NewNotInitializedError() *RPCError {
	return &RPCError{Code: CodeNotInitialized, Message: "Server not initialized"}
}

// FromError maps a runtime error to an RPC error, carrying the structured
// code and suggestions in the data payload when present.
func FromError(toolName string, err error) *RPCError {
	rpcErr := &RPCError{
		Code:    CodeToolFailed,
		Message: fmt.Sprintf("Tool %s failed: %s", toolName, err.Error()),
	}

	if code := errs.CodeOf(err); code != errs.CodeUnknown {
		data := map[string]any{"code": int(code)}
		var typed *errs.Error
		if errors.As(err, &typed) && len(typed.Suggestions) > 0 {
			data["suggestions"] = typed.Suggestions
		}
		rpcErr.Data = data
		if code == errs.CodeInvalidInput {
			rpcErr.Code = CodeInvalidParams
			rpcErr.Message = "Invalid params: " + err.Error()
		}
	}
	return rpcErr
}
