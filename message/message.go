// Package message defines the JSON-RPC envelopes carried inside protocol frames.
//
//	Request:  {"jsonrpc":"2.0","method":"ping","params":[],"id":1}
//	Success:  {"jsonrpc":"2.0","result":"pong","id":1}
//	Failure:  {"jsonrpc":"2.0","error":{"code":-32601,"message":"..."},"id":1}
//
// Params are always positional. The id is an opaque token echoed back verbatim, or null when the
// request could not be read far enough to find it.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
)

// Version is the value of the "jsonrpc" member on every outgoing message.
const Version = "2.0"

// Error codes. ServerError is the first code of the implementation-defined range.
const (
	ParseError     = json2.E_PARSE
	InvalidRequest = json2.E_INVALID_REQ
	MethodNotFound = json2.E_NO_METHOD
	InvalidParams  = json2.E_BAD_PARAMS
	InternalError  = json2.E_INTERNAL
	ServerError    = json2.E_SERVER
)

// Request is one method call.
type Request struct {
	Version string            `json:"jsonrpc,omitempty"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// Response answers exactly one Request. Exactly one of Result and Error is set.
// A nil ID is encoded as null.
type Response struct {
	Version string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is the error member of a failed Response.
type Error struct {
	Code    json2.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError returns a failed Response for id.
func NewError(id json.RawMessage, code json2.ErrorCode, msg string) *Response {
	return &Response{
		Version: Version,
		Error:   &Error{Code: code, Message: msg},
		ID:      id,
	}
}

// NewResult returns a successful Response for id. A nil result is sent as null.
func NewResult(id json.RawMessage, result json.RawMessage) *Response {
	if result == nil {
		result = json.RawMessage("null")
	}
	return &Response{
		Version: Version,
		Result:  result,
		ID:      id,
	}
}

// DiagnosticKey is the single member of the report a worker sends right before it exits on a
// fatal error.
const DiagnosticKey = "kirijsonrpcerror"

// Diagnostic is a worker's final fatal error report. It is not a Response and has no id.
type Diagnostic struct {
	Error string `json:"kirijsonrpcerror"`
}
