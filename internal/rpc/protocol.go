// Package rpc implements the JSON message protocol spoken by the display
// wall clients: an id-correlated request/response exchange with a fixed
// method table and numeric error codes.
package rpc

import "encoding/json"

// Error codes carried in protocol error responses. The values are part of
// the wire contract with existing clients.
const (
	CodeMalformedRequest = 0
	CodePermissionDenied = 1
	CodePathNotFound     = 2
	CodeWrongType        = 5
	CodeMethodNotFound   = 404
	CodeInternal         = 500
)

// Request is an incoming protocol message. The id is opaque to the server
// and echoed back verbatim.
type Request struct {
	ID     json.RawMessage            `json:"id"`
	Method string                     `json:"method"`
	Params map[string]json.RawMessage `json:"params"`
}

// Response is the reply to a single request. Exactly one of Result and
// Error is set.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{ID: id, Error: &Error{Code: code, Message: message}}
}

func resultResponse(id json.RawMessage, result any) Response {
	return Response{ID: id, Result: result}
}
