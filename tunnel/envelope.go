// Package tunnel defines the wire envelope shared by the HTTP exposure
// server and the SmartClient/MixedClient (spec.md §4.9a/§4.9b): a
// JSON-encodable {ok, result}/{ok, error} shape plus the streaming
// response wrapper. Grounded on the root package's RuntimeError/
// TunnelError split (errors.go), generalised from an in-process error
// value to a serializable wire value.
package tunnel

import (
	"encoding/json"
	"fmt"

	runner "github.com/module-dev/runner"
)

// ProtocolEnvelope is the top-level JSON shape every exposure response
// and smart-client reply conforms to (spec.md §4.9a "Response shapes").
type ProtocolEnvelope[T any] struct {
	Ok     bool          `json:"ok"`
	Result T             `json:"result,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError is the {code, message, id?, data?} error shape.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Id      string `json:"id,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Ok builds a successful envelope.
func Ok[T any](result T) ProtocolEnvelope[T] {
	return ProtocolEnvelope[T]{Ok: true, Result: result}
}

// Fail builds a failed envelope from a wire code/message, carrying an
// optional typed-error id/data for client-side rethrow via an error
// registry (spec.md §4.9b).
func Fail[T any](code, message string, errId string, data any) ProtocolEnvelope[T] {
	var zero T
	return ProtocolEnvelope[T]{Ok: false, Result: zero, Error: &EnvelopeError{
		Code: code, Message: message, Id: errId, Data: data,
	}}
}

// FromTunnelError builds a failed envelope from a *runner.TunnelError.
func FromTunnelError[T any](err *runner.TunnelError) ProtocolEnvelope[T] {
	return Fail[T](err.Code, err.Message, err.ErrId, err.Data)
}

// AssertOkEnvelope unmarshals body into a ProtocolEnvelope[T] and
// returns the result, or a *runner.TunnelError reconstructed from the
// envelope's error object — the counterpart clients use after a round
// trip (spec.md §4.9b).
func AssertOkEnvelope[T any](body []byte, httpStatus int) (T, error) {
	var zero T
	var env ProtocolEnvelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return zero, &runner.TunnelError{
			Code:     runner.CodeInvalidResponse,
			Message:  fmt.Sprintf("response body is not a valid envelope: %v", err),
			HttpCode: httpStatus,
		}
	}
	if !env.Ok {
		if env.Error == nil {
			return zero, &runner.TunnelError{Code: runner.CodeInvalidResponse, Message: "envelope ok=false with no error", HttpCode: httpStatus}
		}
		return zero, &runner.TunnelError{
			Code:     env.Error.Code,
			Message:  env.Error.Message,
			ErrId:    env.Error.Id,
			Data:     env.Error.Data,
			HttpCode: httpStatus,
		}
	}
	return env.Result, nil
}

// StreamingResponse is the { stream, contentType, headers?, status? }
// wrapper a task's result may return to bypass the plain-JSON envelope
// and pipe raw bytes instead (spec.md §4.9a "Response shapes").
type StreamingResponse struct {
	Stream      []byte // already-read body in this in-process rendering; exposure writes it verbatim
	ContentType string
	Headers     map[string]string
	Status      int
}

// IsStreamingResponse reports whether v opts out of the JSON envelope.
func IsStreamingResponse(v any) (StreamingResponse, bool) {
	sr, ok := v.(StreamingResponse)
	return sr, ok
}

// EventRequest is the exposure's event-route request body shape
// (spec.md §4.9a "Event execution").
type EventRequest struct {
	Payload       any  `json:"payload"`
	ReturnPayload bool `json:"returnPayload,omitempty"`
}

// TaskRequest is the exposure's task-route request body shape.
type TaskRequest struct {
	Input   any `json:"input,omitempty"`
	Payload any `json:"payload,omitempty"`
}

// ResolvedInput returns Input if set, else falls back to Payload —
// the server accepts either key (spec.md §4.9a "Request body").
func (r TaskRequest) ResolvedInput() any {
	if r.Input != nil {
		return r.Input
	}
	return r.Payload
}

// FileSentinel is the manifest-embedded marker for a multipart file
// part (spec.md §4.9a "multipart/form-data").
type FileSentinel struct {
	Marker string         `json:"$runnerFile"`
	Id     string         `json:"id"`
	Meta   map[string]any `json:"meta,omitempty"`
}

const FileSentinelMarker = "File"
