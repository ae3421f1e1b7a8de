// Package client implements the remote-calling counterpart to
// exposure: a SmartClient that POSTs tasks/events to a tunnel server
// and a MixedClient that routes between a plain JSON path and the
// smart (stream/multipart-capable) path (spec.md §4.9b). Grounded on
// the root package's ErrorHelper/RuntimeError rethrow pattern
// (errors.go), generalised to client-side typed-error reconstruction
// from a wire error id via an error registry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	runner "github.com/module-dev/runner"
	"github.com/module-dev/runner/exposure"
	"github.com/module-dev/runner/tunnel"
)

// ErrorRegistry maps an ErrorHelper's id back to itself so a client can
// reconstruct a typed error from a wire {id, data} pair rather than a
// generic TunnelError (spec.md §4.9b "Typed error re-throw").
type ErrorRegistry map[string]runner.ErrorHelper

// Config configures a SmartClient.
type Config struct {
	BaseURL     string
	Token       string
	TokenHeader string // default x-runner-token
	Timeout     time.Duration
	HTTPClient  *http.Client
	Errors      ErrorRegistry
}

// SmartClient mirrors the exposure server's surface for remote callers.
type SmartClient struct {
	cfg Config
	hc  *http.Client
}

// NewSmartClient constructs a client bound to a server's BaseURL.
func NewSmartClient(cfg Config) (*SmartClient, error) {
	if cfg.BaseURL == "" {
		return nil, runner.HttpBaseUrlRequired.Throw(nil)
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "x-runner-token"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &SmartClient{cfg: cfg, hc: hc}, nil
}

// Task invokes a remote task, choosing octet-stream, multipart, or
// plain JSON transport based on input's shape (spec.md §4.9b).
func (c *SmartClient) Task(ctx context.Context, id runner.Id, input any) (any, error) {
	switch v := input.(type) {
	case io.Reader:
		return c.postStream(ctx, "task", id, v, "application/octet-stream")
	default:
		rewritten, files := extractFileSentinels(v)
		if len(files) > 0 {
			return c.postMultipart(ctx, "task", id, rewritten, files)
		}
		return c.postJSON(ctx, "task", id, tunnel.TaskRequest{Input: v})
	}
}

// Event fires-and-forgets a remote event (no result expected).
func (c *SmartClient) Event(ctx context.Context, id runner.Id, payload any) error {
	_, err := c.postJSON(ctx, "event", id, tunnel.EventRequest{Payload: payload})
	return err
}

// EventWithResult posts returnPayload:true and requires a result back.
func (c *SmartClient) EventWithResult(ctx context.Context, id runner.Id, payload any) (any, error) {
	result, err := c.postJSON(ctx, "event", id, tunnel.EventRequest{Payload: payload, ReturnPayload: true})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &runner.TunnelError{Code: runner.CodeInvalidResponse, Message: "event response carried no result"}
	}
	return result, nil
}

func (c *SmartClient) endpoint(kind string, id runner.Id) string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, kind, url.PathEscape(id))
}

func (c *SmartClient) postJSON(ctx context.Context, kind string, id runner.Id, body any) (any, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeInvalidJSON, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(kind, id), bytes.NewReader(b))
	if err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeHttpError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *SmartClient) postStream(ctx context.Context, kind string, id runner.Id, body io.Reader, contentType string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(kind, id), body)
	if err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeHttpError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}

func (c *SmartClient) postMultipart(ctx context.Context, kind string, id runner.Id, input any, files map[string]*fileSource) (any, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	manifest, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeInvalidJSON, Message: err.Error()}
	}
	manifestPart, err := mw.CreateFormField("__manifest")
	if err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeInvalidMultipart, Message: err.Error()}
	}
	if _, err := manifestPart.Write(manifest); err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeInvalidMultipart, Message: err.Error()}
	}

	for fileId, src := range files {
		part, err := mw.CreateFormFile("file:"+fileId, src.Name)
		if err != nil {
			return nil, &runner.TunnelError{Code: runner.CodeInvalidMultipart, Message: err.Error()}
		}
		if _, err := io.Copy(part, src.Reader); err != nil {
			return nil, &runner.TunnelError{Code: runner.CodeInvalidMultipart, Message: err.Error()}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeInvalidMultipart, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(kind, id), &buf)
	if err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeHttpError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *SmartClient) do(req *http.Request) (any, error) {
	if c.cfg.Token != "" {
		req.Header.Set(c.cfg.TokenHeader, c.cfg.Token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, &runner.TunnelError{Code: runner.CodeRequestTimeout, Message: ctxErr.Error(), HttpCode: 408}
		}
		return nil, &runner.TunnelError{Code: runner.CodeHttpError, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &runner.TunnelError{Code: runner.CodeHttpError, Message: err.Error(), HttpCode: resp.StatusCode}
	}

	if resp.StatusCode >= 400 && !isJSON(resp.Header.Get("Content-Type")) {
		return nil, &runner.TunnelError{Code: runner.CodeHttpError, Message: string(body), HttpCode: resp.StatusCode}
	}

	result, err := tunnel.AssertOkEnvelope[any](body, resp.StatusCode)
	if err != nil {
		return nil, c.rethrow(err)
	}
	return result, nil
}

// rethrow reconstructs a typed error from the client's ErrorRegistry
// when the wire error's id matches a registered helper, restoring the
// original error shape at the caller (spec.md §4.9b).
func (c *SmartClient) rethrow(err error) error {
	tunnelErr, ok := err.(*runner.TunnelError)
	if !ok || tunnelErr.ErrId == "" || c.cfg.Errors == nil {
		return err
	}
	helper, ok := c.cfg.Errors[tunnelErr.ErrId]
	if !ok {
		return err
	}
	data, _ := tunnelErr.Data.(map[string]any)
	return helper.Throw(data)
}

func isJSON(contentType string) bool {
	return len(contentType) >= 16 && contentType[:16] == "application/json"
}

// fileSource is a local source for a multipart file part, discovered
// by extractFileSentinels from an input value that embeds one or more
// exposure.InputFile-shaped sources.
type fileSource struct {
	Name   string
	Reader io.Reader
}

// extractFileSentinels walks input looking for exposure.InputFile
// values (a local file source the caller wants to upload), returning
// both a rewritten copy of input with each found file replaced by a
// wire-level tunnel.FileSentinel placeholder, and a file-id -> source
// map of the actual readers to attach as multipart parts. The server's
// parseMultipart/hydrateFileSentinels expect exactly this sentinel
// shape in the manifest, not a raw InputFile (which carries an
// io.Reader that can't be JSON-marshaled).
func extractFileSentinels(input any) (any, map[string]*fileSource) {
	files := map[string]*fileSource{}
	var walk func(v any) any
	walk = func(v any) any {
		switch tv := v.(type) {
		case exposure.InputFile:
			id := fmt.Sprintf("f%d", len(files))
			files[id] = &fileSource{Name: tv.Name, Reader: tv.Stream}
			return tunnel.FileSentinel{
				Marker: tunnel.FileSentinelMarker,
				Id:     id,
				Meta:   map[string]any{"name": tv.Name, "type": tv.Type, "size": tv.Size},
			}
		case map[string]any:
			out := make(map[string]any, len(tv))
			for k, child := range tv {
				out[k] = walk(child)
			}
			return out
		case []any:
			out := make([]any, len(tv))
			for i, child := range tv {
				out[i] = walk(child)
			}
			return out
		default:
			return v
		}
	}
	rewritten := walk(input)
	return rewritten, files
}
