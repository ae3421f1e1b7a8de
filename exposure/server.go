// Package exposure implements the HTTP tunnel server described in
// spec.md §4.9a: a chi-routed resource that dispatches POST requests
// to RunTask/EmitEvent, guarded by bearer auth and a tunnel allow-list.
// Grounded on the teacher's examples/http-api (handlers.go/main.go) for
// the handler-per-route / respondJSON-respondError shape, generalised
// from a hand-rolled http.ServeMux to chi + go-chi/cors since the
// wider example corpus reaches for chi for routed HTTP servers.
package exposure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	runner "github.com/module-dev/runner"
	"github.com/module-dev/runner/tunnel"
)

// AsyncContextHydrator binds one entry of the x-runner-context header's
// { asyncContextId → serializedValue } map onto ctx. Go erases an
// AsyncContextHandle[T]'s T at the package boundary, so the exposure
// layer cannot discover hydrators by reflecting the store; callers
// register one per context id they want the wire to hydrate.
type AsyncContextHydrator func(ctx context.Context, serialized string) (context.Context, error)

// Config configures a Server (spec.md §4.9a).
type Config struct {
	BasePath                     string // default "/__runner"
	TokenHeader                  string // default "x-runner-token"
	Token                        string
	AllowAnonymous               bool
	DangerouslyAllowOpenExposure bool
	AllowAsyncContext            bool // header hydration runs only when true; the zero value leaves the context header unread
	ContextHeader                string // default "x-runner-context"
	AsyncContextHydrators        map[string]AsyncContextHydrator
	CORS                         *cors.Options
	RequestTimeout                time.Duration
}

// Server is the chi-routed HTTP exposure for a RunResult's tasks and
// events.
type Server struct {
	cfg           Config
	rr            *runner.RunResult
	router        chi.Router
	allowedTasks  map[runner.Id]bool
	allowedEvents map[runner.Id]bool
	hasTunnel     bool
}

// New builds a Server over rr. Per spec.md §4.9a, construction fails
// unless a token is configured or open exposure is explicitly opted
// into.
func New(rr *runner.RunResult, cfg Config) (*Server, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = "/__runner"
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "x-runner-token"
	}
	if cfg.ContextHeader == "" {
		cfg.ContextHeader = "x-runner-context"
	}
	if cfg.Token == "" && !cfg.AllowAnonymous && !cfg.DangerouslyAllowOpenExposure {
		return nil, runner.HttpBaseUrlRequired.Throw(map[string]any{"reason": "no token configured and open exposure not permitted"})
	}

	s := &Server{cfg: cfg, rr: rr}
	s.discoverAllowList()
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) discoverAllowList() {
	s.allowedTasks = map[runner.Id]bool{}
	s.allowedEvents = map[runner.Id]bool{}
	for _, entry := range s.rr.Store().AllResources() {
		cfg, ok := runner.ConfigOf(runner.TunnelTag, entry.Tags())
		if !ok || cfg.Mode != runner.TunnelModeServer {
			continue
		}
		s.hasTunnel = true
		for _, id := range cfg.Tasks {
			s.allowedTasks[id] = true
		}
		for _, id := range cfg.Events {
			s.allowedEvents[id] = true
		}
	}
}

func (s *Server) openExposurePermitted() bool {
	return s.cfg.DangerouslyAllowOpenExposure
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	if s.cfg.CORS != nil {
		r.Use(cors.Handler(*s.cfg.CORS))
	}

	r.Route(s.cfg.BasePath, func(br chi.Router) {
		br.Post("/task/{id}", s.handleTask)
		br.Post("/event/{id}", s.handleEvent)
	})
	return r
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.cfg.AllowAnonymous || s.cfg.DangerouslyAllowOpenExposure {
		return true
	}
	return r.Header.Get(s.cfg.TokenHeader) == s.cfg.Token
}

func writeEnvelope(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, tunnel.Fail[any](code, message, "", nil))
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeError(w, http.StatusUnauthorized, runner.CodeUnauthorized, "missing or invalid token")
		return
	}

	rawId := chi.URLParam(r, "id")
	id, err := url.PathUnescape(rawId)
	if err != nil {
		writeError(w, http.StatusNotFound, runner.CodeNotFound, "malformed task id")
		return
	}

	if !s.allowed(id, s.allowedTasks) {
		writeError(w, http.StatusForbidden, runner.CodeForbidden, "task id not in tunnel allow-list")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	ctx, hydrationErr := s.hydrateAsyncContext(ctx, r)
	_ = hydrationErr // unknown/failed contexts are ignored one-by-one (spec.md §4.9a)

	input, status, code, msg := s.parseTaskBody(r)
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}

	result, runErr := s.rr.RunTaskByIdContext(ctx, id, input)
	if runErr != nil {
		if runner.TaskCancelled.Is(runErr) {
			writeError(w, 499, runner.CodeRequestAborted, "request aborted")
			return
		}
		s.writeTaskError(w, id, runErr)
		return
	}

	if sr, ok := tunnel.IsStreamingResponse(result); ok {
		s.writeStreaming(w, sr)
		return
	}
	writeEnvelope(w, http.StatusOK, tunnel.Ok(result))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeError(w, http.StatusUnauthorized, runner.CodeUnauthorized, "missing or invalid token")
		return
	}

	rawId := chi.URLParam(r, "id")
	id, err := url.PathUnescape(rawId)
	if err != nil {
		writeError(w, http.StatusNotFound, runner.CodeNotFound, "malformed event id")
		return
	}
	if !s.allowed(id, s.allowedEvents) {
		writeError(w, http.StatusForbidden, runner.CodeForbidden, "event id not in tunnel allow-list")
		return
	}

	var body tunnel.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, runner.CodeInvalidJSON, "invalid JSON body")
		return
	}

	if err := s.rr.EmitEventById(id, body.Payload, "exposure:http"); err != nil {
		s.writeTaskError(w, id, err)
		return
	}

	if body.ReturnPayload {
		writeEnvelope(w, http.StatusOK, tunnel.Ok(map[string]any{"result": body.Payload}))
		return
	}
	writeEnvelope(w, http.StatusOK, tunnel.Ok[any](nil))
}

func (s *Server) allowed(id runner.Id, allowList map[runner.Id]bool) bool {
	if !s.hasTunnel && !s.openExposurePermitted() {
		return false
	}
	if s.openExposurePermitted() {
		return true
	}
	return allowList[id]
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) hydrateAsyncContext(ctx context.Context, r *http.Request) (context.Context, error) {
	if !s.cfg.AllowAsyncContext {
		return ctx, nil
	}
	header := r.Header.Get(s.cfg.ContextHeader)
	if header == "" {
		return ctx, nil
	}
	var serialized map[string]string
	if err := json.Unmarshal([]byte(header), &serialized); err != nil {
		return ctx, err
	}
	for contextId, value := range serialized {
		hydrator, ok := s.cfg.AsyncContextHydrators[contextId]
		if !ok {
			continue
		}
		if hydrated, err := hydrator(ctx, value); err == nil {
			ctx = hydrated
		}
		// a single context failing to hydrate is ignored, not fatal.
	}
	return ctx, nil
}

func (s *Server) writeTaskError(w http.ResponseWriter, id runner.Id, err error) {
	if runner.PhantomTaskNotRouted.Is(err) {
		writeError(w, http.StatusNotFound, runner.CodeNotFound, err.Error())
		return
	}
	if re, ok := err.(*runner.RuntimeError); ok {
		writeEnvelope(w, http.StatusInternalServerError, tunnel.Fail[any](runner.CodeInternalError, re.Error(), re.Id(), re.Fields))
		return
	}
	writeEnvelope(w, http.StatusInternalServerError, tunnel.Fail[any](runner.CodeInternalError, err.Error(), "", nil))
}

func (s *Server) writeStreaming(w http.ResponseWriter, sr tunnel.StreamingResponse) {
	for k, v := range sr.Headers {
		w.Header().Set(k, v)
	}
	if sr.ContentType != "" {
		w.Header().Set("Content-Type", sr.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	status := sr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(sr.Stream)
}

// parseTaskBody dispatches by content-type (spec.md §4.9a "Request
// body"). status==0 means parsing succeeded and input is the resolved
// task input.
func (s *Server) parseTaskBody(r *http.Request) (input any, status int, code, msg string) {
	contentType := r.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "application/json"
	}

	switch {
	case mediaType == "application/json" || contentType == "":
		var body tunnel.TaskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, http.StatusBadRequest, runner.CodeInvalidJSON, "invalid JSON body"
		}
		return body.ResolvedInput(), 0, "", ""

	case strings.HasPrefix(mediaType, "multipart/"):
		return s.parseMultipart(r, params["boundary"])

	case mediaType == "application/octet-stream":
		return r.Body, 0, "", ""

	default:
		var body tunnel.TaskRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		return body.ResolvedInput(), 0, "", ""
	}
}

func (s *Server) parseMultipart(r *http.Request, boundary string) (input any, status int, code, msg string) {
	if boundary == "" {
		return nil, http.StatusBadRequest, runner.CodeInvalidMultipart, "missing multipart boundary"
	}
	reader := multipart.NewReader(r.Body, boundary)

	var manifest map[string]any
	fileParts := map[string]*bufferedPart{}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, http.StatusBadRequest, runner.CodeInvalidMultipart, "malformed multipart body"
		}
		name := part.FormName()
		if name == "__manifest" {
			if err := json.NewDecoder(part).Decode(&manifest); err != nil {
				return nil, http.StatusInternalServerError, runner.CodeMissingManifest, "invalid __manifest part"
			}
			continue
		}
		if strings.HasPrefix(name, "file:") {
			fileId := strings.TrimPrefix(name, "file:")
			body, err := io.ReadAll(part)
			if err != nil {
				return nil, http.StatusBadRequest, runner.CodeInvalidMultipart, "malformed multipart body"
			}
			fileParts[fileId] = &bufferedPart{Part: part, body: body}
		}
	}

	if manifest == nil {
		return nil, http.StatusInternalServerError, runner.CodeMissingManifest, "missing __manifest part"
	}

	hydrated, missingId := hydrateFileSentinels(manifest["input"], fileParts)
	if missingId != "" {
		return nil, http.StatusInternalServerError, runner.CodeMissingFilePart, "missing file part " + missingId
	}
	return hydrated, 0, "", ""
}

// InputFile is the hydrated replacement for a FileSentinel (spec.md
// §4.9a): the handler's task sees this instead of the raw sentinel.
type InputFile struct {
	Name   string
	Type   string
	Size   int64
	Stream io.Reader
}

// bufferedPart keeps a file part's headers with its body, read before
// NextPart moves on and discards whatever of the part is still unread.
type bufferedPart struct {
	*multipart.Part
	body []byte
}

func hydrateFileSentinels(node any, fileParts map[string]*bufferedPart) (any, string) {
	switch v := node.(type) {
	case map[string]any:
		if marker, ok := v["$runnerFile"].(string); ok && marker == tunnel.FileSentinelMarker {
			id, _ := v["id"].(string)
			part, ok := fileParts[id]
			if !ok {
				return nil, id
			}
			name := part.FileName()
			contentType := part.Header.Get("Content-Type")
			if meta, ok := v["meta"].(map[string]any); ok {
				if n, ok := meta["name"].(string); ok && n != "" {
					name = n
				}
				if ct, ok := meta["type"].(string); ok && ct != "" {
					contentType = ct
				}
			}
			return InputFile{Name: name, Type: contentType, Stream: bytes.NewReader(part.body)}, ""
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			hydratedChild, missing := hydrateFileSentinels(child, fileParts)
			if missing != "" {
				return nil, missing
			}
			out[k] = hydratedChild
		}
		return out, ""
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			hydratedChild, missing := hydrateFileSentinels(child, fileParts)
			if missing != "" {
				return nil, missing
			}
			out[i] = hydratedChild
		}
		return out, ""
	default:
		return v, ""
	}
}
