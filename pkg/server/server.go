// Package server exposes the pipelines over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/audit"
	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/pipeline"
	"github.com/pitchql/pitchql/pkg/requestid"
	"github.com/pitchql/pitchql/pkg/sandbox"
)

// Header names set on every response.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderCache     = "X-Pitchql-Cache"
)

// InteractiveRunner answers a question with a rendered chart.
type InteractiveRunner interface {
	Run(ctx context.Context, question string) (*pipeline.Result, error)
}

// QueryRunner answers a question or raw statement with table rows.
type QueryRunner interface {
	Run(ctx context.Context, in pipeline.QueryInput) (models.QueryResponse, error)
}

// Visualizer designs a chart for caller-supplied rows.
type Visualizer interface {
	Run(ctx context.Context, question string, data []models.Record) (models.VisualizeResponse, error)
}

// Pipelines groups the handlers' backends. A nil pipeline disables its route.
type Pipelines struct {
	Interactive InteractiveRunner
	Query       QueryRunner
	Visualize   Visualizer
}

// Server is the pitchql HTTP front.
type Server struct {
	cfg     *config.Config
	p       Pipelines
	auditor *audit.Logger
	log     *zap.Logger
	mux     *http.ServeMux
	handler http.Handler
	audits  sync.WaitGroup
}

// New creates a Server wired with all dependencies. auditor may be nil.
func New(cfg *config.Config, p Pipelines, a *audit.Logger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		p:       p,
		auditor: a,
		log:     log,
		mux:     http.NewServeMux(),
	}
	if p.Interactive != nil {
		s.mux.HandleFunc("/interactive/", s.handleInteractive)
	}
	if p.Query != nil {
		s.mux.HandleFunc("/query/", s.handleQuery)
	}
	if p.Visualize != nil {
		s.mux.HandleFunc("/visualize/", s.handleVisualize)
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.handler = s.withRequestID(s.withCORS(s.withLimits(s.mux)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support. Pending
// audit writes are flushed before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("pitchql listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.audits.Wait()
		return err
	case err := <-errCh:
		return err
	}
}

type interactiveRequest struct {
	NL string `json:"nl"`
}

func (s *Server) handleInteractive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	start := time.Now()
	log := s.requestLogger(r)

	var req interactiveRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, log, start, req.NL, err)
		return
	}

	res, err := s.p.Interactive.Run(r.Context(), req.NL)
	if err != nil {
		s.fail(w, r, log, start, req.NL, err)
		return
	}

	outcome := models.OutcomeOK
	w.Header().Set(HeaderCache, "miss")
	if res.CacheHit {
		outcome = models.OutcomeHit
		w.Header().Set(HeaderCache, "hit")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)

	log.Info("interactive answered", zap.String("outcome", outcome), zap.Duration("latency", time.Since(start)))
	s.audit(r, models.AuditEntry{
		Question:     req.NL,
		CacheKey:     res.CacheKey,
		Outcome:      outcome,
		ResponseBody: string(res.Body),
		StatusCode:   http.StatusOK,
	}, start)
}

type queryRequest struct {
	NL  string `json:"nl"`
	SQL string `json:"sql"`
}

type queryError struct {
	Error     string  `json:"error"`
	Code      string  `json:"code"`
	RequestID string  `json:"request_id"`
	SQL       *string `json:"sql"`
}

// handleQuery reports every failure as 400 with the statement, if any, so
// callers can see what was attempted.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	start := time.Now()
	log := s.requestLogger(r)

	var req queryRequest
	var resp models.QueryResponse
	err := decodeBody(r, &req)
	if err == nil {
		resp, err = s.p.Query.Run(r.Context(), pipeline.QueryInput{NL: req.NL, SQL: req.SQL})
	}
	question := firstNonEmpty(req.NL, req.SQL)

	if err != nil {
		s.logFailure(log, err)
		body := queryError{
			Error:     apperr.PublicMessage(err),
			Code:      apperr.KindOf(err).Code(),
			RequestID: requestid.FromContext(r.Context()),
		}
		if resp.SQL != "" {
			body.SQL = &resp.SQL
		}
		raw := writeJSON(w, http.StatusBadRequest, body)
		s.audit(r, models.AuditEntry{
			Question:     question,
			Outcome:      models.OutcomeFailed,
			ErrorCode:    body.Code,
			Diagnostics:  diagnostics(err),
			ResponseBody: raw,
			StatusCode:   http.StatusBadRequest,
		}, start)
		return
	}

	if resp.Data == nil {
		resp.Data = []models.Record{}
	}
	raw := writeJSON(w, http.StatusOK, resp)
	log.Info("query answered", zap.Int("rows", resp.Rows), zap.Duration("latency", time.Since(start)))
	s.audit(r, models.AuditEntry{
		Question:     question,
		Outcome:      models.OutcomeOK,
		ResponseBody: raw,
		StatusCode:   http.StatusOK,
	}, start)
}

type visualizeRequest struct {
	NL   string          `json:"nl"`
	SQL  string          `json:"sql"`
	Data []models.Record `json:"data"`
}

func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	start := time.Now()
	log := s.requestLogger(r)

	var req visualizeRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, log, start, "", err)
		return
	}
	question := firstNonEmpty(req.NL, req.SQL)

	resp, err := s.p.Visualize.Run(r.Context(), question, req.Data)
	if err != nil {
		s.fail(w, r, log, start, question, err)
		return
	}

	raw := writeJSON(w, http.StatusOK, resp)
	log.Info("visualization designed", zap.Duration("latency", time.Since(start)))
	s.audit(r, models.AuditEntry{
		Question:     question,
		Outcome:      models.OutcomeOK,
		ResponseBody: raw,
		StatusCode:   http.StatusOK,
	}, start)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes the opaque error body for err, logs the full diagnostics and
// audits the run.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, start time.Time, question string, err error) {
	s.logFailure(log, err)
	kind := apperr.KindOf(err)
	raw := writeJSONError(w, r, kind.HTTPStatus(), kind.Code(), apperr.PublicMessage(err))
	s.audit(r, models.AuditEntry{
		Question:     question,
		Outcome:      models.OutcomeFailed,
		ErrorCode:    kind.Code(),
		Diagnostics:  diagnostics(err),
		ResponseBody: raw,
		StatusCode:   kind.HTTPStatus(),
	}, start)
}

func (s *Server) logFailure(log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	fields := []zap.Field{zap.String("code", kind.Code()), zap.Error(err)}
	if tb := sandbox.Traceback(err); tb != "" {
		fields = append(fields, zap.String("traceback", tb))
	}
	if kind.HTTPStatus() >= http.StatusInternalServerError {
		log.Error("pipeline failed", fields...)
		return
	}
	log.Info("request rejected", fields...)
}

// audit records the run asynchronously. Failures are logged only.
func (s *Server) audit(r *http.Request, entry models.AuditEntry, start time.Time) {
	if s.auditor == nil {
		return
	}
	entry.RequestID = requestid.FromContext(r.Context())
	entry.Endpoint = r.URL.Path
	entry.PromptVersion = s.cfg.PromptVersion
	entry.LatencyMs = time.Since(start).Milliseconds()
	entry.CreatedAt = time.Now().UTC()

	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		if err := s.auditor.Log(context.Background(), entry); err != nil {
			s.log.Warn("audit log error", zap.String("request_id", entry.RequestID), zap.Error(err))
		}
	}()
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return s.log.With(
		zap.String("request_id", requestid.FromContext(r.Context())),
		zap.String("endpoint", r.URL.Path),
	)
}

// withRequestID keeps the caller's X-Request-ID or assigns a new one.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = requestid.New()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(requestid.NewContext(r.Context(), id)))
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool)
	for _, o := range s.cfg.CORS.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderRequestID)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLimits bounds each request's lifetime and body size.
func (s *Server) withLimits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
		}
		if s.cfg.Server.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// decodeBody reads a JSON request body. An empty body decodes to the zero
// value so the pipeline reports the missing field.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Newf(apperr.KindMissingInput, "decode", "request body too large")
	}
	return &apperr.Error{Kind: apperr.KindMissingInput, Op: "decode", Msg: "invalid request body", Err: err}
}

func diagnostics(err error) string {
	msg := err.Error()
	if tb := sandbox.Traceback(err); tb != "" {
		msg += "\n" + tb
	}
	return msg
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) string {
	return writeJSON(w, status, errorBody{
		Error:     message,
		Code:      code,
		RequestID: requestid.FromContext(r.Context()),
	})
}

// writeJSON writes v and returns the serialized body.
func writeJSON(w http.ResponseWriter, status int, v any) string {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"error":"internal error","code":"internal"}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return string(body)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
