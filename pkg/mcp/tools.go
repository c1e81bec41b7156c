package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/pipeline"
	"github.com/pitchql/pitchql/pkg/requestid"
	"github.com/pitchql/pitchql/pkg/validate"
)

// Tool argument structs.

type askArgs struct {
	Question string `json:"question"`
}

type queryArgs struct {
	NL  string `json:"nl"`
	SQL string `json:"sql"`
}

type sqlArgs struct {
	SQL string `json:"sql"`
}

type stageArgs struct {
	Stage string `json:"stage"`
}

type requestArgs struct {
	RequestID string `json:"request_id"`
}

type auditSearchArgs struct {
	Endpoint string `json:"endpoint"`
	Outcome  string `json:"outcome"`
	Code     string `json:"code"`
	Since    string `json:"since"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"pitchql_ask":           handleAsk,
	"pitchql_query":         handleQuery,
	"pitchql_check_sql":     handleCheckSQL,
	"pitchql_usage":         handleUsage,
	"pitchql_request_usage": handleRequestUsage,
	"pitchql_budget":        handleBudget,
	"pitchql_cache_stats":   handleCacheStats,
	"pitchql_audit_search":  handleAuditSearch,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var (
	readOnly  = &ToolAnnotations{ReadOnlyHint: true}
	callsOut  = &ToolAnnotations{ReadOnlyHint: true, OpenWorldHint: true}
	stageProp = stringProp("Pipeline stage: data, code, sql or spec (optional, omit for all)")
)

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "pitchql_ask",
		Description: "Answer a football question with data, a Vega-Lite spec, Plotly code and the rendered Plotly figure JSON.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"question"},
			"properties": map[string]any{"question": stringProp("The question, e.g. 'top 10 scorers in the 2019 Premier League'")},
		},
		Annotations: callsOut,
	},
	{
		Name:        "pitchql_query",
		Description: "Return rows from the football database, from a question (nl) or a read-only SELECT (sql).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"nl":  stringProp("Natural-language question (takes precedence over sql)"),
				"sql": stringProp("A single SELECT or WITH statement without semicolons"),
			},
		},
		Annotations: callsOut,
	},
	{
		Name:        "pitchql_check_sql",
		Description: "Report whether a statement passes the read-only SQL guard.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"sql"},
			"properties": map[string]any{"sql": stringProp("The statement to check")},
		},
		Annotations: readOnly,
	},
	{
		Name:        "pitchql_usage",
		Description: "Show token usage aggregated by stage and model.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"stage": stageProp},
		},
		Annotations: readOnly,
	},
	{
		Name:        "pitchql_request_usage",
		Description: "Show the model calls made while serving one request.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"request_id"},
			"properties": map[string]any{"request_id": stringProp("The request ID to inspect")},
		},
		Annotations: readOnly,
	},
	{
		Name:        "pitchql_budget",
		Description: "Show token budget status (usage vs limits) for the configured policies.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"stage": stageProp},
		},
		Annotations: readOnly,
	},
	{
		Name:        "pitchql_cache_stats",
		Description: "Show response cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Annotations: readOnly,
	},
	{
		Name:        "pitchql_audit_search",
		Description: "Search the pipeline run log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"endpoint": stringProp("Filter by endpoint, e.g. /interactive/ (optional)"),
				"outcome":  stringProp("Filter by outcome: ok, hit or failed (optional)"),
				"code":     stringProp("Filter by error code, e.g. render_failure (optional)"),
				"since":    stringProp("Start date in YYYY-MM-DD format (optional)"),
			},
		},
		Annotations: readOnly,
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// pipelineError reports err the way the HTTP surface does: public message
// and code for the caller, full chain in the log.
func (s *Server) pipelineError(ctx context.Context, tool string, err error) ToolCallResult {
	id := requestid.FromContext(ctx)
	kind := apperr.KindOf(err)
	s.log.Warn("mcp tool failed",
		zap.String("tool", tool),
		zap.String("request_id", id),
		zap.String("code", kind.Code()),
		zap.Error(err),
	)
	return errorResult(fmt.Sprintf("%s (code %s, request %s)", apperr.PublicMessage(err), kind.Code(), id))
}

func handleAsk(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cfg.Ask == nil {
		return textResult("Chart answers are not configured.")
	}
	var args askArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	ctx = requestid.NewContext(ctx, requestid.New())

	res, err := s.cfg.Ask.Run(ctx, args.Question)
	if err != nil {
		return s.pipelineError(ctx, "pitchql_ask", err)
	}
	return textResult(string(res.Body))
}

func handleQuery(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cfg.Query == nil {
		return textResult("Database queries are not configured.")
	}
	var args queryArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	ctx = requestid.NewContext(ctx, requestid.New())

	resp, err := s.cfg.Query.Run(ctx, pipeline.QueryInput{NL: args.NL, SQL: args.SQL})
	if err != nil {
		res := s.pipelineError(ctx, "pitchql_query", err)
		if resp.SQL != "" {
			res.Content = append(res.Content, ContentBlock{Type: "text", Text: resp.SQL})
		}
		return res
	}
	return textResult(formatQuery(resp))
}

func handleCheckSQL(_ context.Context, _ *Server, rawArgs json.RawMessage) ToolCallResult {
	var args sqlArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if strings.TrimSpace(args.SQL) == "" {
		return errorResult("sql is required")
	}
	if !validate.IsSafe(args.SQL) {
		return textResult("rejected: the statement is not a single read-only SELECT/WITH query")
	}
	return textResult("ok")
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cfg.Tracker == nil {
		return textResult("Usage tracking is not configured.")
	}
	var args stageArgs
	_ = decodeArgs(rawArgs, &args)
	rows, err := s.cfg.Tracker.Summary(ctx, args.Stage)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleRequestUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cfg.Tracker == nil {
		return textResult("Usage tracking is not configured.")
	}
	var args requestArgs
	_ = decodeArgs(rawArgs, &args)
	if args.RequestID == "" {
		return errorResult("request_id is required")
	}
	recs, err := s.cfg.Tracker.QueryByRequest(ctx, args.RequestID)
	if err != nil {
		return errorResult("Error fetching request usage: " + err.Error())
	}
	return textResult(formatUsageRecords(recs))
}

func handleBudget(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cfg.Enforcer == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args stageArgs
	_ = decodeArgs(rawArgs, &args)
	statuses, err := s.cfg.Enforcer.Status(ctx, args.Stage)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cfg.Cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cfg.Cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cfg.Auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	_ = decodeArgs(rawArgs, &args)

	opts := models.AuditQueryOpts{
		Endpoint:  args.Endpoint,
		Outcome:   args.Outcome,
		ErrorCode: args.Code,
		Limit:     50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.cfg.Auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
