// Package sandbox renders generated Plotly Express code into figure JSON.
//
// Code runs in a separate python3 process whose evaluation scope holds only
// df, px and the builtins. That isolates identifiers and bounds run time; it
// is not a security boundary against hostile code.
package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/parse"
)

//go:embed harness.py
var harness string

// Outcome is what one execution of generated code produced.
type Outcome struct {
	OK            bool   `json:"ok"`
	Figure        string `json:"figure,omitempty"`
	MissingFigure bool   `json:"missing_fig,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Traceback     string `json:"traceback,omitempty"`
}

// Runner executes code against data. A returned error means the run itself
// failed (interpreter missing, timeout, crash); errors raised by the code are
// reported in the Outcome.
type Runner interface {
	Run(ctx context.Context, code string, data []models.Record) (*Outcome, error)
}

// ExecError is a failure raised by generated code.
type ExecError struct {
	Type      string
	Message   string
	Traceback string
}

func (e *ExecError) Error() string {
	return e.Type + ": " + e.Message
}

// PythonRunner runs code with a python3 interpreter that has pandas and
// plotly installed.
type PythonRunner struct {
	Python  string
	Timeout time.Duration
}

type runRequest struct {
	Code string          `json:"code"`
	Data []models.Record `json:"data"`
}

func (r *PythonRunner) Run(ctx context.Context, code string, data []models.Record) (*Outcome, error) {
	payload, err := json.Marshal(runRequest{Code: code, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode sandbox input: %w", err)
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.python(), "-c", harness)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sandbox: %w", ctx.Err())
		}
		return nil, fmt.Errorf("sandbox: %w: %s", err, tail(stderr.String(), 2048))
	}

	var out Outcome
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode sandbox output: %w", err)
	}
	return &out, nil
}

// Check verifies the interpreter can import the rendering packages.
func (r *PythonRunner) Check(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.python(), "-c", "import pandas, plotly.express, plotly.io")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("python check: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *PythonRunner) python() string {
	if r.Python == "" {
		return "python3"
	}
	return r.Python
}

// Executor normalizes, runs and, for known failure signatures, repairs
// generated code.
type Executor struct {
	runner  Runner
	palette string
	rules   []Rule
	log     *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRules replaces the default repair table.
func WithRules(rules []Rule) Option {
	return func(e *Executor) { e.rules = rules }
}

// WithLogger sets the logger used to report repairs.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// New returns an Executor. palette replaces any named Plotly palette in the
// code; empty leaves palettes untouched.
func New(runner Runner, palette string, opts ...Option) *Executor {
	e := &Executor{runner: runner, palette: palette, rules: DefaultRules, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute renders code against data and returns the figure JSON. At most one
// repair is attempted.
func (e *Executor) Execute(ctx context.Context, data []models.Record, code string) (string, error) {
	const op = "execute chart"

	code = parse.StripFences(code)
	if e.palette != "" {
		code = NormalizePalette(code, e.palette)
	}

	out, err := e.runner.Run(ctx, code, data)
	if err != nil {
		return "", apperr.Wrap(apperr.KindRenderFailure, op, err)
	}
	if out.OK {
		return out.Figure, nil
	}
	if out.MissingFigure {
		return "", apperr.New(apperr.KindMissingFigure, op)
	}

	first := outcomeError(out)
	rule, ok := Match(e.rules, out.ErrorType, out.ErrorMessage)
	if !ok {
		return "", apperr.Wrap(apperr.KindRenderFailure, op, first)
	}
	repaired := rule.Rewrite(code)
	if repaired == code {
		return "", apperr.Wrap(apperr.KindRenderFailure, op, first)
	}
	e.log.Info("repairing chart code", zap.String("rule", rule.Name), zap.String("error", first.Error()))

	out, err = e.runner.Run(ctx, repaired, data)
	if err != nil {
		return "", apperr.Wrap(apperr.KindRenderFailure, op, err)
	}
	if out.OK {
		return out.Figure, nil
	}
	if out.MissingFigure {
		return "", apperr.New(apperr.KindMissingFigure, op)
	}
	return "", apperr.Wrap(apperr.KindRenderFailure, op,
		fmt.Errorf("after %s repair: %w", rule.Name, outcomeError(out)))
}

func outcomeError(out *Outcome) *ExecError {
	return &ExecError{Type: out.ErrorType, Message: out.ErrorMessage, Traceback: out.Traceback}
}

// Traceback returns the Python traceback carried by err, if any.
func Traceback(err error) string {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Traceback
	}
	return ""
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
