// Package codegen asks the model to turn a chart spec into Plotly Express code.
package codegen

import (
	"context"
	"strings"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/parse"
	"github.com/pitchql/pitchql/pkg/prompt"
)

// FigureName is the identifier generated code must bind.
const FigureName = "fig"

// Invoker sends a prompt to the code stage model.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Generator produces chart code from specs.
type Generator struct {
	model Invoker
}

// New returns a Generator that calls model.
func New(model Invoker) *Generator {
	return &Generator{model: model}
}

// Generate returns fence-free code for spec. The check for FigureName is
// textual, so a mention inside a comment or string also passes.
func (g *Generator) Generate(ctx context.Context, spec map[string]any) (string, error) {
	const op = "generate code"

	specJSON, err := parse.Compact(spec)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, err)
	}
	p, err := prompt.Code(specJSON)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, err)
	}

	raw, err := g.model.Invoke(ctx, p)
	if err != nil {
		return "", err
	}

	code := parse.StripFences(raw)
	if code == "" {
		return "", apperr.New(apperr.KindEmptyResponse, op)
	}
	if !strings.Contains(code, FigureName) {
		return "", apperr.New(apperr.KindMissingFigure, op)
	}
	return code, nil
}
