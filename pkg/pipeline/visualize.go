package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/parse"
	"github.com/pitchql/pitchql/pkg/prompt"
)

// Visualize designs a chart spec for caller-supplied rows and generates
// the code to draw it. Nothing is rendered or cached.
type Visualize struct {
	model   Invoker
	codegen CodeGenerator
}

// NewVisualize returns a Visualize pipeline. model serves the spec stage.
func NewVisualize(model Invoker, codegen CodeGenerator) *Visualize {
	return &Visualize{model: model, codegen: codegen}
}

// Run returns a spec and code for question over data.
func (p *Visualize) Run(ctx context.Context, question string, data []models.Record) (models.VisualizeResponse, error) {
	const op = "visualize"

	question = strings.TrimSpace(question)
	if question == "" || len(data) == 0 {
		return models.VisualizeResponse{}, apperr.Newf(apperr.KindMissingInput, op, "Provide 'nl' (or 'sql') and 'data'")
	}

	sample, err := parse.Compact(Sample(data))
	if err != nil {
		return models.VisualizeResponse{}, apperr.Wrap(apperr.KindInternal, op, err)
	}
	designPrompt, err := prompt.Design(question, sample)
	if err != nil {
		return models.VisualizeResponse{}, apperr.Wrap(apperr.KindInternal, op, err)
	}

	raw, err := p.model.Invoke(ctx, designPrompt)
	if err != nil {
		return models.VisualizeResponse{}, err
	}
	spec, err := parse.Object(raw)
	if err != nil {
		return models.VisualizeResponse{}, err
	}

	code, err := p.codegen.Generate(ctx, spec)
	if err != nil {
		return models.VisualizeResponse{}, err
	}
	return models.VisualizeResponse{Spec: spec, Code: code}, nil
}

// Sample describes data by its first row. Columns are sorted.
func Sample(data []models.Record) models.DataSample {
	if len(data) == 0 {
		return models.DataSample{Columns: []string{}}
	}
	cols := make([]string, 0, len(data[0]))
	for c := range data[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return models.DataSample{Columns: cols, ExampleRow: data[0]}
}
