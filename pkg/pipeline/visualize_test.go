package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/codegen"
	"github.com/pitchql/pitchql/pkg/llm/llmtest"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/pipeline"
)

var seasonRows = []models.Record{
	{"season": 2015, "goals": 31},
	{"season": 2016, "goals": 37},
}

func TestVisualize(t *testing.T) {
	spec := llmtest.Reply("```json\n{\"mark\": \"line\", \"encoding\": {\"x\": {\"field\": \"season\"}}}\n```")
	code := llmtest.Reply("fig = px.line(df, x=\"season\", y=\"goals\")")
	p := pipeline.NewVisualize(llmtest.Invoker("spec", spec), codegen.New(llmtest.Invoker("code", code)))

	resp, err := p.Run(context.Background(), "goals per season", seasonRows)
	require.NoError(t, err)
	assert.Equal(t, "line", resp.Spec["mark"])
	assert.Equal(t, `fig = px.line(df, x="season", y="goals")`, resp.Code)

	prompt := spec.Requests()[0].Prompt
	assert.Contains(t, prompt, `"columns":["goals","season"]`)
	assert.Contains(t, prompt, `"example_row":{"goals":31,"season":2015}`)
}

func TestVisualizeMissingInput(t *testing.T) {
	spec := llmtest.Reply("{}")
	p := pipeline.NewVisualize(llmtest.Invoker("spec", spec), codegen.New(llmtest.Invoker("code", llmtest.Reply("fig"))))

	_, err := p.Run(context.Background(), "", seasonRows)
	assert.True(t, apperr.Is(err, apperr.KindMissingInput))
	_, err = p.Run(context.Background(), "q", nil)
	assert.True(t, apperr.Is(err, apperr.KindMissingInput))
	assert.Equal(t, 0, spec.Calls())
}

func TestVisualizeSpecMustBeObject(t *testing.T) {
	p := pipeline.NewVisualize(llmtest.Invoker("spec", llmtest.Reply(`["bar"]`)), codegen.New(llmtest.Invoker("code", llmtest.Reply("fig"))))
	_, err := p.Run(context.Background(), "q", seasonRows)
	assert.True(t, apperr.Is(err, apperr.KindSchemaViolation))
}

func TestSample(t *testing.T) {
	s := pipeline.Sample(seasonRows)
	assert.Equal(t, []string{"goals", "season"}, s.Columns)
	assert.Equal(t, seasonRows[0], s.ExampleRow)
	assert.Empty(t, pipeline.Sample(nil).Columns)
}
