package codegen_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/codegen"
	"github.com/pitchql/pitchql/pkg/llm/llmtest"
)

var barSpec = map[string]any{
	"mark":     "bar",
	"encoding": map[string]any{"x": map[string]any{"field": "player_name"}, "y": map[string]any{"field": "goals"}},
}

func TestGenerateStripsFences(t *testing.T) {
	fake := llmtest.Reply("```python\nfig = px.bar(df, x=\"player_name\", y=\"goals\")\n```")
	g := codegen.New(llmtest.Invoker("code", fake))

	code, err := g.Generate(context.Background(), barSpec)
	require.NoError(t, err)
	assert.Equal(t, `fig = px.bar(df, x="player_name", y="goals")`, code)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, `"field":"player_name"`)
}

func TestGenerateMissingFigure(t *testing.T) {
	g := codegen.New(llmtest.Invoker("code", llmtest.Reply("chart = px.bar(df)")))
	_, err := g.Generate(context.Background(), barSpec)
	assert.True(t, apperr.Is(err, apperr.KindMissingFigure))
}

func TestGenerateFenceOnly(t *testing.T) {
	g := codegen.New(llmtest.Invoker("code", llmtest.Reply("```python\n```")))
	_, err := g.Generate(context.Background(), barSpec)
	assert.True(t, apperr.Is(err, apperr.KindEmptyResponse))
}

func TestGeneratePropagatesUpstream(t *testing.T) {
	upstream := apperr.New(apperr.KindNonRetriableUpstream, "fake")
	g := codegen.New(llmtest.Invoker("code", llmtest.New(llmtest.Step{Err: upstream})))
	_, err := g.Generate(context.Background(), barSpec)
	assert.True(t, apperr.Is(err, apperr.KindNonRetriableUpstream))
}
