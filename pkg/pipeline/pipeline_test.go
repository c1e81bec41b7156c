package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/cache"
	"github.com/pitchql/pitchql/pkg/cache/memory"
	"github.com/pitchql/pitchql/pkg/codegen"
	"github.com/pitchql/pitchql/pkg/llm"
	"github.com/pitchql/pitchql/pkg/llm/llmtest"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/pipeline"
)

const dataSpecAnswer = "```json\n" + `{"data": [{"player_name": "Messi", "goals": 50}, {"player_name": "Ronaldo", "goals": 46}],
"spec": {"mark": "bar", "encoding": {"x": {"field": "player_name"}, "y": {"field": "goals"}}}}` + "\n```"

const chartCode = `fig = px.bar(df, x="player_name", y="goals")`

var errRateLimited = apperr.Wrap(apperr.KindTransientUpstream, "fake", genai.APIError{Code: 429})

type fakeExecutor struct {
	calls int
	data  []models.Record
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, data []models.Record, _ string) (string, error) {
	f.calls++
	f.data = data
	if f.err != nil {
		return "", f.err
	}
	return `{"data":[{"type":"bar"}],"layout":{}}`, nil
}

type fakeArchive struct{ keys []string }

func (f *fakeArchive) Put(_ context.Context, key string, _ []byte) error {
	f.keys = append(f.keys, key)
	return errors.New("bucket unreachable")
}

type brokenStore struct {
	getErr, setErr error
	sets           int
}

func (b *brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, b.getErr }

func (b *brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	b.sets++
	return b.setErr
}

type harness struct {
	data  *llmtest.Client
	code  *llmtest.Client
	exec  *fakeExecutor
	store cache.Store
	gw    *cache.Gateway
	arch  *fakeArchive
}

func newHarness(data *llmtest.Client) *harness {
	store := memory.New(16, time.Hour)
	return &harness{
		data:  data,
		code:  llmtest.Reply(chartCode),
		exec:  &fakeExecutor{},
		store: store,
		gw:    cache.NewGateway(store, "v1", time.Hour),
		arch:  &fakeArchive{},
	}
}

func (h *harness) pipeline(dataClient llm.Client, failOpen bool) *pipeline.Interactive {
	return pipeline.NewInteractive(pipeline.InteractiveConfig{
		Cache:    h.gw,
		Model:    llmtest.Invoker("data", dataClient).JSON(),
		Codegen:  codegen.New(llmtest.Invoker("code", h.code)),
		Executor: h.exec,
		Archive:  h.arch,
		FailOpen: failOpen,
	})
}

func TestInteractiveComputesAndCaches(t *testing.T) {
	h := newHarness(llmtest.Reply(dataSpecAnswer))
	p := h.pipeline(h.data, false)
	ctx := context.Background()

	res, err := p.Run(ctx, "top scorers")
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, cache.Key(models.Query{Question: "top scorers", PromptVersion: "v1"}), res.CacheKey)

	var body models.InteractiveResponse
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Equal(t, chartCode, body.Code)
	assert.Equal(t, "bar", body.Spec["mark"])
	assert.JSONEq(t, `{"data":[{"type":"bar"}],"layout":{}}`, body.PlotlyJSON)
	require.Len(t, h.exec.data, 2)
	assert.Equal(t, "Messi", h.exec.data[0]["player_name"])

	again, err := p.Run(ctx, "top scorers")
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, res.Body, again.Body)
	assert.Equal(t, 1, h.data.Calls())
	assert.Equal(t, 1, h.code.Calls())
	assert.Equal(t, []string{res.CacheKey}, h.arch.keys)
}

func TestInteractiveCacheShortCircuit(t *testing.T) {
	h := newHarness(llmtest.Reply(dataSpecAnswer))
	cached := []byte(`{"spec":{"mark":"line"},"code":"fig = 1","plotly_json":"{}"}`)
	require.NoError(t, h.gw.Store(context.Background(), h.gw.Query("goals per season"), cached))

	res, err := h.pipeline(h.data, false).Run(context.Background(), "goals per season")
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, cached, res.Body)
	assert.Equal(t, 0, h.data.Calls())
	assert.Equal(t, 0, h.code.Calls())
	assert.Equal(t, 0, h.exec.calls)
}

func TestInteractivePromptVersionPartitionsCache(t *testing.T) {
	h := newHarness(llmtest.Reply(dataSpecAnswer))
	require.NoError(t, h.gw.Store(context.Background(), h.gw.Query("q"), []byte(`{}`)))

	h.gw = cache.NewGateway(h.store, "v2", time.Hour)
	res, err := h.pipeline(h.data, false).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 1, h.data.Calls())
}

func TestInteractiveKeyCoversQuestionAsReceived(t *testing.T) {
	h := newHarness(llmtest.Reply(dataSpecAnswer))
	p := h.pipeline(h.data, false)

	plain, err := p.Run(context.Background(), "x")
	require.NoError(t, err)
	padded, err := p.Run(context.Background(), " x")
	require.NoError(t, err)

	assert.False(t, padded.CacheHit)
	assert.NotEqual(t, plain.CacheKey, padded.CacheKey)
	assert.Equal(t, cache.Key(models.Query{Question: " x", PromptVersion: "v1"}), padded.CacheKey)
	assert.Equal(t, 2, h.data.Calls())
}

// blockingModel answers dataSpecAnswer once release is closed, or fails
// with its context.
type blockingModel struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingModel() *blockingModel {
	return &blockingModel{started: make(chan struct{}), release: make(chan struct{})}
}

func (m *blockingModel) Name() string { return "blocking" }

func (m *blockingModel) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if m.calls.Add(1) == 1 {
		close(m.started)
	}
	select {
	case <-m.release:
		return &llm.Response{Text: dataSpecAnswer, Model: req.Model}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestInteractiveSharedRunSurvivesCallerCancel(t *testing.T) {
	model := newBlockingModel()
	h := newHarness(llmtest.Reply(dataSpecAnswer))
	p := h.pipeline(model, false)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := p.Run(ctxA, "assists by season")
		errA <- err
	}()
	<-model.started

	type outcome struct {
		res *pipeline.Result
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := p.Run(context.Background(), "assists by season")
		doneB <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(model.release)
	b := <-doneB
	require.NoError(t, b.err)
	var body models.InteractiveResponse
	require.NoError(t, json.Unmarshal(b.res.Body, &body))
	assert.Equal(t, chartCode, body.Code)
	assert.Equal(t, int32(1), model.calls.Load())

	// The computation finished after A left, so its result was cached.
	_, hit, err := h.gw.Lookup(context.Background(), h.gw.Query("assists by season"))
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestInteractiveTimeoutBoundsComputation(t *testing.T) {
	model := newBlockingModel()
	h := newHarness(llmtest.Reply(dataSpecAnswer))
	p := pipeline.NewInteractive(pipeline.InteractiveConfig{
		Cache:    h.gw,
		Model:    llmtest.Invoker("data", model).JSON(),
		Codegen:  codegen.New(llmtest.Invoker("code", h.code)),
		Executor: h.exec,
		Timeout:  20 * time.Millisecond,
	})

	_, err := p.Run(context.Background(), "clean sheets")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.code.Calls())
}

func TestInteractiveMissingInput(t *testing.T) {
	h := newHarness(llmtest.Reply(dataSpecAnswer))
	_, err := h.pipeline(h.data, false).Run(context.Background(), " ")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMissingInput))
	assert.Equal(t, "Missing 'nl' in request body", apperr.PublicMessage(err))
	assert.Equal(t, 0, h.data.Calls())
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestInteractiveRetryBound(t *testing.T) {
	for k := 0; k <= 3; k++ {
		t.Run(fmt.Sprintf("%d transient failures", k), func(t *testing.T) {
			steps := make([]llmtest.Step, 0, k+1)
			for i := 0; i < k; i++ {
				steps = append(steps, llmtest.Step{Err: errRateLimited})
			}
			steps = append(steps, llmtest.Step{Text: dataSpecAnswer})
			h := newHarness(llmtest.New(steps...))
			client := llm.Wrap(h.data, llm.Retry(llm.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep}))

			res, err := h.pipeline(client, false).Run(context.Background(), "assists leaders")
			if k < 3 {
				require.NoError(t, err)
				assert.Contains(t, string(res.Body), chartCode[:10])
				assert.Equal(t, k+1, h.data.Calls())
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindTransientUpstream))
			assert.Equal(t, 3, h.data.Calls())
			_, hit, _ := h.gw.Lookup(context.Background(), h.gw.Query("assists leaders"))
			assert.False(t, hit)
		})
	}
}

func TestInteractiveNonRetriableAbortsImmediately(t *testing.T) {
	h := newHarness(llmtest.New(
		llmtest.Step{Err: apperr.Wrap(apperr.KindNonRetriableUpstream, "fake", genai.APIError{Code: 400})},
		llmtest.Step{Text: dataSpecAnswer},
	))
	client := llm.Wrap(h.data, llm.Retry(llm.RetryPolicy{MaxAttempts: 3, Sleep: noSleep}))

	_, err := h.pipeline(client, false).Run(context.Background(), "q")
	assert.True(t, apperr.Is(err, apperr.KindNonRetriableUpstream))
	assert.Equal(t, 1, h.data.Calls())
	assert.Equal(t, 0, h.code.Calls())
}

func TestInteractiveFailuresAreNotCached(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		exec   error
		kind   apperr.Kind
	}{
		{"malformed json", "not json at all", nil, apperr.KindMalformedJSON},
		{"schema", `{"data": [1, 2], "spec": {}}`, nil, apperr.KindSchemaViolation},
		{"render", dataSpecAnswer, apperr.Wrap(apperr.KindRenderFailure, "fake", errors.New("KeyError: 'x'")), apperr.KindRenderFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(llmtest.Reply(tc.answer))
			h.exec.err = tc.exec

			_, err := h.pipeline(h.data, false).Run(context.Background(), "q")
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))

			_, hit, err := h.gw.Lookup(context.Background(), h.gw.Query("q"))
			require.NoError(t, err)
			assert.False(t, hit)
			assert.Empty(t, h.arch.keys)
		})
	}
}

func TestInteractiveCacheUnavailable(t *testing.T) {
	down := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

	t.Run("lookup fails closed", func(t *testing.T) {
		h := newHarness(llmtest.Reply(dataSpecAnswer))
		h.gw = cache.NewGateway(&brokenStore{getErr: down}, "v1", time.Hour)

		_, err := h.pipeline(h.data, false).Run(context.Background(), "q")
		assert.True(t, apperr.Is(err, apperr.KindCacheUnavailable))
		assert.Equal(t, 0, h.data.Calls())
	})

	t.Run("store fails closed", func(t *testing.T) {
		h := newHarness(llmtest.Reply(dataSpecAnswer))
		h.gw = cache.NewGateway(&brokenStore{setErr: down}, "v1", time.Hour)

		_, err := h.pipeline(h.data, false).Run(context.Background(), "q")
		assert.True(t, apperr.Is(err, apperr.KindCacheUnavailable))
	})

	t.Run("fail open", func(t *testing.T) {
		h := newHarness(llmtest.Reply(dataSpecAnswer))
		store := &brokenStore{getErr: down, setErr: down}
		h.gw = cache.NewGateway(store, "v1", time.Hour)

		res, err := h.pipeline(h.data, true).Run(context.Background(), "q")
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
		assert.Equal(t, 1, store.sets)
	})
}
