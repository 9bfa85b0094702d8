package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/testutil"
	"github.com/hupe1980/agentturn/model"
)

func TestResponse_StreamsDeltas(t *testing.T) {
	caller := model.NewMockCaller("mock").Queue(model.CallStream, model.MockResponse{Fragments: []string{"Hi", " there", "!"}})
	h := NewResponseHarness(caller)
	rec := testutil.NewEventRecorder()

	res := h.Run(context.Background(), userContext(), Observer{OnEvent: rec.Event})

	require.NoError(t, res.Err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, "Hi there!", res.Message.Content)
	assert.Equal(t, core.RoleAssistant, res.Message.Role)
	assert.Equal(t, 3, res.Usage.CompletionTokens)
	assert.Equal(t, res.Usage.PromptTokens+3, res.Usage.TotalTokens)

	assert.Equal(t, []core.EventType{
		core.EventLLMCall,
		core.EventDelta, core.EventDelta, core.EventDelta, core.EventDelta,
		core.EventLLMCallComplete,
	}, rec.Types())

	evs := rec.Events()
	assert.True(t, evs[4].IsFinalDelta())
	assert.Equal(t, "Hi there!", testutil.DeltaText(evs))

	for _, ev := range evs[1:5] {
		assert.Equal(t, res.Message.ID, ev.Delta.MessageID)
		assert.Equal(t, core.StageResponse, ev.Stage)
	}

	assert.Equal(t, res.Message.Content, evs[5].LLMCallComplete.Result.Content)
	assert.Equal(t, userContext()[1].Content, caller.Contexts(model.CallStream)[0][1].Content)
}

func TestResponse_StreamFailure(t *testing.T) {
	caller := model.NewMockCaller("mock").Queue(model.CallStream, model.MockResponse{
		Fragments: []string{"Hi"},
		Err:       errors.New("connection reset"),
	})
	rec := testutil.NewEventRecorder()

	res := NewResponseHarness(caller).Run(context.Background(), userContext(), Observer{OnEvent: rec.Event})

	require.EqualError(t, res.Err, "connection reset")
	assert.Equal(t, "Hi", res.Message.Content)
	assert.Equal(t, []core.EventType{
		core.EventLLMCall, core.EventDelta, core.EventError, core.EventDelta, core.EventLLMCallComplete,
	}, rec.Types())
	assert.Equal(t, "stream_failure", rec.OfType(core.EventError)[0].Error.Data["class"])
}

func TestResponse_Timeout(t *testing.T) {
	caller := model.NewMockCaller("mock").Queue(model.CallStream, model.MockResponse{Fragments: []string{"Hi"}, Hang: true})
	rec := testutil.NewEventRecorder()

	h := NewResponseHarness(caller, func(o *ResponseOptions) { o.CallConfig.Timeout = 20 * time.Millisecond })
	res := h.Run(context.Background(), userContext(), Observer{OnEvent: rec.Event})

	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 1, rec.Count(core.EventError))
	assert.True(t, rec.Events()[len(rec.Events())-2].IsFinalDelta())
}

func TestResponse_CancellationIsCleanStop(t *testing.T) {
	caller := model.NewMockCaller("mock").Queue(model.CallStream, model.MockResponse{Fragments: []string{"Hi"}, Hang: true})
	rec := testutil.NewEventRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := Observer{OnEvent: func(ev core.Event) {
		rec.Event(ev)

		if ev.Type == core.EventDelta && !ev.IsFinalDelta() {
			cancel()
		}
	}}

	res := NewResponseHarness(caller).Run(ctx, userContext(), obs)

	assert.True(t, res.Cancelled)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Hi", res.Message.Content)
	assert.Equal(t, 0, rec.Count(core.EventError))
	assert.Equal(t, core.EventLLMCallComplete, rec.Types()[len(rec.Types())-1])
	assert.Equal(t, 2, rec.Count(core.EventDelta))
}
