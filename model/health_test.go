package model

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowLister blocks until its context is done.
type slowLister struct{ *MockCaller }

func (s slowLister) ListModels(ctx context.Context) ([]Info, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// plainCaller hides the mock's Lister implementation.
type plainCaller struct{ Caller }

func TestCheckHealth_AllUp(t *testing.T) {
	h := CheckHealth(context.Background(), map[string]Caller{
		"b": NewMockCaller("beta"),
		"a": NewMockCaller("alpha"),
	}, 0)

	assert.Equal(t, HealthOK, h.Status)
	assert.Equal(t, []BackendHealth{
		{Name: "a", Status: BackendUp, Models: 1},
		{Name: "b", Status: BackendUp, Models: 1},
	}, h.Backends)
}

func TestCheckHealth_ClassifiesFailures(t *testing.T) {
	apiErr := &APIError{Provider: "openai", StatusCode: http.StatusServiceUnavailable}

	h := CheckHealth(context.Background(), map[string]Caller{
		"http":    NewMockCaller("x").FailListing(apiErr),
		"network": NewMockCaller("y").FailListing(errors.New("connection refused")),
		"ok":      NewMockCaller("z"),
	}, time.Second)

	assert.Equal(t, HealthDegraded, h.Status)
	require.Len(t, h.Backends, 3)

	assert.Equal(t, BackendError, h.Backends[0].Status)
	assert.Equal(t, http.StatusServiceUnavailable, h.Backends[0].StatusCode)
	assert.Equal(t, BackendDown, h.Backends[1].Status)
	assert.Equal(t, "connection refused", h.Backends[1].Error)
	assert.Equal(t, BackendUp, h.Backends[2].Status)
}

func TestCheckHealth_TimeoutIsDown(t *testing.T) {
	start := time.Now()

	h := CheckHealth(context.Background(), map[string]Caller{
		"slow": slowLister{NewMockCaller("slow")},
	}, 20*time.Millisecond)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, HealthDegraded, h.Status)
	assert.Equal(t, BackendDown, h.Backends[0].Status)
	assert.Contains(t, h.Backends[0].Error, context.DeadlineExceeded.Error())
}

func TestListModels_SkipsFailingBackends(t *testing.T) {
	boom := errors.New("boom")

	models, failed := ListModels(context.Background(), map[string]Caller{
		"a":     NewMockCaller("alpha"),
		"b":     NewMockCaller("beta").FailListing(boom),
		"plain": plainCaller{NewMockCaller("gamma")},
	}, 0)

	assert.Equal(t, []Info{
		{Name: "alpha", Provider: "mock", SupportsTools: true},
		{Name: "gamma", Provider: "mock", SupportsTools: true},
	}, models)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed["b"], boom)
}

func TestMockCaller_ListModelsHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockCaller("m").ListModels(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

var _ Lister = (*MockCaller)(nil)
