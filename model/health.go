package model

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultHealthTimeout bounds each backend check of CheckHealth.
const DefaultHealthTimeout = 2 * time.Second

// Lister is implemented by callers that can enumerate the models their
// provider serves. A successful listing doubles as a reachability check.
type Lister interface {
	ListModels(ctx context.Context) ([]Info, error)
}

// Backend status values reported by CheckHealth.
const (
	BackendUp    = "up"
	BackendError = "error" // reachable, but answered with an HTTP error
	BackendDown  = "down"  // unreachable or timed out
)

// Overall status values reported by CheckHealth.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// BackendHealth is the outcome of checking one backend.
type BackendHealth struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	Models     int    `json:"models"`
}

// Health aggregates backend checks. Status is HealthOK only when every
// backend is up.
type Health struct {
	Status   string          `json:"status"`
	Backends []BackendHealth `json:"backends"`
}

// CheckHealth lists the models of every backend concurrently, each bounded by
// timeout (DefaultHealthTimeout when <= 0). Backends that cannot list models
// are reported up with their Info as the only model. Results keep the order
// of the sorted backend names.
func CheckHealth(ctx context.Context, backends map[string]Caller, timeout time.Duration) Health {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}

	names := sortedNames(backends)
	results := make([]BackendHealth, len(names))

	var g errgroup.Group

	for i, name := range names {
		g.Go(func() error {
			results[i] = checkBackend(ctx, name, backends[name], timeout)
			return nil
		})
	}

	_ = g.Wait()

	h := Health{Status: HealthOK, Backends: results}

	for _, r := range results {
		if r.Status != BackendUp {
			h.Status = HealthDegraded
		}
	}

	return h
}

func checkBackend(ctx context.Context, name string, c Caller, timeout time.Duration) BackendHealth {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	models, err := listModels(ctx, c)
	if err != nil {
		bh := BackendHealth{Name: name, Status: BackendDown, Error: err.Error()}
		if code, ok := StatusCode(err); ok {
			bh.Status = BackendError
			bh.StatusCode = code
		}

		return bh
	}

	return BackendHealth{Name: name, Status: BackendUp, Models: len(models)}
}

// ListModels collects the models of all backends. A failing backend
// contributes nothing; its error is reported in the returned map.
func ListModels(ctx context.Context, backends map[string]Caller, timeout time.Duration) ([]Info, map[string]error) {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}

	names := sortedNames(backends)
	lists := make([][]Info, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group

	for i, name := range names {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			lists[i], errs[i] = listModels(ctx, backends[name])

			return nil
		})
	}

	_ = g.Wait()

	var (
		out    []Info
		failed map[string]error
	)

	for i, name := range names {
		if errs[i] != nil {
			if failed == nil {
				failed = make(map[string]error)
			}

			failed[name] = errs[i]

			continue
		}

		out = append(out, lists[i]...)
	}

	return out, failed
}

func listModels(ctx context.Context, c Caller) ([]Info, error) {
	if l, ok := c.(Lister); ok {
		return l.ListModels(ctx)
	}

	return []Info{c.Info()}, nil
}

func sortedNames(backends map[string]Caller) []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
