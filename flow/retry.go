package flow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/util"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/model"
)

// ErrorClass categorizes a failed model call.
type ErrorClass string

const (
	// ClassInvalidToolName marks a response calling an unknown tool.
	ClassInvalidToolName ErrorClass = "invalid_tool_name"
	// ClassInvalidJSONArgs marks tool arguments that are not valid JSON or
	// do not satisfy the tool schema.
	ClassInvalidJSONArgs ErrorClass = "invalid_json_args"
	// ClassRateLimited marks provider throttling (HTTP 429).
	ClassRateLimited ErrorClass = "rate_limited"
	// ClassFatalAuth marks authentication or authorization failures.
	ClassFatalAuth ErrorClass = "fatal_auth"
	// ClassCancelled marks a cancelled caller context.
	ClassCancelled ErrorClass = "cancelled"
	// ClassTransient is everything else.
	ClassTransient ErrorClass = "transient"
)

// Retryable reports whether a failure of this class is retried.
func (c ErrorClass) Retryable() bool {
	return c != ClassFatalAuth && c != ClassCancelled
}

// CallError describes a model response that was rejected after the call
// itself succeeded.
type CallError struct {
	Class ErrorClass
	Tool  string
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: tool %q: %v", e.Class, e.Tool, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error { return e.Err }

// Classify maps err to its ErrorClass. ctx is the caller context of the
// failed call.
func Classify(ctx context.Context, err error) ErrorClass {
	if (ctx != nil && ctx.Err() != nil) || errors.Is(err, context.Canceled) {
		return ClassCancelled
	}

	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Class
	}

	if code, ok := model.StatusCode(err); ok {
		switch code {
		case http.StatusTooManyRequests:
			return ClassRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassFatalAuth
		}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ClassRateLimited
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "invalid api key"):
		return ClassFatalAuth
	default:
		return ClassTransient
	}
}

// RetryConfig bounds the retrying call policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryConfig returns three attempts with 500ms base backoff capped at 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Backoff returns the rate-limit delay after the failed attempt (0-based).
// The cap is applied on the float value so large attempts cannot overflow.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(2, float64(max(attempt, 0)))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}

	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d)
}

// RetryOptions configures a Retrier.
type RetryOptions struct {
	RetryConfig
	Stage  core.Stage
	Sleep  SleepFunc
	Logger logging.Logger
}

// Retrier wraps one logical model call with validation and retries.
type Retrier struct {
	opts RetryOptions
}

// NewRetrier creates a Retrier. Defaults: DefaultRetryConfig, decision stage.
func NewRetrier(optFns ...func(o *RetryOptions)) *Retrier {
	opts := RetryOptions{
		RetryConfig: DefaultRetryConfig(),
		Stage:       core.StageDecision,
		Sleep:       Sleep,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Retrier{opts: opts}
}

// RetryRequest is one logical model call. Nil Tools selects a tool-free call.
type RetryRequest struct {
	Messages []core.Message
	Config   model.CallConfig
	Tools    []model.ToolDefinition
	// CallIDs assigns ids to accepted tool calls. Nil allocates one that
	// only knows the ids in Messages.
	CallIDs *core.CallIDs
}

// RetryOutcome is the accepted assistant message plus one error event per
// retried attempt.
type RetryOutcome struct {
	Message     core.Message
	Usage       *core.TokenUsage
	ErrorEvents []core.Event
	Attempts    int
}

// Call performs the request, validating tool calls against req.Tools and
// retrying per ErrorClass. Fatal-auth and cancellation errors are returned
// unchanged without retry; an exhausted budget returns the last error.
func (r *Retrier) Call(ctx context.Context, caller model.Caller, req RetryRequest) (RetryOutcome, error) {
	var (
		out     RetryOutcome
		lastErr error
	)

	working := core.CloneMessages(req.Messages)

	ids := req.CallIDs
	if ids == nil {
		ids = core.NewCallIDs(req.Messages...)
	}
	schemas := make(map[string]map[string]any, len(req.Tools))
	names := make([]string, 0, len(req.Tools))

	for _, d := range req.Tools {
		schemas[d.Function.Name] = d.Function.Parameters
		names = append(names, d.Function.Name)
	}

	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		out.Attempts++

		comp, err := r.invoke(ctx, caller, working, req)
		if err == nil {
			err = validateToolCalls(comp.Message, schemas, req.Tools != nil)
		}

		if err == nil {
			msg := comp.Message.Clone()
			msg.Role = core.RoleAssistant
			msg.ToolCalls = ids.Assign(msg.ToolCalls)

			if msg.ID == "" {
				msg.ID = core.NewID()
			}

			out.Message = msg
			out.Usage = comp.Usage

			return out, nil
		}

		class := Classify(ctx, err)
		if !class.Retryable() {
			return out, err
		}

		lastErr = err

		if attempt == r.opts.MaxAttempts-1 {
			break
		}

		r.opts.Logger.Warn("flow.retry.attempt_failed", "class", string(class), "attempt", attempt+1, "error", err.Error())

		out.ErrorEvents = append(out.ErrorEvents, core.NewErrorEvent(r.opts.Stage,
			fmt.Sprintf("model call failed (%s), retrying", class),
			map[string]any{"class": string(class), "attempt": attempt + 1, "error": err.Error()},
		))

		switch class {
		case ClassInvalidToolName:
			var ce *CallError
			errors.As(err, &ce)
			working = append(working, core.NewFeedbackMessage(fmt.Sprintf(
				"Tool %q does not exist. Available tools: %s. Call one of the available tools or answer without tools.",
				ce.Tool, strings.Join(names, ", "))))
		case ClassInvalidJSONArgs:
			var ce *CallError
			errors.As(err, &ce)
			working = append(working, core.NewFeedbackMessage(fmt.Sprintf(
				"Arguments for tool %q were rejected: %v. Provide arguments as a JSON object matching the tool schema.",
				ce.Tool, ce.Err)))
		case ClassRateLimited:
			if err := r.opts.Sleep(ctx, r.opts.Backoff(attempt)); err != nil {
				return out, err
			}
		}
	}

	return out, lastErr
}

func (r *Retrier) invoke(ctx context.Context, caller model.Caller, msgs []core.Message, req RetryRequest) (*model.Completion, error) {
	var (
		comp *model.Completion
		err  error
	)

	if req.Tools == nil {
		comp, err = caller.Complete(ctx, msgs, req.Config)
	} else {
		comp, err = caller.CompleteWithTools(ctx, msgs, req.Config, req.Tools)
	}

	if err == nil && comp == nil {
		err = errors.New("model returned no completion")
	}

	return comp, err
}

func validateToolCalls(msg core.Message, schemas map[string]map[string]any, toolsBound bool) error {
	for _, tc := range msg.ToolCalls {
		schema, ok := schemas[tc.Name]
		if !ok || !toolsBound {
			return &CallError{Class: ClassInvalidToolName, Tool: tc.Name, Err: errors.New("unknown tool")}
		}

		args, err := util.ParseArguments(tc.Arguments)
		if err != nil {
			return &CallError{Class: ClassInvalidJSONArgs, Tool: tc.Name, Err: err}
		}

		if err := util.ValidateParameters(args, schema); err != nil {
			return &CallError{Class: ClassInvalidJSONArgs, Tool: tc.Name, Err: err}
		}
	}

	return nil
}
