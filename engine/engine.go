package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/flow"
	"github.com/hupe1980/agentturn/history"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/session"
	"github.com/hupe1980/agentturn/sink"
)

var (
	// ErrEmptyInput is returned by Run when a turn carries no messages.
	ErrEmptyInput = errors.New("turn input has no messages")

	// ErrTurnNotFound is returned by Cancel for unknown or finished turns.
	ErrTurnNotFound = errors.New("turn not found")
)

// Config defines tuning parameters of an Engine.
//
// Example:
//
//	cfg := Config{MaxConcurrentTurns: 50}
type Config struct {
	// MaxConcurrentTurns bounds turns running at the same time. Run blocks
	// until a slot is free or its context is done. 0 means unlimited.
	MaxConcurrentTurns int
}

// DefaultConfig provides the default engine configuration.
var DefaultConfig = Config{
	MaxConcurrentTurns: 10,
}

// Recorder persists produced messages.
type Recorder interface {
	RecordMessage(ctx context.Context, conversationID string, msg core.Message) error
}

// Options configures an Engine.
//
// Store serves as both recorder and history provider unless Recorder or
// History override one side.
type Options struct {
	Config Config

	// Store defaults to session.NewInMemoryStore().
	Store    session.Store
	Recorder Recorder
	History  history.Provider

	// Assembler overrides the context assembler built from History,
	// HistoryLimit and Location.
	Assembler    *history.Assembler
	HistoryLimit int
	Location     *time.Location

	Sinks  []sink.Sink
	Hooks  *Hooks
	Logger logging.Logger
}

// Engine composes context assembly, the decision harness and the response
// harness into turns with one ordered event stream.
type Engine struct {
	decision  *flow.DecisionHarness
	response  *flow.ResponseHarness
	assembler *history.Assembler
	recorder  Recorder
	sinks     sink.Multi
	hooks     *Hooks
	logger    logging.Logger

	slots chan struct{}

	mu     sync.Mutex
	active map[string]*Turn
}

// New creates an Engine running decision and then response on every turn.
func New(decision *flow.DecisionHarness, response *flow.ResponseHarness, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}

	if opts.Recorder == nil {
		opts.Recorder = opts.Store
	}

	if opts.History == nil {
		opts.History = opts.Store
	}

	if opts.Assembler == nil {
		opts.Assembler = history.NewAssembler(opts.History, func(o *history.Options) {
			o.Limit = opts.HistoryLimit
			o.Location = opts.Location
			o.Logger = opts.Logger
		})
	}

	if opts.Hooks == nil {
		opts.Hooks = NewHooks(opts.Logger)
	}

	e := &Engine{
		decision:  decision,
		response:  response,
		assembler: opts.Assembler,
		recorder:  opts.Recorder,
		sinks:     sink.Multi(opts.Sinks),
		hooks:     opts.Hooks,
		logger:    opts.Logger,
		active:    make(map[string]*Turn),
	}

	if opts.Config.MaxConcurrentTurns > 0 {
		e.slots = make(chan struct{}, opts.Config.MaxConcurrentTurns)
	}

	return e
}

// Hooks returns the hook service of the engine.
func (e *Engine) Hooks() *Hooks { return e.hooks }

// TurnInput is the client input of one turn.
type TurnInput struct {
	// ConversationID selects the history. Empty starts a new conversation.
	ConversationID string
	Messages       []core.Message
	// Trace forwards llm_call, tool_call and context_update events.
	Trace bool
}

// Result is the outcome of a turn.
type Result struct {
	TurnID         string
	ConversationID string
	// FinalMessages holds the streamed assistant answer.
	FinalMessages []core.Message
	Usage         core.TokenUsage
	DecisionExit  flow.Exit
	DecisionErr   error
	ResponseErr   error
	Cancelled     bool
	// RecordErr joins every recorder failure of the turn.
	RecordErr error
}

// Turn is a running turn.
type Turn struct {
	id             string
	conversationID string

	events *fifo[core.Event]
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// ID returns the turn id used by Engine.Cancel.
func (t *Turn) ID() string { return t.id }

// ConversationID returns the conversation the turn belongs to.
func (t *Turn) ConversationID() string { return t.conversationID }

// Events streams the turn's events in order. The channel closes after the
// last event. The turn never waits for a reader.
func (t *Turn) Events() <-chan core.Event { return t.events.Out() }

// Close stops event delivery. The turn itself keeps running.
func (t *Turn) Close() { t.events.release() }

// Done is closed once the result is available.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finished and its messages were recorded.
func (t *Turn) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run starts a turn and returns immediately. Input messages are validated
// here; the ones not already in history get ids and are recorded once the
// turn has fetched its history.
func (e *Engine) Run(ctx context.Context, in TurnInput) (*Turn, error) {
	if len(in.Messages) == 0 {
		return nil, ErrEmptyInput
	}

	input := make([]core.Message, 0, len(in.Messages))

	for i, m := range in.Messages {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}

		m = m.Clone()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}

		input = append(input, m)
	}

	conversationID := in.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	turnID := uuid.NewString()

	if err := e.hooks.Fire(ctx, HookBeforeTurn, &HookContext{
		TurnID:         turnID,
		ConversationID: conversationID,
		Input:          core.CloneMessages(input),
	}); err != nil {
		return nil, fmt.Errorf("before_turn hook: %w", err)
	}

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)

	t := &Turn{
		id:             turnID,
		conversationID: conversationID,
		events:         newFIFO[core.Event](),
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	e.mu.Lock()
	e.active[turnID] = t
	e.mu.Unlock()

	go e.runTurn(turnCtx, t, in.Trace, input)

	return t, nil
}

// RunSync runs a turn to completion and returns its result with every
// delivered event.
func (e *Engine) RunSync(ctx context.Context, in TurnInput) (Result, []core.Event, error) {
	t, err := e.Run(ctx, in)
	if err != nil {
		return Result{}, nil, err
	}

	var events []core.Event
	for ev := range t.Events() {
		events = append(events, ev)
	}

	res, err := t.Wait(ctx)
	if err != nil {
		return Result{}, events, err
	}

	return res, events, nil
}

// Cancel stops a running turn. The response stream still terminates with
// its final delta.
func (e *Engine) Cancel(turnID string) error {
	e.mu.Lock()
	t, ok := e.active[turnID]
	e.mu.Unlock()

	if !ok {
		return ErrTurnNotFound
	}

	t.cancel()

	return nil
}

// ActiveTurns returns the ids of running turns, sorted.
func (e *Engine) ActiveTurns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.slots == nil {
		return nil
	}

	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseSlot() {
	if e.slots != nil {
		<-e.slots
	}
}

func (e *Engine) turnLogger(conversationID, turnID string) logging.Logger {
	if tl, ok := e.logger.(*logging.TurnLogger); ok {
		return tl.WithTurn(conversationID, turnID)
	}

	return e.logger
}

// turnRun holds the per-turn plumbing shared by the stages.
type turnRun struct {
	engine *Engine
	ctx    context.Context
	turn   *Turn
	trace  bool
	logger logging.Logger

	emitMu   sync.Mutex
	recorder *recordQueue
}

func (e *Engine) runTurn(ctx context.Context, t *Turn, trace bool, input []core.Message) {
	start := time.Now()
	logger := e.turnLogger(t.conversationID, t.id)

	r := &turnRun{
		engine: e,
		ctx:    ctx,
		turn:   t,
		trace:  trace,
		logger: logger,
		// Writes outlive cancellation of the turn.
		recorder: newRecordQueue(context.WithoutCancel(ctx), e.recorder, t.conversationID, logger),
	}

	defer func() {
		t.cancel()

		e.mu.Lock()
		delete(e.active, t.id)
		e.mu.Unlock()

		e.releaseSlot()
		close(t.done)
	}()

	logger.Info("engine.turn.start", "turn_id", t.id, "conversation_id", t.conversationID, "inputs", len(input), "trace", trace)

	assembled := r.assemble(input)

	decision := e.decision.Run(ctx, flow.DecisionRequest{
		ConversationID: t.conversationID,
		Context:        assembled,
	}, flow.Observer{OnEvent: r.emit, OnMessage: r.record})

	if decision.Err != nil {
		logger.Warn("engine.decision.failed", "exit", string(decision.Exit), "error", decision.Err.Error())
	}

	response := e.response.Run(ctx, r.responseContext(decision), flow.Observer{OnEvent: r.emit})

	res := Result{
		TurnID:         t.id,
		ConversationID: t.conversationID,
		Usage:          decision.Usage.Add(response.Usage),
		DecisionExit:   decision.Exit,
		DecisionErr:    decision.Err,
		ResponseErr:    response.Err,
		Cancelled:      response.Cancelled,
	}

	if response.Message.Content != "" {
		res.FinalMessages = []core.Message{response.Message}
		r.record(response.Message)
	}

	res.RecordErr = r.recorder.finish()
	t.result = res
	t.events.close()

	e.hooks.Notify(ctx, HookAfterTurn, &HookContext{TurnID: t.id, ConversationID: t.conversationID, Result: &res})

	logger.Info("engine.turn.complete",
		"turn_id", t.id,
		"decision_exit", string(res.DecisionExit),
		"final_messages", len(res.FinalMessages),
		"total_tokens", res.Usage.TotalTokens,
		"cancelled", res.Cancelled,
		"record_failed", res.RecordErr != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// emit publishes ev to sinks and hooks and forwards it to the client unless
// it is a trace event of a non-trace turn.
func (r *turnRun) emit(ev core.Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	e := r.engine

	if len(e.sinks) > 0 {
		if err := e.sinks.PublishEvent(ev); err != nil {
			r.logger.Warn("engine.sink.publish_failed", "event_type", string(ev.Type), "error", err.Error())
		}
	}

	hc := &HookContext{TurnID: r.turn.id, ConversationID: r.turn.conversationID, Event: &ev}
	e.hooks.Notify(r.ctx, HookOnEvent, hc)

	if ev.Type == core.EventError {
		e.hooks.Notify(r.ctx, HookOnError, &HookContext{TurnID: r.turn.id, ConversationID: r.turn.conversationID, Event: &ev})
	}

	if ev.IsTrace() && !r.trace {
		return
	}

	r.turn.events.push(ev)
}

func (r *turnRun) record(m core.Message) {
	r.recorder.push(m)
	r.engine.hooks.Notify(r.ctx, HookOnMessage, &HookContext{TurnID: r.turn.id, ConversationID: r.turn.conversationID, Message: &m})
}

// assemble records the new input and builds the decision context. Input
// that re-sends stored history is neither recorded nor repeated. A render
// failure is reported as an error event and falls back to the bare
// instruction.
func (r *turnRun) assemble(input []core.Message) []core.Message {
	d := r.engine.decision
	a := r.engine.assembler

	w := a.Prepare(r.ctx, r.turn.conversationID, input)

	for i := range w.Input {
		if w.Input[i].ID == "" {
			w.Input[i].ID = core.NewID()
		}

		r.record(w.Input[i])
	}

	assembled, err := a.Build(r.ctx, history.Request{
		ConversationID: r.turn.conversationID,
		Tools:          d.Tools().Definitions(),
		Instruction:    d.Instruction(),
	}, w)
	if err == nil {
		return assembled
	}

	r.logger.Warn("engine.assembly.failed", "error", err.Error())
	r.emit(core.NewErrorEvent(core.StageAssembly, "context assembly failed", map[string]any{"error": err.Error()}))

	out := make([]core.Message, 0, 1+len(w.History)+len(w.Input))
	out = append(out, core.NewSystemMessage(d.Instruction()))
	out = append(out, w.History...)

	return append(out, w.Input...)
}

// responseContext swaps the decision system message for the response
// instruction plus a note on how the decision stage ended.
func (r *turnRun) responseContext(decision flow.DecisionResult) []core.Message {
	body := decision.Context
	if len(body) > 0 && body[0].Role == core.RoleSystem {
		body = body[1:]
	}

	system, err := r.engine.assembler.SystemMessage(r.ctx, history.Prompt{
		ConversationID: r.turn.conversationID,
		Instruction:    r.engine.response.Instruction(),
		Extra:          decisionNotes(decision),
	})
	if err != nil {
		r.logger.Warn("engine.response_prompt.failed", "error", err.Error())
		system = core.NewSystemMessage(r.engine.response.Instruction())
	}

	out := make([]core.Message, 0, len(body)+1)
	out = append(out, system)

	return append(out, body...)
}

func decisionNotes(d flow.DecisionResult) []string {
	switch d.Exit {
	case flow.ExitError:
		return []string{"The tool stage failed. Answer as well as possible from the conversation so far."}
	case flow.ExitMaxTurns:
		return []string{"The tool stage reached its turn limit. Answer with the information gathered so far."}
	case flow.ExitNoTools:
		if d.Final != nil && d.Final.Content != "" {
			return []string{"Notes from the tool stage: " + d.Final.Content}
		}
	}

	return nil
}

// recordQueue persists messages in order on its own goroutine.
type recordQueue struct {
	queue *fifo[core.Message]
	done  chan struct{}
	errs  []error
}

func newRecordQueue(ctx context.Context, rec Recorder, conversationID string, logger logging.Logger) *recordQueue {
	q := &recordQueue{queue: newFIFO[core.Message](), done: make(chan struct{})}

	go func() {
		defer close(q.done)

		for m := range q.queue.Out() {
			if err := rec.RecordMessage(ctx, conversationID, m); err != nil {
				logger.Error("engine.record.failed", "message_id", m.ID, "role", string(m.Role), "error", err.Error())
				q.errs = append(q.errs, fmt.Errorf("record message %s: %w", m.ID, err))
			}
		}
	}()

	return q
}

func (q *recordQueue) push(m core.Message) { q.queue.push(m) }

// finish waits for pending writes and returns their joined failures.
func (q *recordQueue) finish() error {
	q.queue.close()
	<-q.done

	return errors.Join(q.errs...)
}
