package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentturn"
	"github.com/hupe1980/agentturn/config"
	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/engine"
	"github.com/hupe1980/agentturn/flow"
	"github.com/hupe1980/agentturn/sink"
)

type runFlags struct {
	conversation string
	trace        bool
	traceTopic   string
	provider     string
	model        string
	variant      string
}

func newRunCommand() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [message...]",
		Short: "Run one turn and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")

			cfg, err := loadConfig(path, f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTurn(ctx, cfg, f, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&f.conversation, "conversation", "", "conversation id to continue")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "print trace events as JSON lines to stderr")
	cmd.Flags().StringVar(&f.traceTopic, "trace-topic", "", "route all events through an in-process watermill topic")
	cmd.Flags().StringVar(&f.provider, "provider", "", "model provider (openai, anthropic, mock)")
	cmd.Flags().StringVar(&f.model, "model", "", "model name")
	cmd.Flags().StringVar(&f.variant, "variant", "", "decision variant (router, intent)")

	return cmd
}

func loadConfig(path string, f runFlags) (*config.Config, error) {
	found, err := config.FindConfig(path)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if found != "" {
		if cfg, err = config.Load(found); err != nil {
			return nil, err
		}
	}

	if f.provider != "" {
		cfg.Provider.Name = f.provider
	}

	if f.model != "" {
		cfg.Provider.Model = f.model
	}

	if f.variant != "" {
		cfg.Decision.Variant = f.variant
	}

	if f.traceTopic != "" {
		cfg.Events.TraceTopic = f.traceTopic
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func runTurn(ctx context.Context, cfg *config.Config, f runFlags, text string, stdout, stderr io.Writer) error {
	logger, err := buildLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}

	caller, err := buildCaller(cfg.Provider)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	defer func() {
		if cerr := closeStore(); cerr != nil {
			logger.Warn("turnctl.store.close_failed", "error", cerr.Error())
		}
	}()

	loc, err := cfg.History.Location()
	if err != nil {
		return err
	}

	traceOut := &lineWriter{w: stderr}

	var (
		sinks   []sink.Sink
		tracing sync.WaitGroup
	)

	closeTrace := func() {}

	if cfg.Events.TraceTopic != "" {
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64, BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
		closeTrace = sync.OnceFunc(func() {
			_ = pubSub.Close()
			tracing.Wait()
		})

		defer closeTrace()

		messages, err := pubSub.Subscribe(ctx, cfg.Events.TraceTopic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.Events.TraceTopic, err)
		}

		sinks = append(sinks, sink.NewWatermillSink(pubSub, cfg.Events.TraceTopic, logger))

		tracing.Add(1)

		go func() {
			defer tracing.Done()

			for msg := range messages {
				if ev, err := sink.DecodeEvent(msg); err == nil && showOnStderr(ev, f.trace) {
					traceOut.writeEvent(ev)
				}

				msg.Ack()
			}
		}()
	}

	at, err := agentturn.New(caller, func(o *agentturn.Options) {
		o.Variant = agentturn.Variant(cfg.Decision.Variant)
		o.Tools = builtinTools(loc)
		o.Store = store
		o.HistoryLimit = cfg.History.Limit
		o.Sinks = sinks
		o.Logger = logger
		o.EngineConfig = engine.Config{MaxConcurrentTurns: cfg.Engine.MaxConcurrentTurns}
		o.Decision = func(d *flow.DecisionOptions) {
			if cfg.Decision.MaxTurns > 0 {
				d.MaxTurns = cfg.Decision.MaxTurns
			}

			d.AllowedTools = cfg.Decision.AllowedTools
			d.Retry = cfg.Decision.Retry
			d.Executor.MaxParallel = cfg.Decision.MaxParallelTools
			d.Executor.ToolTimeout = cfg.Decision.ToolTimeout
		}
		o.Response = func(r *flow.ResponseOptions) {
			r.CallConfig.Timeout = cfg.Response.Timeout
		}
	})
	if err != nil {
		return err
	}

	turn, err := at.Run(ctx, engine.TurnInput{
		ConversationID: f.conversation,
		Messages:       []core.Message{core.NewUserMessage(text)},
		Trace:          f.trace && cfg.Events.TraceTopic == "",
	})
	if err != nil {
		return err
	}

	for ev := range turn.Events() {
		switch {
		case ev.Type == core.EventDelta && ev.Delta != nil:
			fmt.Fprint(stdout, ev.Delta.Text)
		case cfg.Events.TraceTopic == "" && showOnStderr(ev, f.trace):
			traceOut.writeEvent(ev)
		}
	}

	fmt.Fprintln(stdout)

	res, err := turn.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	closeTrace()

	logger.Info("turnctl.turn.complete",
		"conversation_id", res.ConversationID,
		"decision_exit", string(res.DecisionExit),
		"total_tokens", res.Usage.TotalTokens,
	)

	switch {
	case res.RecordErr != nil:
		return fmt.Errorf("record turn: %w", res.RecordErr)
	case res.Cancelled:
		return context.Canceled
	case res.ResponseErr != nil:
		return res.ResponseErr
	case res.DecisionErr != nil && flow.Classify(ctx, res.DecisionErr) == flow.ClassFatalAuth:
		return res.DecisionErr
	}

	fmt.Fprintln(stderr, "conversation:", res.ConversationID)

	return nil
}

// showOnStderr reports whether ev goes to stderr: errors always, everything
// except deltas when tracing.
func showOnStderr(ev core.Event, trace bool) bool {
	if ev.Type == core.EventError {
		return true
	}

	return trace && ev.Type != core.EventDelta
}

// lineWriter prints events as JSON lines.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) writeEvent(ev core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = json.NewEncoder(l.w).Encode(ev)
}
