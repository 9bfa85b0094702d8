package main

import (
	"fmt"
	"io"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentturn/config"
	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/model"
	"github.com/hupe1980/agentturn/model/anthropic"
	"github.com/hupe1980/agentturn/model/openai"
	"github.com/hupe1980/agentturn/session"
	"github.com/hupe1980/agentturn/session/sqlite"
	"github.com/hupe1980/agentturn/tool"
)

func buildCaller(p config.ProviderConfig) (model.Caller, error) {
	switch p.Name {
	case "openai":
		var opts []option.RequestOption
		if key := p.APIKey(); key != "" {
			opts = append(opts, option.WithAPIKey(key))
		}

		if p.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(p.BaseURL))
		}

		client := openaisdk.NewClient(opts...)

		return openai.NewCallerFromClient(&client, func(o *openai.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}

			if p.Temperature != nil {
				o.Temperature = *p.Temperature
			}

			if p.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(p.MaxTokens)
			}
		}), nil
	case "anthropic":
		return anthropic.NewCaller(func(o *anthropic.Options) {
			if p.Model != "" {
				o.Model = anthropicsdk.Model(p.Model)
			}

			if p.Temperature != nil {
				o.Temperature = *p.Temperature
			}

			if p.MaxTokens > 0 {
				o.MaxTokens = int64(p.MaxTokens)
			}

			o.APIKey = p.APIKey()
			o.BaseURL = p.BaseURL
		}), nil
	case "mock":
		return model.NewMockCaller("mock"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

// openStore returns the configured store and a close function.
func openStore(s config.StoreConfig) (session.Store, func() error, error) {
	switch s.Driver {
	case "sqlite":
		st, err := sqlite.Open(s.DSN)
		if err != nil {
			return nil, nil, err
		}

		return st, st.Close, nil
	default:
		return session.NewInMemoryStore(), func() error { return nil }, nil
	}
}

func buildLogger(l config.LogConfig, w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	if l.Format == "console" {
		return logging.NewConsoleLogger(w, level), nil
	}

	cfg := logging.DefaultLoggerConfig()
	cfg.Level = level
	cfg.Format = l.Format
	cfg.Output = w
	cfg.Component = "turnctl"

	return logging.NewLogger(cfg), nil
}

type clockArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name; defaults to the local zone"`
}

// builtinTools are the tools turnctl offers the decision stage.
func builtinTools(loc *time.Location) []tool.Tool {
	clock := tool.NewTypedTool("current_time", "Return the current date and time", func(_ *core.ToolContext, args clockArgs) (any, error) {
		zone := loc

		if args.Timezone != "" {
			l, err := time.LoadLocation(args.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", args.Timezone)
			}

			zone = l
		}

		return time.Now().In(zone).Format(time.RFC1123), nil
	})

	return []tool.Tool{clock}
}
