package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/util"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/model"
)

// DefaultLimit is the number of recent history messages fetched per turn.
const DefaultLimit = 20

// DefaultSystemTemplate renders the turn system message. It receives a
// PromptData value and has the sprig function library available.
const DefaultSystemTemplate = `{{ .Instruction }}
{{- range .Extra }}

{{ . }}
{{- end }}

Current time: {{ .Now | date "2006-01-02 15:04:05 MST" }} ({{ .Timezone }})
{{- if .Tools }}

Available tools:
{{- range .Tools }}
- {{ .Function.Name }}: {{ .Function.Description }}
  Parameters: {{ .Function.Parameters | toJson }}
{{- end }}
{{- end }}`

// Provider supplies the recent messages of a conversation, oldest first.
type Provider interface {
	GetMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, conversationID string, limit int) ([]core.Message, error)

// GetMessages implements Provider.
func (f ProviderFunc) GetMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	return f(ctx, conversationID, limit)
}

// Options configures an Assembler.
type Options struct {
	Limit       int
	Instruction Instruction
	// Template overrides DefaultSystemTemplate.
	Template string
	Location *time.Location
	Now      func() time.Time
	Logger   logging.Logger
}

// Assembler builds the turn context from history, new input and tools.
type Assembler struct {
	provider Provider
	opts     Options
	tmpl     *util.PromptTemplate
}

// NewAssembler creates an Assembler. A nil provider means no history.
func NewAssembler(provider Provider, optFns ...func(o *Options)) *Assembler {
	opts := Options{
		Limit:    DefaultLimit,
		Template: DefaultSystemTemplate,
		Location: time.Local,
		Now:      time.Now,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	if opts.Location == nil {
		opts.Location = time.Local
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Template == "" {
		opts.Template = DefaultSystemTemplate
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Assembler{provider: provider, opts: opts, tmpl: util.NewPromptTemplate(opts.Template)}
}

// Request is the input of Assemble.
type Request struct {
	ConversationID string
	Input          []core.Message
	Tools          []model.ToolDefinition
	// Instruction overrides the configured instruction when set.
	Instruction string
}

// Prompt describes one system message.
type Prompt struct {
	ConversationID string
	Instruction    string
	Extra          []string
	Tools          []model.ToolDefinition
}

// PromptData is the data passed to the system template.
type PromptData struct {
	Instruction string
	Extra       []string
	Now         time.Time
	Timezone    string
	Tools       []model.ToolDefinition
}

// Window is the material of one turn context before the system message is
// rendered.
type Window struct {
	// History is the fetched history without system and trace messages and
	// without tool results whose call lies outside the window.
	History []core.Message
	// Input is the part of the input not already in History, system
	// messages removed.
	Input []core.Message
	// Extra holds the contents of input system messages.
	Extra []string
}

// Prepare fetches history and splits input into what is new. A failing
// history provider is logged and treated as empty history.
func (a *Assembler) Prepare(ctx context.Context, conversationID string, input []core.Message) Window {
	var (
		w    Window
		body []core.Message
	)

	for _, m := range StripTrace(input) {
		if m.Role == core.RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				w.Extra = append(w.Extra, m.Content)
			}

			continue
		}

		body = append(body, m)
	}

	fetched := a.fetch(ctx, conversationID)
	past := make([]core.Message, 0, len(fetched))

	for _, m := range StripTrace(fetched) {
		if m.Role != core.RoleSystem {
			past = append(past, m)
		}
	}

	w.History = Dedupe(DropOrphanResults(past))
	if dropped := len(past) - len(w.History); dropped > 0 {
		a.opts.Logger.Debug("history.window.trimmed", "conversation_id", conversationID, "dropped", dropped)
	}

	merged := Dedupe(w.History, body)
	w.Input = merged[len(w.History):]

	return w
}

// Assemble returns the turn context: one system message followed by the
// deduplicated history and input.
func (a *Assembler) Assemble(ctx context.Context, req Request) ([]core.Message, error) {
	return a.Build(ctx, req, a.Prepare(ctx, req.ConversationID, req.Input))
}

// Build renders the system message for req and prepends it to w. req.Input
// is not consulted.
func (a *Assembler) Build(ctx context.Context, req Request, w Window) ([]core.Message, error) {
	sys, err := a.SystemMessage(ctx, Prompt{
		ConversationID: req.ConversationID,
		Instruction:    req.Instruction,
		Extra:          w.Extra,
		Tools:          req.Tools,
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.Message, 0, 1+len(w.History)+len(w.Input))
	out = append(out, sys)
	out = append(out, w.History...)
	out = append(out, w.Input...)

	a.opts.Logger.Debug("history.assembled",
		"conversation_id", req.ConversationID,
		"history", len(w.History),
		"input", len(w.Input),
		"context", len(out),
	)

	return out, nil
}

// SystemMessage renders a system message for p. An empty p.Instruction
// falls back to the configured instruction.
func (a *Assembler) SystemMessage(ctx context.Context, p Prompt) (core.Message, error) {
	instruction := p.Instruction
	if instruction == "" {
		resolved, err := a.opts.Instruction.Resolve(ctx, p.ConversationID)
		if err != nil {
			return core.Message{}, fmt.Errorf("resolve instruction: %w", err)
		}

		instruction = resolved
	}

	now := a.opts.Now().In(a.opts.Location)

	text, err := a.tmpl.Render(PromptData{
		Instruction: instruction,
		Extra:       p.Extra,
		Now:         now,
		Timezone:    zoneName(now),
		Tools:       p.Tools,
	})
	if err != nil {
		return core.Message{}, fmt.Errorf("render system prompt: %w", err)
	}

	return core.NewSystemMessage(strings.TrimSpace(text)), nil
}

func (a *Assembler) fetch(ctx context.Context, conversationID string) []core.Message {
	if a.provider == nil || conversationID == "" {
		return nil
	}

	msgs, err := a.provider.GetMessages(ctx, conversationID, a.opts.Limit)
	if err != nil {
		a.opts.Logger.Warn("history.fetch.failed", "conversation_id", conversationID, "error", err.Error())
		return nil
	}

	if len(msgs) > a.opts.Limit {
		msgs = msgs[len(msgs)-a.opts.Limit:]
	}

	return msgs
}

// zoneName is the IANA name of now's location, or its abbreviation and
// offset for the process-local zone, which only knows itself as "Local".
func zoneName(now time.Time) string {
	if name := now.Location().String(); name != "" && name != "Local" {
		return name
	}

	return now.Format("MST -07:00")
}
