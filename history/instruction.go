package history

import "context"

// InstructionProvider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the conversation, environment, etc.
type InstructionProvider interface {
	Instruction(ctx context.Context, conversationID string) (string, error)
}

// InstructionFunc is a functional adapter to allow ordinary functions to be used as providers.
type InstructionFunc func(ctx context.Context, conversationID string) (string, error)

// Instruction implements InstructionProvider.
func (f InstructionFunc) Instruction(ctx context.Context, conversationID string) (string, error) {
	return f(ctx, conversationID)
}

// Instruction represents either a static instruction string or a dynamic provider.
type Instruction struct {
	text     string
	provider InstructionProvider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p InstructionProvider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, conversationID string) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx context.Context, conversationID string) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, conversationID)
	}

	return i.text, nil
}
