package model

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"github.com/hupe1980/agentturn/core"
)

// CharsPerToken is the fixed divisor of the character based token heuristic.
const CharsPerToken = 4

// perMessageOverhead approximates role and separator tokens of chat formats.
const perMessageOverhead = 3

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func defaultCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Encoding("cl100k_base"))
	})

	return codec, codecErr
}

// EstimateTokens estimates the prompt size of msgs with the cl100k_base
// tokenizer, falling back to the character heuristic per message.
func EstimateTokens(msgs []core.Message) int {
	c, err := defaultCodec()

	total := 0

	for _, m := range msgs {
		text := messageText(m)
		total += perMessageOverhead

		if err == nil {
			if ids, _, encErr := c.Encode(text); encErr == nil {
				total += len(ids)
				continue
			}
		}

		total += EstimateTextTokens(text)
	}

	return total
}

// EstimateTextTokens applies the fixed-divisor heuristic to text.
func EstimateTextTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}

	return (n + CharsPerToken - 1) / CharsPerToken
}

func messageText(m core.Message) string {
	text := m.Content
	if m.Name != "" {
		text += " " + m.Name
	}

	for _, tc := range m.ToolCalls {
		text += " " + tc.Name + " " + tc.Arguments
	}

	return text
}
