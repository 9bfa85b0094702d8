package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// EnvelopeVersion is the current version of the message wire envelope.
const EnvelopeVersion = 1

// EnvelopeTypeMessage is the only envelope type accepted today.
const EnvelopeTypeMessage = "message"

// ErrInvalidEnvelope is returned for payloads that do not match the envelope schema.
var ErrInvalidEnvelope = errors.New("invalid message envelope")

// Envelope is the versioned, discriminated wire shape of a Message. Clients
// submit envelopes; the envelope is validated once on ingress and never
// inspected again downstream.
type Envelope struct {
	Version int     `json:"version"`
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

const envelopeSchema = `{
  "type": "object",
  "required": ["version", "type", "message"],
  "properties": {
    "version": {"type": "integer", "const": 1},
    "type": {"type": "string", "enum": ["message"]},
    "message": {
      "type": "object",
      "required": ["role"],
      "properties": {
        "id": {"type": "string"},
        "role": {"type": "string", "enum": ["user", "assistant", "system", "tool"]},
        "content": {"type": "string"},
        "data": {"type": "object"},
        "name": {"type": "string"},
        "tool_call_id": {"type": "string"},
        "kind": {"type": "string", "enum": ["", "trace"]},
        "tool_calls": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "id": {"type": "string"},
              "name": {"type": "string", "minLength": 1},
              "arguments": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var (
	envelopeOnce   sync.Once
	envelopeLoaded *gojsonschema.Schema
	envelopeErr    error
)

func compiledEnvelopeSchema() (*gojsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		envelopeLoaded, envelopeErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	})

	return envelopeLoaded, envelopeErr
}

// DecodeMessage validates data against the envelope schema and returns the
// enclosed message.
func DecodeMessage(data []byte) (Message, error) {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return Message{}, fmt.Errorf("compile envelope schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}

		return Message{}, fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(msgs, "; "))
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	if err := env.Message.Validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	return env.Message, nil
}

// DecodeMessages decodes a JSON array of envelopes.
func DecodeMessages(data []byte) ([]Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	out := make([]Message, 0, len(raw))
	for i, r := range raw {
		m, err := DecodeMessage(r)
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}

		out = append(out, m)
	}

	return out, nil
}

// EncodeMessage wraps m into a current-version envelope.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(Envelope{Version: EnvelopeVersion, Type: EnvelopeTypeMessage, Message: m})
}
