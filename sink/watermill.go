package sink

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/logging"
)

// Metadata keys set on published messages.
const (
	MetadataEventType = "event_type"
	MetadataStage     = "stage"
)

// WatermillSink publishes events to a watermill Publisher so they can be
// distributed to multiple subscribers.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
	logger    logging.Logger
}

// NewWatermillSink creates a sink publishing JSON-encoded events to topic.
func NewWatermillSink(publisher message.Publisher, topic string, logger logging.Logger) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
		logger:    logging.OrNoOp(logger),
	}
}

// PublishEvent implements Sink.
func (w *WatermillSink) PublishEvent(ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("sink.watermill.marshal_failed", "event_type", string(ev.Type), "error", err.Error())
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEventType, string(ev.Type))
	msg.Metadata.Set(MetadataStage, string(ev.Stage))

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		w.logger.Error("sink.watermill.publish_failed", "topic", w.topic, "error", err.Error())
		return err
	}

	w.logger.Debug("sink.watermill.published", "topic", w.topic, "event_type", string(ev.Type))

	return nil
}

// DecodeEvent decodes the payload of a message published by WatermillSink.
func DecodeEvent(msg *message.Message) (core.Event, error) {
	var ev core.Event
	err := json.Unmarshal(msg.Payload, &ev)

	return ev, err
}

var _ Sink = (*WatermillSink)(nil)
