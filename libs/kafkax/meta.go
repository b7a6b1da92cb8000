// Package kafkax carries the Kafka conventions the poolbook services agree
// on: topic == event type, event_id/event_type headers, comma-separated
// broker lists in config.
package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// EventMeta is the metadata every published message carries in headers.
// Consumers key their inbox dedup on EventID.
type EventMeta struct {
	EventID   string
	EventType string
}

// ExtractEventMeta reads the standard headers, falling back to the message
// key and topic for messages produced by something other than the outbox
// publisher (re-drives, test tooling).
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, "event_id"),
		EventType: HeaderValue(msg.Headers, "event_type"),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
