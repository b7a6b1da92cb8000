// Package eventbus implements the transactional outbox and inbox-deduplicated
// consumer used by every service. Events are written to the outbox table in the
// same transaction as the state change; a background publisher drains the table
// to Kafka. The Kafka topic name equals the event type.
package eventbus

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
