package consumer

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// eventRecord is one change-feed row after parsing: the original outbox event
// id, the aggregate it belongs to, its type, and the domain payload.
type eventRecord struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
}

// envelope is the log-based capture wrapper around an eventRecord. Some
// relays publish the record bare; parseRecord handles both.
type envelope struct {
	Payload struct {
		After *eventRecord `json:"after"`
	} `json:"payload"`
}

// parseRecord extracts the event record from a feed message. If payload.after
// is absent the message body itself is treated as the record.
func parseRecord(body []byte) (*eventRecord, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Payload.After != nil {
		return env.Payload.After, nil
	}
	var rec eventRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &rec, nil
}

// domainPayload unwraps the event body, which arrives either as an embedded
// JSON object or as a JSON-encoded string containing one.
func domainPayload(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("unwrap payload string: %w", err)
	}
	return []byte(inner), nil
}
