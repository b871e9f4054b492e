// internal/store/journal.go
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	AggregateUser = "user"
	AggregateBook = "book"

	EventUserAdded    = "UserAdded"
	EventBookAdded    = "BookAdded"
	EventCopiesMerged = "BookCopiesMerged"
	EventBookBorrowed = "BookBorrowed"
	EventBookReturned = "BookReturned"
)

// NewEvent builds a journal entry with a fresh id and a JSON payload.
func NewEvent(aggregateType string, aggregateID int, eventType string, data any) (Event, error) {
	payload, err := jsonAPI.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodePayload unmarshals an event payload into v.
func (e Event) DecodePayload(v any) error {
	return jsonAPI.Unmarshal(e.Payload, v)
}
