package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedEvent records a dispatched provider event.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	ProcessedAt time.Time `json:"processed_at"`
}

// EventStore remembers processed webhook event ids so replays skip dispatch.
type EventStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventStore returns redis-backed store.
func NewEventStore(client *redis.Client, ttl time.Duration) *EventStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &EventStore{client: client, ttl: ttl}
}

func (s *EventStore) key(eventID string) string {
	return fmt.Sprintf("webhooks:processed:%s", eventID)
}

// Seen reports whether eventID was already processed.
func (s *EventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed stores the event under its id.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	data, err := json.Marshal(ProcessedEvent{
		EventID:     eventID,
		Type:        eventType,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(eventID), data, s.ttl).Err()
}

// Get returns the stored record, or nil when the id is unknown.
func (s *EventStore) Get(ctx context.Context, eventID string) (*ProcessedEvent, error) {
	result, err := s.client.Get(ctx, s.key(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var event ProcessedEvent
	if err := json.Unmarshal([]byte(result), &event); err != nil {
		return nil, err
	}
	return &event, nil
}
