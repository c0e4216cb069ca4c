package jsondb

import (
	"context"
	"time"

	"github.com/asaidimu/go-jsondb/core"
)

// EventType names the events published by a store and by the migrator.
type EventType string

const (
	PathUpdated    EventType = "jsondb:updated"
	PathDeleted    EventType = "jsondb:deleted"
	MigrateStart   EventType = "migrate:start"
	MigrateSuccess EventType = "migrate:success"
	MigrateFailed  EventType = "migrate:failed"
)

// Event describes a change to the store or a migration step.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`          // Unix milliseconds.
	Path      string    `json:"path,omitempty"`     // Affected path for jsondb:* events.
	Version   int       `json:"version,omitempty"`  // Schema version for migrate:* events.
	Error     *string   `json:"error,omitempty"`    // Failure message for migrate:failed.
	Duration  *int64    `json:"duration,omitempty"` // Milliseconds, for migrate:success and migrate:failed.
}

// EventCallbackFunction receives published events.
type EventCallbackFunction func(ctx context.Context, event Event) error

// SubscriptionOptions configures a subscription.
type SubscriptionOptions struct {
	Event       EventType
	Label       *string
	Description *string
	Callback    EventCallbackFunction
}

// SubscriptionInfo describes an active subscription.
type SubscriptionInfo struct {
	Id          string
	Event       EventType
	Label       *string
	Description *string
	Unsubscribe func() `json:"-"`
}

// NewPathEvent creates a jsondb:* event for path.
func NewPathEvent(eventType EventType, path string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Path:      NormalizePath(path),
	}
}

// NewMigrationEvent creates a migrate:* event. A non-zero startTime records
// the elapsed time, and a non-nil err the failure.
func NewMigrationEvent(eventType EventType, version int, startTime time.Time, err error) Event {
	var duration *int64
	if !startTime.IsZero() {
		duration = core.Int64Ptr(time.Since(startTime).Milliseconds())
	}
	var msg *string
	if err != nil {
		msg = core.StringPtr(err.Error())
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Version:   version,
		Error:     msg,
		Duration:  duration,
	}
}
