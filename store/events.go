package store

import (
	"context"
	"time"
)

// StoreEventType defines the events the store emits around writes and blob
// assembly.
type StoreEventType string

const (
	DocumentInsertStart    StoreEventType = "document:insert:start"
	DocumentInsertSuccess  StoreEventType = "document:insert:success"
	DocumentInsertFailed   StoreEventType = "document:insert:failed"
	ViewInsertStart        StoreEventType = "view:insert:start"
	ViewInsertSuccess      StoreEventType = "view:insert:success"
	ViewInsertFailed       StoreEventType = "view:insert:failed"
	OperationInsertStart   StoreEventType = "operation:insert:start"
	OperationInsertSuccess StoreEventType = "operation:insert:success"
	OperationInsertFailed  StoreEventType = "operation:insert:failed"
	BlobAssembleStart      StoreEventType = "blob:assemble:start"
	BlobAssembleSuccess    StoreEventType = "blob:assemble:success"
	BlobAssembleFailed     StoreEventType = "blob:assemble:failed"
)

// StoreEvent describes one store operation to subscribers.
type StoreEvent struct {
	Type       StoreEventType `json:"type"`
	Timestamp  int64          `json:"timestamp"` // Unix milliseconds.
	Operation  string         `json:"operation"`
	SchemaID   *string        `json:"schemaId,omitempty"`
	DocumentID *string        `json:"documentId,omitempty"`
	ViewID     *string        `json:"viewId,omitempty"`
	Error      *string        `json:"error,omitempty"`
	Duration   *int64         `json:"duration,omitempty"` // Milliseconds, set once the operation finished.
}

// EventCallbackFunction handles one store event.
type EventCallbackFunction func(ctx context.Context, event StoreEvent) error

// SubscriptionInfo describes an active subscription.
type SubscriptionInfo struct {
	Id          *string        `json:"id,omitempty"`
	Event       StoreEventType `json:"event"`
	Label       *string        `json:"label,omitempty"`
	Description *string        `json:"description,omitempty"`
	Unsubscribe func()
}

// RegisterSubscriptionOptions defines options for registering a subscription.
type RegisterSubscriptionOptions struct {
	Event       StoreEventType `json:"event"`
	Label       *string        `json:"label,omitempty"`
	Description *string        `json:"description,omitempty"`
	Callback    EventCallbackFunction
}

// eventScope carries the ids an emission wrapper stamps onto its events.
type eventScope struct {
	operation  string
	start      StoreEventType
	success    StoreEventType
	failed     StoreEventType
	schemaID   string
	documentID string
	viewID     string
}

func (s *Store) emitEvent(event StoreEvent) {
	if s.bus != nil {
		s.bus.Emit(string(event.Type), event)
	}
}

// withEvents wraps an operation with start, success and failure events.
func (s *Store) withEvents(scope eventScope, fn func() error) error {
	startTime := time.Now()
	s.emitEvent(newEvent(scope.start, scope, nil, startTime, false))

	if err := fn(); err != nil {
		s.emitEvent(newEvent(scope.failed, scope, err, startTime, true))
		return err
	}

	s.emitEvent(newEvent(scope.success, scope, nil, startTime, true))
	return nil
}

func newEvent(t StoreEventType, scope eventScope, err error, startTime time.Time, finished bool) StoreEvent {
	event := StoreEvent{
		Type:      t,
		Timestamp: startTime.UnixMilli(),
		Operation: scope.operation,
	}
	if scope.schemaID != "" {
		v := scope.schemaID
		event.SchemaID = &v
	}
	if scope.documentID != "" {
		v := scope.documentID
		event.DocumentID = &v
	}
	if scope.viewID != "" {
		v := scope.viewID
		event.ViewID = &v
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	if finished {
		d := time.Since(startTime).Milliseconds()
		event.Duration = &d
	}
	return event
}
