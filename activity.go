package authclient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventBootstrap       ActivityEventType = "session.bootstrap"
	ActivityEventLoginSuccess    ActivityEventType = "session.login.success"
	ActivityEventLoginFailure    ActivityEventType = "session.login.failure"
	ActivityEventRegister        ActivityEventType = "session.register"
	ActivityEventRegisterFailure ActivityEventType = "session.register.failure"
	ActivityEventLogout          ActivityEventType = "session.logout"
	ActivityEventRefresh         ActivityEventType = "session.refresh"
	ActivityEventSessionExpired  ActivityEventType = "session.expired"
	ActivityEventProfileUpdated  ActivityEventType = "profile.updated"
)

// ActivityEvent describes a session lifecycle action.
type ActivityEvent struct {
	ID         uuid.UUID
	EventType  ActivityEventType
	UserID     int64
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort: errors are logged and never fail the operation.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, eventType ActivityEventType, userID int64, meta map[string]any) {
	event := ActivityEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		UserID:     userID,
		Metadata:   meta,
		OccurredAt: now(),
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Error("activity sink failed", "event", eventType, "error", err)
	}
}
