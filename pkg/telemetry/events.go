package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one status report emitted during a provisioning run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that emitted the event.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Distro is the guest environment the event concerns.
	Distro string `json:"distro,omitempty"`

	// Stage is the workflow stage, if applicable.
	Stage string `json:"stage,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted     = "run.started"
	EventTypeRunCompleted   = "run.completed"
	EventTypeRunFailed      = "run.failed"
	EventTypeStageReached   = "stage.reached"
	EventTypeStepStarted    = "step.started"
	EventTypeStepCompleted  = "step.completed"
	EventTypeStepSkipped    = "step.skipped"
	EventTypeWarning        = "warning"
	EventTypeAdvisory       = "advisory"
	EventTypeWaitProgress   = "wait.progress"
	EventTypeNetworkChanged = "network.changed"
	EventTypePackageResult  = "package.result"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Sink receives status events. Components depend on Sink, never on the
// publisher, so presentation stays outside the provisioning core.
type Sink interface {
	Publish(event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event Event) error

// Publish implements Sink.
func (f SinkFunc) Publish(event Event) error {
	return f(event)
}

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events synchronously to its subscribers, in
// subscription order, before Publish returns.
type EventPublisher struct {
	config      EventsConfig
	subscribers []subscriberEntry
	filters     []EventFilter
	history     []Event
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.Lock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.Unlock()
			return nil
		}
	}
	if ep.config.History > 0 {
		ep.history = append(ep.history, event)
		if len(ep.history) > ep.config.History {
			ep.history = ep.history[len(ep.history)-ep.config.History:]
		}
	}
	subscribers := make([]subscriberEntry, len(ep.subscribers))
	copy(subscribers, ep.subscribers)
	ep.mu.Unlock()

	for _, entry := range subscribers {
		if entry.filter == nil || entry.filter(event) {
			entry.subscriber(event)
		}
	}
	return nil
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// History returns the retained events, oldest first.
func (ep *EventPublisher) History() []Event {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	out := make([]Event, len(ep.history))
	copy(out, ep.history)
	return out
}

// FilterByLevel creates a filter that matches events of a specific level.
func FilterByLevel(level string) EventFilter {
	return func(event Event) bool {
		return event.Level == level
	}
}

// FilterByType creates a filter that matches events of any of the given types.
func FilterByType(types ...string) EventFilter {
	typeMap := make(map[string]bool, len(types))
	for _, t := range types {
		typeMap[t] = true
	}
	return func(event Event) bool {
		return typeMap[event.Type]
	}
}

// LogSubscriber writes events to logger at a level matching the event.
func LogSubscriber(logger zerolog.Logger) EventSubscriber {
	return func(event Event) {
		var e *zerolog.Event
		switch event.Level {
		case EventLevelWarning:
			e = logger.Warn()
		case EventLevelError:
			e = logger.Error()
		default:
			e = logger.Info()
		}
		if event.Distro != "" {
			e = e.Str("distro", event.Distro)
		}
		if event.Stage != "" {
			e = e.Str("stage", event.Stage)
		}
		for k, v := range event.Data {
			e = e.Interface(k, v)
		}
		e.Msg(event.Message)
	}
}
