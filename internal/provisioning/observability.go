package provisioning

import (
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// Observer is the structured observability surface for provisioning runs.
type Observer interface {
	// Printf emits a free-form progress line.
	Printf(format string, v ...interface{})

	// Event emits a structured event.
	Event(event Event)

	// WithFields returns a new Observer with additional context fields.
	WithFields(fields map[string]string) Observer
}

// Event represents a structured provisioning event.
type Event struct {
	Type      EventType
	Stage     string
	Message   string
	Resource  string
	Timestamp time.Time
	Fields    map[string]string
}

// EventType represents the type of provisioning event.
type EventType string

const (
	// EventStageStarted indicates a stage has started.
	EventStageStarted EventType = "stage.started"
	// EventStageCompleted indicates a stage completed successfully.
	EventStageCompleted EventType = "stage.completed"
	// EventStageFailed indicates a stage failed.
	EventStageFailed EventType = "stage.failed"

	// EventResourceCreating indicates a resource is being created.
	EventResourceCreating EventType = "resource.creating"
	// EventResourceCreated indicates a resource was created successfully.
	EventResourceCreated EventType = "resource.created"
	// EventResourceExists indicates a resource already exists and is reused.
	EventResourceExists EventType = "resource.exists"
	// EventResourceDeleting indicates a resource is being deleted.
	EventResourceDeleting EventType = "resource.deleting"
	// EventResourceDeleted indicates a resource was deleted successfully.
	EventResourceDeleted EventType = "resource.deleted"

	// EventRollbackStarted indicates a compensating rollback has begun.
	EventRollbackStarted EventType = "rollback.started"
	// EventRollbackSkipped indicates a rollback delete failed and was
	// skipped so the remaining resources can still be cleaned up.
	EventRollbackSkipped EventType = "rollback.skipped"
)

// logrObserver implements Observer over a logr.Logger.
type logrObserver struct {
	logger logr.Logger
	fields map[string]string
}

// NewObserver wraps a logr.Logger as an Observer.
func NewObserver(logger logr.Logger) Observer {
	return &logrObserver{
		logger: logger,
		fields: make(map[string]string),
	}
}

// NewConsoleObserver creates an Observer logging to stderr.
func NewConsoleObserver() Observer {
	logger := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{})
	return NewObserver(logger)
}

func (o *logrObserver) Printf(format string, v ...interface{}) {
	o.logger.Info(fmt.Sprintf(format, v...))
}

func (o *logrObserver) Event(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	kv := []interface{}{"type", string(event.Type)}
	if event.Stage != "" {
		kv = append(kv, "stage", event.Stage)
	}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}
	for k, v := range o.fields {
		if _, shadowed := event.Fields[k]; !shadowed {
			kv = append(kv, k, v)
		}
	}
	for k, v := range event.Fields {
		kv = append(kv, k, v)
	}

	o.logger.Info(event.Message, kv...)
}

func (o *logrObserver) WithFields(fields map[string]string) Observer {
	merged := make(map[string]string, len(o.fields)+len(fields))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &logrObserver{logger: o.logger, fields: merged}
}

// LogResourceCreating logs a resource creation start event.
func LogResourceCreating(observer Observer, stage, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceCreating,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("creating %s", resourceType),
		Fields:   map[string]string{"resourceType": resourceType},
	})
}

// LogResourceCreated logs a successful resource creation event.
func LogResourceCreated(observer Observer, stage, resourceType, resourceName, resourceID string) {
	observer.Event(Event{
		Type:     EventResourceCreated,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s created", resourceType),
		Fields:   map[string]string{"resourceType": resourceType, "id": resourceID},
	})
}

// LogResourceExists logs when an existing resource is reused.
func LogResourceExists(observer Observer, stage, resourceType, resourceName, resourceID string) {
	observer.Event(Event{
		Type:     EventResourceExists,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s already exists", resourceType),
		Fields:   map[string]string{"resourceType": resourceType, "id": resourceID},
	})
}

// LogResourceDeleting logs a resource deletion start event.
func LogResourceDeleting(observer Observer, stage, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceDeleting,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("deleting %s", resourceType),
		Fields:   map[string]string{"resourceType": resourceType},
	})
}

// LogResourceDeleted logs a successful resource deletion event.
func LogResourceDeleted(observer Observer, stage, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceDeleted,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s deleted", resourceType),
		Fields:   map[string]string{"resourceType": resourceType},
	})
}
