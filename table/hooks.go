package table

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Op names a lifecycle point observers can be notified at.
type Op string

const (
	OpSave   Op = "save"
	OpUpdate Op = "update"
	OpLoad   Op = "load"
	OpDelete Op = "delete"
)

// Event describes one completed operation.
type Event struct {
	// ID uniquely identifies this notification.
	ID string

	// Op is the lifecycle point.
	Op Op

	// Table is the affected table.
	Table string

	// Key is the affected item's primary key.
	Key map[string]types.AttributeValue
}

// Observer is a synchronous lifecycle callback. Observers run on the
// calling goroutine, in registration order, after the operation succeeds.
type Observer func(Event)

// Observe registers an observer on the engine.
func (e *Engine) Observe(fn Observer) {
	e.observers = append(e.observers, fn)
}

func (e *Engine) notify(op Op, tableName string, key map[string]types.AttributeValue) {
	if len(e.observers) == 0 {
		return
	}
	ev := Event{ID: uuid.NewString(), Op: op, Table: tableName, Key: key}
	for _, fn := range e.observers {
		fn(ev)
	}
}
