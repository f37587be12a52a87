package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task asks a worker to drive one document to a terminal status. Attempt
// counts deliveries of this task, not extraction retries; those live below
// the orchestrator.
type Task struct {
	DocumentID uuid.UUID `json:"document_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask builds a first-delivery task for a document.
func NewTask(documentID uuid.UUID) Task {
	return Task{DocumentID: documentID, EnqueuedAt: time.Now().UTC()}
}

// Producer sends extraction tasks to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, task Task) error
}

// Consumer receives extraction tasks and executes the handler. A handler
// error requeues the task until the delivery budget is spent, then the task
// moves to the dead-letter side.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, Task) error) error
}

// Queue is a backend serving both ends.
type Queue interface {
	Producer
	Consumer
}
