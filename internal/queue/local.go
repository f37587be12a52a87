package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/internal/metrics"
)

// LocalQueue is the in-process queue used when Redis is not configured:
// single binary, buffered channel, DLQ in memory.
type LocalQueue struct {
	ch          chan Task
	maxAttempts int
	log         *zap.Logger

	dlqMu sync.Mutex
	dlq   []Task
}

func NewLocalQueue(bufferSize, maxAttempts int, log *zap.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalQueue{
		ch:          make(chan Task, bufferSize),
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- task:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, Task) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-q.ch:
			err := handler(ctx, task)
			if err == nil {
				metrics.QueueTasks.WithLabelValues("ok").Inc()
				continue
			}

			task.Attempt++
			if task.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, task)
				q.dlqMu.Unlock()
				metrics.QueueTasks.WithLabelValues("dead").Inc()
				q.log.Error("task moved to DLQ",
					zap.String("document_id", task.DocumentID.String()),
					zap.Int("attempt", task.Attempt),
					zap.Error(err))
				continue
			}

			metrics.QueueTasks.WithLabelValues("retried").Inc()
			q.log.Warn("task requeued",
				zap.String("document_id", task.DocumentID.String()),
				zap.Int("attempt", task.Attempt),
				zap.Error(err))
			delay := time.Duration(task.Attempt) * 500 * time.Millisecond
			go func(retry Task) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
				case <-timer.C:
					select {
					case q.ch <- retry:
					case <-ctx.Done():
					}
				}
			}(task)
		}
	}
}

// DLQSize reports how many tasks exhausted their delivery budget.
func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// DrainDLQ returns and clears the dead tasks, for the ops surface.
func (q *LocalQueue) DrainDLQ() []Task {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	out := q.dlq
	q.dlq = nil
	return out
}
