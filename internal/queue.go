package internal

import (
	"context"
	"log"
	"sync"
	"time"
)

// DeliveryTask wraps a notification with its retry state. The queue owns the
// task until the dispatcher claims it; only the dispatcher mutates it.
type DeliveryTask struct {
	Notification   Notification
	Attempts       int
	NextEligibleAt time.Time

	seq uint64
}

// DeliveryQueue is a bounded queue decoupling ingestion from delivery.
//
// Tasks keep their enqueue sequence for life. A task is eligible for dequeue
// once its backoff deadline has passed and no earlier task shares its
// subject: a retrying task never blocks unrelated ready tasks, but delivery
// order within one subject (a PR, an issue, a branch) is preserved.
type DeliveryQueue struct {
	mu     sync.Mutex
	tasks  []*DeliveryTask
	cap    int
	nextID uint64
	wake   chan struct{}
	logger *log.Logger
	now    func() time.Time
}

// NewDeliveryQueue creates a queue with the given capacity.
func NewDeliveryQueue(capacity int, logger *log.Logger) *DeliveryQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DeliveryQueue{
		cap:    capacity,
		wake:   make(chan struct{}, 1),
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue appends a new task. On overflow the oldest task is evicted and
// logged; bounded memory beats unbounded growth under event bursts.
func (q *DeliveryQueue) Enqueue(n Notification) {
	q.mu.Lock()
	if len(q.tasks) >= q.cap {
		evicted := q.tasks[0]
		q.tasks = q.tasks[1:]
		IncQueueDrop()
		q.logger.Printf("queue full, dropped oldest task kind=%s subject=%s", evicted.Notification.Kind, evicted.Notification.Subject)
	}
	q.nextID++
	q.tasks = append(q.tasks, &DeliveryTask{Notification: n, seq: q.nextID})
	q.mu.Unlock()
	q.signal()
}

// Requeue re-inserts a retrying task at its original sequence position so
// same-subject successors keep waiting behind it.
func (q *DeliveryQueue) Requeue(t *DeliveryTask) {
	q.mu.Lock()
	i := 0
	for i < len(q.tasks) && q.tasks[i].seq < t.seq {
		i++
	}
	q.tasks = append(q.tasks, nil)
	copy(q.tasks[i+1:], q.tasks[i:])
	q.tasks[i] = t
	q.mu.Unlock()
	q.signal()
}

// Dequeue blocks until an eligible task exists or the context is done.
func (q *DeliveryQueue) Dequeue(ctx context.Context) (*DeliveryTask, error) {
	for {
		q.mu.Lock()
		task, wait := q.pick(q.now())
		q.mu.Unlock()
		if task != nil {
			return task, nil
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-q.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// pick removes and returns the lowest-sequence eligible task. When nothing
// is eligible it returns the wait until the earliest backoff deadline among
// subject-unblocked tasks, or zero to wait for a signal.
func (q *DeliveryQueue) pick(now time.Time) (*DeliveryTask, time.Duration) {
	blocked := make(map[string]struct{}, len(q.tasks))
	var wait time.Duration
	for i, t := range q.tasks {
		subject := t.Notification.Subject
		if _, held := blocked[subject]; held {
			continue
		}
		if !t.NextEligibleAt.After(now) {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return t, 0
		}
		if d := t.NextEligibleAt.Sub(now); wait == 0 || d < wait {
			wait = d
		}
		blocked[subject] = struct{}{}
	}
	return nil, wait
}

// Len reports the number of queued tasks.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain discards all remaining tasks and returns how many were dropped.
func (q *DeliveryQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.tasks)
	q.tasks = nil
	return dropped
}

func (q *DeliveryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
