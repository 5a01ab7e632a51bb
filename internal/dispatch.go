package internal

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"gitrelay/pkg/chat"
)

// DispatchConfig tunes the delivery retry state machine.
type DispatchConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	DrainGrace  time.Duration
}

// Dispatcher drains the delivery queue, renders notifications, and delivers
// them to one destination channel. It runs a single lane per channel so
// causally related events arrive in order; independent channels would each
// get their own Dispatcher.
type Dispatcher struct {
	queue     *DeliveryQueue
	sender    chat.Sender
	channelID string
	cfg       DispatchConfig
	logger    *log.Logger
	now       func() time.Time
	jitter    func() float64
}

// NewDispatcher creates a dispatcher for one destination channel.
func NewDispatcher(queue *DeliveryQueue, sender chat.Sender, channelID string, cfg DispatchConfig, logger *log.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		queue:     queue,
		sender:    sender,
		channelID: channelID,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		jitter:    rand.Float64,
	}
}

// Run delivers tasks until the context is canceled, then drains in-flight
// and near-term-eligible tasks for the configured grace period before
// discarding the rest.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			break
		}
		d.deliver(ctx, task)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainGrace)
	defer cancel()
	for {
		task, err := d.queue.Dequeue(drainCtx)
		if err != nil {
			break
		}
		d.deliver(drainCtx, task)
	}
	if dropped := d.queue.Drain(); dropped > 0 {
		d.logger.Printf("shutdown: discarded %d undelivered tasks", dropped)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task *DeliveryTask) {
	n := task.Notification
	task.Attempts++

	err := d.sender.Send(ctx, d.channelID, Render(n))
	if err == nil {
		IncDelivered()
		d.logger.Printf("delivered kind=%s subject=%s attempts=%d", n.Kind, n.Subject, task.Attempts)
		return
	}

	var rateLimited *chat.RateLimitedError
	var permanent *chat.PermanentError
	switch {
	case errors.As(err, &permanent):
		d.abandon(task, err)
	case errors.As(err, &rateLimited):
		d.retry(task, err, rateLimited.RetryAfter)
	default:
		// Transient network or 5xx failure.
		d.retry(task, err, 0)
	}
}

func (d *Dispatcher) retry(task *DeliveryTask, cause error, floor time.Duration) {
	n := task.Notification
	if task.Attempts >= d.cfg.MaxAttempts {
		d.abandon(task, cause)
		return
	}

	delay := d.backoff(task.Attempts)
	if delay < floor {
		delay = floor
	}
	task.NextEligibleAt = d.now().Add(delay)

	IncDeliveryRetry()
	d.logger.Printf("delivery failed, retrying kind=%s subject=%s attempt=%d next_in=%s: %v", n.Kind, n.Subject, task.Attempts, delay.Round(time.Millisecond), cause)
	d.queue.Requeue(task)
}

func (d *Dispatcher) abandon(task *DeliveryTask, cause error) {
	n := task.Notification
	IncAbandoned()
	d.logger.Printf("abandoned kind=%s subject=%s dedup_key=%s attempts=%d url=%s: %v", n.Kind, n.Subject, n.DedupKey, task.Attempts, n.URL, cause)
}

// backoff doubles per attempt from the base, capped, with ±20% jitter so
// retries do not synchronize.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			delay = d.cfg.MaxBackoff
			break
		}
	}
	jittered := float64(delay) * (1 + 0.2*(d.jitter()*2-1))
	return time.Duration(jittered)
}
