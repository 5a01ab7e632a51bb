package internal

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"gitrelay/pkg/chat"
)

// fakeSender scripts failures for the first calls via errs, then succeeds
// (or keeps failing with sticky). Successful sends record the embed title.
type fakeSender struct {
	mu        sync.Mutex
	errs      []error
	sticky    error
	calls     int
	delivered []string
}

func (f *fakeSender) Send(ctx context.Context, channelID string, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	err := f.sticky
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err != nil {
		return err
	}
	title := ""
	if len(msg.Embeds) > 0 {
		title = msg.Embeds[0].Title
	}
	f.delivered = append(f.delivered, title)
	return nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSender) deliveredTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

func fastDispatcher(q *DeliveryQueue, sender chat.Sender, maxAttempts int) *Dispatcher {
	return NewDispatcher(q, sender, "chan-1", DispatchConfig{
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		DrainGrace:  20 * time.Millisecond,
	}, log.New(io.Discard, "", 0))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func titled(kind Kind, subject, summary string) Notification {
	n := note(kind, subject)
	n.Summary = summary
	return n
}

func runDispatcher(d *Dispatcher) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	q := testQueue(10)
	sender := &fakeSender{}
	stop := runDispatcher(fastDispatcher(q, sender, 3))
	defer stop()

	q.Enqueue(titled(KindPullRequestOpened, "pr/1", "first"))
	q.Enqueue(titled(KindIssueOpened, "issue/2", "second"))

	waitFor(t, "both deliveries", func() bool { return len(sender.deliveredTitles()) == 2 })
	got := sender.deliveredTitles()
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected enqueue order preserved, got %v", got)
	}
}

// TestDispatcherRetriesTransient tests that a transient failure is retried
// and eventually delivered.
func TestDispatcherRetriesTransient(t *testing.T) {
	q := testQueue(10)
	sender := &fakeSender{errs: []error{&chat.TransientError{Status: 503, Err: errors.New("upstream down")}}}
	stop := runDispatcher(fastDispatcher(q, sender, 5))
	defer stop()

	q.Enqueue(titled(KindCommitPush, "branch/main", "push"))

	waitFor(t, "retried delivery", func() bool { return len(sender.deliveredTitles()) == 1 })
	if sender.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", sender.callCount())
	}
}

// TestDispatcherAbandonsAtMaxAttempts tests that a persistently failing task
// is abandoned after exactly the configured number of attempts.
func TestDispatcherAbandonsAtMaxAttempts(t *testing.T) {
	q := testQueue(10)
	sender := &fakeSender{sticky: &chat.TransientError{Status: 502, Err: errors.New("bad gateway")}}
	stop := runDispatcher(fastDispatcher(q, sender, 3))

	q.Enqueue(titled(KindIssueOpened, "issue/1", "issue"))

	waitFor(t, "max attempts", func() bool { return sender.callCount() == 3 })
	waitFor(t, "queue drained", func() bool { return q.Len() == 0 })
	time.Sleep(30 * time.Millisecond)
	if got := sender.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	stop()
}

// TestDispatcherPermanentErrorAbandonsImmediately tests that a permanent
// rejection is never retried.
func TestDispatcherPermanentErrorAbandonsImmediately(t *testing.T) {
	q := testQueue(10)
	sender := &fakeSender{sticky: &chat.PermanentError{Status: 404, Detail: "unknown channel"}}
	stop := runDispatcher(fastDispatcher(q, sender, 5))

	q.Enqueue(titled(KindIssueOpened, "issue/1", "issue"))

	waitFor(t, "single attempt", func() bool { return sender.callCount() == 1 && q.Len() == 0 })
	time.Sleep(30 * time.Millisecond)
	if got := sender.callCount(); got != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", got)
	}
	stop()
}

// TestDispatcherSameSubjectOrderAcrossRetry tests that a retrying task's
// same-subject successor is not delivered ahead of it.
func TestDispatcherSameSubjectOrderAcrossRetry(t *testing.T) {
	q := testQueue(10)
	sender := &fakeSender{errs: []error{&chat.TransientError{Status: 500, Err: errors.New("flake")}}}
	stop := runDispatcher(fastDispatcher(q, sender, 5))
	defer stop()

	q.Enqueue(titled(KindPullRequestOpened, "pr/7", "opened"))
	q.Enqueue(titled(KindPullRequestMerged, "pr/7", "merged"))

	waitFor(t, "both deliveries", func() bool { return len(sender.deliveredTitles()) == 2 })
	got := sender.deliveredTitles()
	if got[0] != "opened" || got[1] != "merged" {
		t.Fatalf("subject order violated across retry: %v", got)
	}
	if sender.callCount() != 3 {
		t.Fatalf("expected 3 sends (1 failed + 2 delivered), got %d", sender.callCount())
	}
}

// TestDispatcherRateLimitFloor tests that a rate-limit hint overrides a
// shorter computed backoff.
func TestDispatcherRateLimitFloor(t *testing.T) {
	q := testQueue(10)
	d := fastDispatcher(q, &fakeSender{}, 5)
	d.jitter = func() float64 { return 0.5 }
	base := time.Unix(1700000000, 0)
	d.now = func() time.Time { return base }

	task := &DeliveryTask{Notification: note(KindCommitPush, "branch/main"), Attempts: 1}
	d.retry(task, &chat.RateLimitedError{RetryAfter: 30 * time.Second}, 30*time.Second)

	if got := task.NextEligibleAt; !got.Equal(base.Add(30 * time.Second)) {
		t.Fatalf("expected retry floor of 30s, got eligible at %s", got.Sub(base))
	}
	if q.Len() != 1 {
		t.Fatalf("expected task requeued, got queue len %d", q.Len())
	}
}

// TestDispatcherBackoffDoublesAndCaps tests the backoff schedule with
// neutral jitter.
func TestDispatcherBackoffDoublesAndCaps(t *testing.T) {
	d := NewDispatcher(testQueue(1), &fakeSender{}, "chan-1", DispatchConfig{
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}, log.New(io.Discard, "", 0))
	d.jitter = func() float64 { return 0.5 }

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{10, time.Minute},
	}
	for _, tc := range cases {
		if got := d.backoff(tc.attempt); got != tc.want {
			t.Fatalf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

// TestDispatcherDrainsOnShutdown tests that ready tasks already queued are
// delivered during the drain grace after cancellation.
func TestDispatcherDrainsOnShutdown(t *testing.T) {
	q := testQueue(10)
	sender := &fakeSender{}
	d := fastDispatcher(q, sender, 3)

	q.Enqueue(titled(KindIssueOpened, "issue/1", "one"))
	q.Enqueue(titled(KindIssueOpened, "issue/2", "two"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if got := sender.deliveredTitles(); len(got) != 2 {
		t.Fatalf("expected drain to deliver 2 tasks, got %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Len())
	}
}
