package internal

import (
	"context"
	"io"
	"log"
	"testing"
	"time"
)

func testQueue(capacity int) *DeliveryQueue {
	return NewDeliveryQueue(capacity, log.New(io.Discard, "", 0))
}

func note(kind Kind, subject string) Notification {
	return Notification{Kind: kind, Subject: subject, DedupKey: "gh:" + subject + "/" + string(kind)}
}

func mustDequeue(t *testing.T, q *DeliveryQueue) *DeliveryTask {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	return task
}

func TestQueueFIFO(t *testing.T) {
	q := testQueue(10)
	q.Enqueue(note(KindPullRequestOpened, "pr/1"))
	q.Enqueue(note(KindIssueOpened, "issue/2"))
	q.Enqueue(note(KindCommitPush, "branch/main"))

	for _, want := range []string{"pr/1", "issue/2", "branch/main"} {
		task := mustDequeue(t, q)
		if task.Notification.Subject != want {
			t.Fatalf("expected subject %s, got %s", want, task.Notification.Subject)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

// TestQueueOverflowEvictsOldest tests the bounded-queue overflow policy.
func TestQueueOverflowEvictsOldest(t *testing.T) {
	q := testQueue(2)
	q.Enqueue(note(KindPullRequestOpened, "pr/1"))
	q.Enqueue(note(KindPullRequestOpened, "pr/2"))
	q.Enqueue(note(KindPullRequestOpened, "pr/3"))

	if q.Len() != 2 {
		t.Fatalf("expected queue capped at 2, got %d", q.Len())
	}
	if got := mustDequeue(t, q).Notification.Subject; got != "pr/2" {
		t.Fatalf("expected oldest (pr/1) evicted, next is pr/2, got %s", got)
	}
}

// TestQueueBackoffDoesNotBlockOthers tests that a task waiting out its
// backoff lets ready tasks of other subjects pass.
func TestQueueBackoffDoesNotBlockOthers(t *testing.T) {
	q := testQueue(10)
	q.Enqueue(note(KindPullRequestOpened, "pr/1"))
	q.Enqueue(note(KindIssueOpened, "issue/2"))

	retrying := mustDequeue(t, q)
	retrying.NextEligibleAt = time.Now().Add(time.Hour)
	q.Requeue(retrying)

	task := mustDequeue(t, q)
	if task.Notification.Subject != "issue/2" {
		t.Fatalf("ready task must pass the backing-off one, got %s", task.Notification.Subject)
	}
}

// TestQueueSubjectOrderHeld tests that a later task sharing the retrying
// task's subject stays behind it.
func TestQueueSubjectOrderHeld(t *testing.T) {
	q := testQueue(10)
	q.Enqueue(note(KindPullRequestOpened, "pr/7"))
	q.Enqueue(note(KindPullRequestMerged, "pr/7"))
	q.Enqueue(note(KindIssueOpened, "issue/9"))

	retrying := mustDequeue(t, q)
	if retrying.Notification.Kind != KindPullRequestOpened {
		t.Fatalf("expected opened first, got %s", retrying.Notification.Kind)
	}
	retrying.NextEligibleAt = time.Now().Add(50 * time.Millisecond)
	q.Requeue(retrying)

	// The merged event shares pr/7 and must wait; issue/9 is free to go.
	if got := mustDequeue(t, q).Notification.Subject; got != "issue/9" {
		t.Fatalf("expected issue/9 while pr/7 backs off, got %s", got)
	}

	first := mustDequeue(t, q)
	second := mustDequeue(t, q)
	if first.Notification.Kind != KindPullRequestOpened || second.Notification.Kind != KindPullRequestMerged {
		t.Fatalf("subject order violated: got %s then %s", first.Notification.Kind, second.Notification.Kind)
	}
}

// TestQueueDequeueWaitsForBackoffDeadline tests that Dequeue wakes on its
// own once the earliest deadline passes.
func TestQueueDequeueWaitsForBackoffDeadline(t *testing.T) {
	q := testQueue(10)
	q.Enqueue(note(KindCommitPush, "branch/main"))

	task := mustDequeue(t, q)
	task.NextEligibleAt = time.Now().Add(30 * time.Millisecond)
	q.Requeue(task)

	start := time.Now()
	got := mustDequeue(t, q)
	if got.Notification.Subject != "branch/main" {
		t.Fatalf("unexpected task %s", got.Notification.Subject)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("dequeue returned before the backoff deadline, after %s", elapsed)
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := testQueue(10)

	done := make(chan *DeliveryTask, 1)
	go func() {
		task := mustDequeue(t, q)
		done <- task
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(note(KindIssueOpened, "issue/1"))

	select {
	case task := <-done:
		if task.Notification.Subject != "issue/1" {
			t.Fatalf("unexpected task %s", task.Notification.Subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dequeue did not wake on enqueue")
	}
}

func TestQueueDequeueContextCancel(t *testing.T) {
	q := testQueue(10)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dequeue did not return on cancel")
	}
}

func TestQueueDrain(t *testing.T) {
	q := testQueue(10)
	q.Enqueue(note(KindIssueOpened, "issue/1"))
	q.Enqueue(note(KindIssueOpened, "issue/2"))

	if dropped := q.Drain(); dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Len())
	}
}
