package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/domain/labrequest"
)

func transition(branch string) labrequest.Change {
	return labrequest.Change{
		Kind: labrequest.ChangeTransition,
		Request: &labrequest.LabRequest{
			ID:          "LR001",
			PatientName: "John Kamau",
			Branch:      branch,
		},
		OrderID: "T001",
		From:    labrequest.StatusProcessing,
		To:      labrequest.StatusCompleted,
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ev, err := NewEvent(transition("Fedha"), at)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if ev.ID == "" || ev.Type != "test_order.completed" || ev.RequestID != "LR001" || ev.Branch != "Fedha" || !ev.Timestamp.Equal(at) {
		t.Errorf("unexpected event %+v", ev)
	}
	var view map[string]interface{}
	if err := json.Unmarshal(ev.Payload, &view); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if view["patient_name"] != "John Kamau" {
		t.Errorf("expected request view in payload, got %v", view)
	}

	empty, err := NewEvent(labrequest.Change{Kind: labrequest.ChangeUpdated}, at)
	if err != nil || empty.RequestID != "" || empty.Payload != nil {
		t.Errorf("expected bare event for nil request, got %+v (%v)", empty, err)
	}
}

func TestDispatcher_DeliversQueuedChanges(t *testing.T) {
	rcv, srv := newReceiver(t, 0)
	m := newTestManager()
	register(t, m, srv.URL, "", "test_order.*")

	d := NewDispatcher(m, zerolog.Nop(), 8)
	d.Start(context.Background(), 2)
	d.Publish(context.Background(), transition("Fedha"))
	d.Publish(context.Background(), labrequest.Change{Kind: labrequest.ChangeCreated, Request: &labrequest.LabRequest{ID: "LR002"}})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if rcv.count() != 1 {
		t.Errorf("expected only the transition to be delivered, got %d calls", rcv.count())
	}
	if d.Pending() != 0 {
		t.Errorf("expected empty queue after Close, have %d", d.Pending())
	}
}

func TestDispatcher_PublishDoesNotBlock(t *testing.T) {
	d := NewDispatcher(newTestManager(), zerolog.Nop(), 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(context.Background(), transition("Fedha"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if d.Pending() != 2 {
		t.Errorf("expected queue to hold 2 events, have %d", d.Pending())
	}
}

func TestDispatcher_IgnoresAfterClose(t *testing.T) {
	d := NewDispatcher(newTestManager(), zerolog.Nop(), 4)
	d.Start(context.Background(), 1)
	d.Close(context.Background())
	d.Close(context.Background())

	d.Publish(context.Background(), transition("Fedha"))
	if d.Pending() != 0 {
		t.Errorf("expected closed dispatcher to drop events, have %d", d.Pending())
	}
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(newTestManager(), zerolog.Nop(), 4)
	d.Start(ctx, 3)
	cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestDispatcher_CloseHonoursDeadline(t *testing.T) {
	rcv, srv := newReceiver(t, 1000)
	m := NewManager(NewMemoryStore(), zerolog.Nop(), WithRetryDelays(time.Minute, time.Minute))
	register(t, m, srv.URL, "", "test_order.*")

	d := NewDispatcher(m, zerolog.Nop(), 8)
	d.Start(context.Background(), 1)
	d.Publish(context.Background(), transition("Fedha"))
	d.Publish(context.Background(), transition("Tassia"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := d.Close(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Close took %s with a failing endpoint", elapsed)
	}
	if rcv.count() > 1 {
		t.Errorf("expected no retries after the deadline, got %d calls", rcv.count())
	}
}
