package labrequest

import "context"

type ChangeKind string

const (
	ChangeCreated    ChangeKind = "lab_request.created"
	ChangeUpdated    ChangeKind = "lab_request.updated"
	ChangeTransition ChangeKind = "test_order.transition"
)

// Change describes one stored modification of a lab request. Request is a
// copy taken after the write; OrderID, From and To are set for transitions.
type Change struct {
	Kind    ChangeKind
	Request *LabRequest
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

// Publisher receives every Change once it has been persisted. Implementations
// must not block; the request lock is still held while they run.
type Publisher interface {
	Publish(ctx context.Context, c Change)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Change) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, c Change)

func (f PublisherFunc) Publish(ctx context.Context, c Change) { f(ctx, c) }
