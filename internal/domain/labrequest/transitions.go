package labrequest

import "github.com/ehr/labtracker/pkg/apperror"

// orderTransitions lists the states each order status may move to.
// Completed and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusSampleCollected, StatusCancelled},
	StatusSampleCollected: {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusCompleted, StatusCancelled},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no further transition leaves s.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// ValidateTransition returns an InvalidTransition error unless from -> to
// is an edge of the order state machine.
func ValidateTransition(from, to OrderStatus) error {
	allowed, ok := orderTransitions[from]
	if !ok {
		return apperror.InvalidTransition("unknown order status: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return apperror.InvalidTransition("invalid transition from %s to %s", from, to)
}
