package email

import "fmt"

// Apply returns the status an email moves to when ev is observed while it is
// in current. It has no side effects, so replaying a log through Apply always
// yields the same status.
//
// An event that does not move the email forward leaves the status unchanged;
// the caller still records it. Only cancellation can be refused.
func Apply(current Status, ev Event) (Status, error) {
	next := ev.Type().Status()

	if ev.Type() == EventCancelled && current != StatusScheduled {
		if current == "" {
			return current, NewConflictError("cannot cancel an email that was never scheduled", nil)
		}
		return current, NewConflictError(fmt.Sprintf("cannot cancel email in status %s", current), nil)
	}

	switch {
	case progress(next) > progress(current):
		return next, nil
	case recurs(ev.Type()) && progress(current) >= progress(StatusDelivered):
		return next, nil
	default:
		return current, nil
	}
}

// progress orders statuses by Rank, except that a delivery delay counts as
// happening before delivery: a delay reported after the message reached the
// recipient's server is stale, and a delivery after a delay is progress.
func progress(s Status) int {
	if s == StatusDelayed {
		return 2*StatusDelivered.Rank() - 1
	}
	return 2 * s.Rank()
}

// recurs reports whether repeated occurrences of t keep updating the status
// once the message has been delivered.
func recurs(t EventType) bool {
	return t == EventOpened || t == EventClicked
}

// Fold derives the status of a log from scratch.
func Fold(log Log) (Status, error) {
	var status Status
	for i, ev := range log {
		next, err := Apply(status, ev)
		if err != nil {
			return "", fmt.Errorf("log entry %d: %w", i, err)
		}
		status = next
	}
	return status, nil
}
