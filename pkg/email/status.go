package email

// Status is the derived state of an Email. The zero value means the email has
// no status yet.
type Status string

// Declaration order is the progress rank.
const (
	StatusScheduled    Status = "scheduled"
	StatusCancelled    Status = "cancelled"
	StatusRejected     Status = "rejected"
	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusDelayed      Status = "delayed"
	StatusBounced      Status = "bounced"
	StatusComplained   Status = "complained"
	StatusOpened       Status = "opened"
	StatusClicked      Status = "clicked"
	StatusUnsubscribed Status = "unsubscribed"
)

// Statuses lists every status in rank order.
var Statuses = []Status{
	StatusScheduled,
	StatusCancelled,
	StatusRejected,
	StatusSent,
	StatusDelivered,
	StatusDelayed,
	StatusBounced,
	StatusComplained,
	StatusOpened,
	StatusClicked,
	StatusUnsubscribed,
}

var statusRank = func() map[Status]int {
	m := make(map[Status]int, len(Statuses))
	for i, s := range Statuses {
		m[s] = i
	}
	return m
}()

// Rank returns the position of s in the progress order, or -1 for the empty
// status.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further forward transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusBounced, StatusComplained, StatusUnsubscribed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a literal into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", NewValidationError("unknown email status: "+v, nil)
	}
	return s, nil
}
