package ingest

import (
	"fmt"

	"github.com/pixelvide/ownmailer/pkg/email"
)

// providerTags maps the event names used by the supported providers to log
// variants. SES publishes the bare names, Resend the dotted ones.
var providerTags = map[string]email.EventType{
	"Reject":        email.EventRejected,
	"Delivery":      email.EventDelivered,
	"DeliveryDelay": email.EventDelayed,
	"Bounce":        email.EventBounced,
	"Complaint":     email.EventComplained,
	"Open":          email.EventOpened,
	"Click":         email.EventClicked,
	"Subscription":  email.EventUnsubscribed,

	"email.delivered":        email.EventDelivered,
	"email.delivery_delayed": email.EventDelayed,
	"email.bounced":          email.EventBounced,
	"email.complained":       email.EventComplained,
	"email.opened":           email.EventOpened,
	"email.clicked":          email.EventClicked,
}

// Classify returns the log variant for a provider event tag.
func Classify(tag string) (email.EventType, error) {
	t, ok := providerTags[tag]
	if !ok {
		return "", email.NewValidationError(fmt.Sprintf("unrecognized provider event %q", tag), nil)
	}
	return t, nil
}
