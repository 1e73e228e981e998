package queue

import (
	"encoding/json"
	"fmt"
)

// SourceSNS is the source given to messages SNS delivers straight into a
// queue, which carry no Envelope of their own.
const SourceSNS = "ses"

// DecodeEnvelope parses a job body. Bodies written by SNS subscriptions
// (either the SNS wrapper or a raw SES event) are wrapped in an Envelope for
// SourceSNS, keyed by the SNS message id when there is one.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var probe struct {
		Source    string `json:"source"`
		Type      string `json:"Type"`
		MessageId string `json:"MessageId"`
		EventType string `json:"eventType"`
		Notif     string `json:"notificationType"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode job body: %w", err)
	}

	switch {
	case probe.Source != "":
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode job envelope: %w", err)
		}
		return &env, nil
	case probe.Type != "", probe.EventType != "", probe.Notif != "":
		return &Envelope{UUID: probe.MessageId, Source: SourceSNS, Data: json.RawMessage(body)}, nil
	default:
		return nil, fmt.Errorf("job body has no source")
	}
}
