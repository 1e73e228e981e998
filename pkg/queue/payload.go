package queue

import "encoding/json"

// Envelope is the JSON structure every queued job travels in. Source names
// the handler; Data is handed to it untouched.
type Envelope struct {
	UUID     string          `json:"uuid"`
	Source   string          `json:"source"`
	Attempts int             `json:"attempts"`
	MaxTries *int            `json:"maxTries,omitempty"`
	Timeout  *int            `json:"timeout,omitempty"`
	Data     json.RawMessage `json:"data"`
}
