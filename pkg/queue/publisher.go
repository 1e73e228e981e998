package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Publisher handles dispatching jobs to the queue
type Publisher struct {
	driver   Driver
	maxTries int
}

// NewPublisher creates a new Publisher. Jobs it dispatches are tried at most
// maxTries times; zero leaves the worker default in place.
func NewPublisher(driver Driver, maxTries int) *Publisher {
	return &Publisher{driver: driver, maxTries: maxTries}
}

// Dispatch wraps data in an Envelope for source and pushes it to queueName.
// A json.RawMessage or []byte data is carried verbatim.
func (p *Publisher) Dispatch(ctx context.Context, queueName string, source string, data any) (string, error) {
	raw, err := rawData(data)
	if err != nil {
		return "", err
	}

	env := Envelope{
		UUID:   uuid.NewString(),
		Source: source,
		Data:   raw,
	}
	if p.maxTries > 0 {
		tries := p.maxTries
		env.MaxTries = &tries
	}

	body, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	if err := p.driver.Push(ctx, queueName, body); err != nil {
		return "", err
	}
	return env.UUID, nil
}

func rawData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return json.Marshal(string(v))
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
