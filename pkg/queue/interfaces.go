package queue

import (
	"context"
	"errors"
)

// ErrEmpty is returned by Pop when no job arrived before the driver gave up
// waiting. Workers simply poll again.
var ErrEmpty = errors.New("queue: no job available")

// Job represents a generic job retrieved from the queue
type Job struct {
	// ID is whatever the driver needs to acknowledge the job: a row id, an
	// SQS receipt handle, or empty for drivers that remove on Pop.
	ID       string
	Body     []byte
	Envelope *Envelope // The decoded envelope, set by the worker
	// Received is how many times the driver has handed this message out,
	// when the backend tracks it. Zero otherwise.
	Received int
}

// Handler is the function signature for processing a job
type Handler func(ctx context.Context, job *Job) error

// Driver defines the interface for queue backends
type Driver interface {
	// Pop retrieves a job from the queue. It blocks until a job is available,
	// the context ends, or the driver's wait times out with ErrEmpty.
	Pop(ctx context.Context, queueName string) (*Job, error)
	// Push adds a job payload to the queue
	Push(ctx context.Context, queueName string, body []byte) error
	// Ack removes a handled job for good
	Ack(ctx context.Context, job *Job) error
}
