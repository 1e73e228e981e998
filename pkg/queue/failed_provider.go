package queue

import (
	"context"
	"errors"
)

// FailedJobProvider defines the interface for logging failed jobs
type FailedJobProvider interface {
	// Log records a failed job
	Log(ctx context.Context, connection string, queue string, payload []byte, exception string) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The worker sends the job
// straight to the failed job log.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
