package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxTries applies to envelopes that do not carry their own limit.
const DefaultMaxTries = 3

// Worker manages the processing of jobs
type Worker struct {
	Driver         queue.Driver
	FailedProvider queue.FailedJobProvider
	QueueName      string
	Connection     string
	Concurrency    int
	MaxTries       int
	// PollBackoff is how long a worker sleeps after a driver error.
	PollBackoff time.Duration
	Tracer      trace.Tracer

	wg   sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(driver queue.Driver, failedProvider queue.FailedJobProvider, queueName string, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		Driver:         driver,
		FailedProvider: failedProvider,
		QueueName:      queueName,
		Connection:     "default",
		Concurrency:    concurrency,
		MaxTries:       DefaultMaxTries,
		PollBackoff:    time.Second,
		Tracer:         otel.Tracer("ownmailer/worker"),
		quit:           make(chan struct{}),
	}
}

// Run starts the worker pool and blocks until ctx ends or Stop is called
func (w *Worker) Run(ctx context.Context) {
	for i := 0; i < w.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, i)
	}
	w.wg.Wait()
}

// Stop asks every loop to return after its current job
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.quit) })
}

func (w *Worker) processLoop(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := log.Ctx(ctx).With().Int("worker", id).Str("queue", w.QueueName).Logger()
	logger.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		default:
		}

		job, err := w.Driver.Pop(ctx, w.QueueName)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			logger.Error().Err(err).Msg("error popping job")
			// avoid a tight loop while the backend is unavailable
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.PollBackoff):
			}
			continue
		}

		w.handleJob(logger.WithContext(ctx), job)
	}
}

func (w *Worker) handleJob(ctx context.Context, job *queue.Job) {
	logger := zerolog.Ctx(ctx)

	env, err := queue.DecodeEnvelope(job.Body)
	if err != nil {
		logger.Error().Err(err).Bytes("body", job.Body).Msg("undecodable job")
		w.fail(ctx, job, job.Body, err)
		return
	}
	job.Envelope = env
	if job.Received > env.Attempts {
		// backends that redeliver on their own count attempts for us
		env.Attempts = job.Received - 1
	}

	l := logger.With().Str("job_id", env.UUID).Str("source", env.Source).Logger()
	ctx = l.WithContext(ctx)

	handler, err := queue.GetHandler(env.Source)
	if err != nil {
		l.Error().Err(err).Msg("no handler for job")
		w.fail(ctx, job, job.Body, err)
		return
	}

	jobCtx, cancel := w.jobContext(ctx, env)
	defer cancel()
	jobCtx, span := w.Tracer.Start(jobCtx, "queue.job", trace.WithAttributes(
		attribute.String("job.source", env.Source),
		attribute.String("job.id", env.UUID),
		attribute.Int("job.attempts", env.Attempts),
	))
	err = handler(jobCtx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err != nil {
		l.Warn().Err(err).Int("attempts", env.Attempts+1).Msg("job failed")
		w.handleFailure(ctx, job, err)
		return
	}

	l.Debug().Msg("job done")
	if ackErr := w.Driver.Ack(ctx, job); ackErr != nil {
		l.Error().Err(ackErr).Msg("error acknowledging job")
	}
}

func (w *Worker) jobContext(ctx context.Context, env *queue.Envelope) (context.Context, context.CancelFunc) {
	if env.Timeout != nil && *env.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(*env.Timeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

// permanent reports whether retrying err cannot help. A missing email is
// retried: provider events can overtake the write that records the send.
func permanent(err error) bool {
	return queue.IsPermanent(err) || email.IsValidation(err) || email.IsConflict(err)
}

func (w *Worker) handleFailure(ctx context.Context, job *queue.Job, err error) {
	logger := zerolog.Ctx(ctx)
	env := job.Envelope
	env.Attempts++

	maxTries := w.MaxTries
	if env.MaxTries != nil {
		maxTries = *env.MaxTries
	}

	body, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		logger.Error().Err(marshalErr).Msg("error marshalling job")
		return
	}

	if !permanent(err) && env.Attempts < maxTries {
		logger.Info().Int("attempt", env.Attempts).Int("max_tries", maxTries).Msg("retrying job")
		if pushErr := w.Driver.Push(ctx, w.QueueName, body); pushErr != nil {
			// leave the original unacknowledged so the backend can redeliver it
			logger.Error().Err(pushErr).Msg("error pushing job back to queue")
			return
		}
		w.ack(ctx, job)
		return
	}

	logger.Error().Err(err).Int("attempts", env.Attempts).Msg("job failed permanently")
	w.fail(ctx, job, body, err)
}

func (w *Worker) fail(ctx context.Context, job *queue.Job, body []byte, err error) {
	logger := zerolog.Ctx(ctx)
	if w.FailedProvider == nil {
		logger.Warn().Msg("no failed job provider configured, job dropped")
	} else if failErr := w.FailedProvider.Log(ctx, w.Connection, w.QueueName, body, fmt.Sprint(err)); failErr != nil {
		logger.Error().Err(failErr).Msg("error logging failed job")
		return
	}
	w.ack(ctx, job)
}

func (w *Worker) ack(ctx context.Context, job *queue.Job) {
	if err := w.Driver.Ack(ctx, job); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("error acknowledging job")
	}
}
