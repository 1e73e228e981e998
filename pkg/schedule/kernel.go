package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLockDuration bounds how long an OnOneServer lock outlives a
// process that died while holding it.
const DefaultLockDuration = time.Minute

// Kernel manages scheduled tasks
type Kernel struct {
	cron         *cron.Cron
	lockProvider LockProvider
	logger       zerolog.Logger

	mu  sync.RWMutex
	ctx context.Context
}

// JobOption configures a scheduled job
type JobOption func(*jobConfig)

type jobConfig struct {
	withoutOverlapping bool
	onOneServer        bool
	lockDuration       time.Duration
	name               string
}

// NewKernel creates a kernel whose schedules carry a seconds field.
func NewKernel(lockProvider LockProvider) *Kernel {
	logger := log.Logger.With().Str("component", "scheduler").Logger()
	return &Kernel{
		cron:         cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{logger})),
		lockProvider: lockProvider,
		logger:       logger,
		ctx:          context.Background(),
	}
}

// SetLockProvider sets the distributed lock provider
func (k *Kernel) SetLockProvider(provider LockProvider) {
	k.lockProvider = provider
}

// WithoutOverlapping skips a run while the previous one is still going in
// this process.
func WithoutOverlapping() JobOption {
	return func(c *jobConfig) {
		c.withoutOverlapping = true
	}
}

// OnOneServer skips a run when another process holds the lock called name.
func OnOneServer(name string) JobOption {
	return func(c *jobConfig) {
		c.onOneServer = true
		c.name = name
	}
}

// LockFor overrides DefaultLockDuration for OnOneServer.
func LockFor(d time.Duration) JobOption {
	return func(c *jobConfig) {
		c.lockDuration = d
	}
}

// Named labels the job in logs.
func Named(name string) JobOption {
	return func(c *jobConfig) {
		c.name = name
	}
}

// Register adds a task to be run on a schedule of the form
// "s m h dom mon dow".
func (k *Kernel) Register(schedule string, task Task, opts ...JobOption) error {
	cfg := &jobConfig{lockDuration: DefaultLockDuration}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.name == "" {
		cfg.name = schedule
	}

	var job cron.Job = cron.FuncJob(func() { k.run(cfg.name, task) })

	if cfg.withoutOverlapping {
		job = cron.SkipIfStillRunning(cronLogger{k.logger})(job)
	}

	if cfg.onOneServer {
		if k.lockProvider == nil {
			k.logger.Warn().Str("job", cfg.name).Msg("ignoring OnOneServer: no lock provider")
		} else {
			job = k.locked(cfg, job)
		}
	}

	if _, err := k.cron.AddJob(schedule, job); err != nil {
		return fmt.Errorf("register %s: %w", cfg.name, err)
	}
	k.logger.Info().Str("job", cfg.name).Str("schedule", schedule).Msg("registered scheduled job")
	return nil
}

func (k *Kernel) locked(cfg *jobConfig, job cron.Job) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(k.context(), 10*time.Second)
		defer cancel()

		acquired, err := k.lockProvider.GetLock(ctx, cfg.name, cfg.lockDuration)
		if err != nil {
			k.logger.Error().Err(err).Str("job", cfg.name).Msg("error checking lock")
			return
		}
		if !acquired {
			k.logger.Debug().Str("job", cfg.name).Msg("skipping job locked by another server")
			return
		}
		defer func() {
			if err := k.lockProvider.ReleaseLock(context.Background(), cfg.name); err != nil {
				k.logger.Error().Err(err).Str("job", cfg.name).Msg("error releasing lock")
			}
		}()
		job.Run()
	})
}

func (k *Kernel) run(name string, task Task) {
	ctx := k.logger.With().Str("job", name).Logger().WithContext(k.context())
	start := time.Now()
	if err := task(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Dur("took", time.Since(start)).Msg("scheduled job failed")
		return
	}
	zerolog.Ctx(ctx).Debug().Dur("took", time.Since(start)).Msg("scheduled job done")
}

func (k *Kernel) context() context.Context {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ctx
}

// Run starts the scheduler and blocks until ctx ends, then waits for
// running jobs.
func (k *Kernel) Run(ctx context.Context) {
	k.mu.Lock()
	k.ctx = ctx
	k.mu.Unlock()

	k.logger.Info().Int("jobs", len(k.cron.Entries())).Msg("starting task scheduler")
	k.cron.Start()
	<-ctx.Done()

	k.logger.Info().Msg("stopping task scheduler")
	<-k.cron.Stop().Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
