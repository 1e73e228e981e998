// Package app builds the object graph described by a Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pixelvide/ownmailer/pkg/cache"
	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/pixelvide/ownmailer/pkg/database"
	dbdriver "github.com/pixelvide/ownmailer/pkg/driver/database"
	redisdriver "github.com/pixelvide/ownmailer/pkg/driver/redis"
	sqsdriver "github.com/pixelvide/ownmailer/pkg/driver/sqs"
	"github.com/pixelvide/ownmailer/pkg/ingest"
	"github.com/pixelvide/ownmailer/pkg/mail"
	"github.com/pixelvide/ownmailer/pkg/queue"
	"github.com/pixelvide/ownmailer/pkg/schedule"
	"github.com/pixelvide/ownmailer/pkg/service"
	"github.com/pixelvide/ownmailer/pkg/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// StoreMemory selects the in-memory email store instead of a SQL database.
const StoreMemory = "memory"

type migrator interface {
	Migrate(ctx context.Context) error
}

// App holds every long-lived component. Fields that the configuration does
// not call for are nil.
type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *goredis.Client

	Store     store.Store
	Cache     cache.Store
	Mailer    mail.Mailer
	Sender    *mail.Sender
	Pipeline  *ingest.Pipeline
	Service   *service.Service
	Driver    queue.Driver
	Failed    queue.FailedJobProvider
	Publisher *queue.Publisher
	Locks     schedule.LockProvider

	migrators []migrator
}

// Options replaces parts of the graph, mostly for tests.
type Options struct {
	Mailer mail.Mailer
	Now    func() time.Time
}

// New connects to every backend cfg names and wires the components.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if a.needsDB() {
		dbCfg := cfg.Database
		dbCfg.Connection = a.sqlConnection()
		db, err := database.NewFactory().Connect(dbCfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.DB = db
	}
	if cfg.Cache.Store == "redis" || cfg.Queue.Connection == "redis" {
		a.Redis = redisdriver.NewClient(cfg.Redis)
	}

	if cfg.Database.Connection == StoreMemory {
		a.Store = store.NewMemoryStore()
	} else {
		a.Store = store.NewSQLStore(a.DB, cfg.Database.Table, cfg.Database.Connection)
	}
	a.register(a.Store)

	c, err := a.buildCache()
	if err != nil {
		return err
	}
	a.Cache = c

	a.Mailer = opts.Mailer
	if a.Mailer == nil {
		m, err := mail.NewMailer(ctx, cfg.Mail)
		if err != nil {
			return err
		}
		a.Mailer = m
	}
	a.Sender = mail.NewSender(a.Mailer)

	a.Pipeline = ingest.NewPipeline(a.Store, a.Cache, now)
	a.Service = service.New(a.Store, a.Pipeline, a.Sender, service.Options{
		Now:        now,
		Grace:      cfg.App.ScheduleGrace,
		Identities: a.Sender,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	})
	a.Service.RegisterJobs()

	if err := a.buildQueue(ctx); err != nil {
		return err
	}
	a.Locks = a.buildLocks()
	return nil
}

func (a *App) needsDB() bool {
	cfg := a.Config
	return cfg.Database.Connection != StoreMemory ||
		cfg.Cache.Store == "database" ||
		cfg.Queue.Connection == "database"
}

func (a *App) register(c any) {
	if m, ok := c.(migrator); ok {
		a.migrators = append(a.migrators, m)
	}
}

func (a *App) buildCache() (cache.Store, error) {
	cfg := a.Config.Cache
	switch cfg.Store {
	case "", "memory":
		return cache.NewMemoryStore(), nil
	case "redis":
		return cache.NewRedisStore(a.Redis, ""), nil
	case "memcached":
		if len(cfg.Servers) == 0 {
			return nil, errors.New("memcached cache requires CACHE_SERVERS")
		}
		return cache.NewMemcachedStore(memcache.New(cfg.Servers...)), nil
	case "database":
		s := cache.NewDatabaseStore(a.DB, cfg.Table, a.sqlConnection())
		a.register(s)
		return s, nil
	}
	return nil, fmt.Errorf("unsupported cache store: %s", cfg.Store)
}

func (a *App) buildQueue(ctx context.Context) error {
	cfg := a.Config.Queue
	switch cfg.Connection {
	case "database":
		d := dbdriver.NewDatabaseDriver(cfg, a.sqlConnection(), a.DB)
		a.register(d)
		a.Driver = d
	case "redis":
		a.Driver = redisdriver.NewRedisDriver(a.Redis)
	case "sqs":
		client, err := config.LoadSQSClient(ctx, a.Config.SQS)
		if err != nil {
			return fmt.Errorf("load sqs client: %w", err)
		}
		a.Driver = sqsdriver.NewSQSDriver(client, a.Config.SQS.QueueUrl)
	default:
		return fmt.Errorf("unsupported queue connection: %s", cfg.Connection)
	}

	switch {
	case a.DB != nil:
		f := dbdriver.NewDatabaseFailedJobProvider(a.DB, cfg.FailedTable, a.sqlConnection())
		a.register(f)
		a.Failed = f
	case a.Redis != nil:
		a.Failed = redisdriver.NewRedisFailedJobProvider(a.Redis, "")
	default:
		log.Warn().Str("queue", cfg.Connection).Msg("no failed job store available, failed jobs are dropped")
	}

	if !cfg.InlineEvents {
		a.Publisher = queue.NewPublisher(a.Driver, cfg.MaxTries)
	}
	return nil
}

func (a *App) buildLocks() schedule.LockProvider {
	switch {
	case a.Config.Cache.Store == "redis":
		return schedule.NewRedisLockProvider(a.Redis)
	case a.DB != nil:
		l := schedule.NewDatabaseLockProvider(a.DB, a.sqlConnection())
		a.register(l)
		return l
	}
	return schedule.NewMemoryLockProvider()
}

// sqlConnection is the dialect name of DB. A memory email store keeps its
// other tables in SQLite.
func (a *App) sqlConnection() string {
	if a.Config.Database.Connection == StoreMemory {
		return "sqlite"
	}
	return a.Config.Database.Connection
}

// Migrate creates the tables of every SQL-backed component.
func (a *App) Migrate(ctx context.Context) error {
	for _, m := range a.migrators {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases database and redis connections.
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
