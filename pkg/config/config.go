package config

import (
	"fmt"
	"time"
)

// Config is the full application configuration, read from the environment.
type Config struct {
	App      AppConfig      `envPrefix:"APP_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Cache    CacheConfig    `envPrefix:"CACHE_"`
	Queue    QueueConfig    `envPrefix:"QUEUE_"`
	SQS      SQSConfig      `envPrefix:"SQS_"`
	Mail     MailConfig     `envPrefix:"MAIL_"`
}

// AppConfig holds the HTTP server and scheduling settings
type AppConfig struct {
	Name             string        `env:"NAME" envDefault:"ownmailer"`
	Host             string        `env:"HOST" envDefault:"0.0.0.0"`
	Port             int           `env:"PORT" envDefault:"2206"`
	APIKey           string        `env:"API_KEY" envDefault:"secret"`
	WebhookToken     string        `env:"WEBHOOK_TOKEN"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"console"` // console, json
	Tracing          bool          `env:"TRACING" envDefault:"false"`
	ScheduleGrace    time.Duration `env:"SCHEDULE_GRACE" envDefault:"60s"`
	DispatchSchedule string        `env:"DISPATCH_SCHEDULE" envDefault:"*/10 * * * * *"`
}

// Addr returns the listen address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds configuration for SQL database connection
type DatabaseConfig struct {
	Connection string `env:"CONNECTION" envDefault:"sqlite"` // sqlite, mysql, pgsql/postgres
	Host       string `env:"HOST" envDefault:"127.0.0.1"`
	Port       string `env:"PORT"`
	Database   string `env:"DATABASE" envDefault:":memory:"`
	Username   string `env:"USERNAME"`
	Password   string `env:"PASSWORD"`
	Table      string `env:"TABLE" envDefault:"emails"`
}

// RedisConfig holds configuration for Redis connection
type RedisConfig struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT" envDefault:"6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// CacheConfig selects the store used for external id lookups
type CacheConfig struct {
	Store   string   `env:"STORE" envDefault:"memory"` // memory, redis, memcached, database
	Servers []string `env:"SERVERS" envSeparator:","`  // memcached servers
	Table   string   `env:"TABLE" envDefault:"cache"`
}

// QueueConfig holds configuration for the provider event queue and its workers
type QueueConfig struct {
	Connection   string `env:"CONNECTION" envDefault:"database"` // redis, database, sqs
	Name         string `env:"NAME" envDefault:"default"`
	Table        string `env:"TABLE" envDefault:"jobs"`
	FailedTable  string `env:"FAILED_TABLE" envDefault:"failed_jobs"`
	Concurrency  int    `env:"CONCURRENCY" envDefault:"5"`
	MaxTries     int    `env:"MAX_TRIES" envDefault:"3"`
	InlineEvents bool   `env:"INLINE_EVENTS" envDefault:"true"` // handle webhooks in the request instead of queueing
}

// MailConfig selects and configures the sending provider
type MailConfig struct {
	Mailer      string `env:"MAILER" envDefault:"log"` // ses, resend, mailgun, smtp, log
	FromAddress string `env:"FROM_ADDRESS"`
	FromName    string `env:"FROM_NAME"`

	Host       string `env:"HOST"`
	Port       int    `env:"PORT" envDefault:"587"`
	Username   string `env:"USERNAME"`
	Password   string `env:"PASSWORD"`
	Encryption string `env:"ENCRYPTION"`

	SESRegion           string `env:"SES_REGION"`
	SESProfile          string `env:"SES_PROFILE"`
	SESConfigurationSet string `env:"SES_CONFIGURATION_SET"`

	ResendKey string `env:"RESEND_KEY"`

	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailgunKey    string `env:"MAILGUN_KEY"`
	MailgunRegion string `env:"MAILGUN_REGION" envDefault:"us"`
}
