package app

import (
	"context"
	"testing"
	"time"

	"github.com/pixelvide/ownmailer/pkg/config"
	dbdriver "github.com/pixelvide/ownmailer/pkg/driver/database"
	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/mail"
	"github.com/pixelvide/ownmailer/pkg/request"
	"github.com/pixelvide/ownmailer/pkg/schedule"
	"github.com/pixelvide/ownmailer/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{ScheduleGrace: time.Minute},
		Database: config.DatabaseConfig{Connection: "sqlite", Database: ":memory:", Table: "emails"},
		Cache:    config.CacheConfig{Store: "database", Table: "cache"},
		Queue:    config.QueueConfig{Connection: "database", Name: "default", Table: "jobs", FailedTable: "failed_jobs", MaxTries: 3, InlineEvents: true},
		Mail:     config.MailConfig{Mailer: "log", FromAddress: "noreply@acme.test"},
	}
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), Options{})
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.DB)
	assert.IsType(t, &store.SQLStore{}, a.Store)
	assert.IsType(t, &mail.LogMailer{}, a.Mailer)
	assert.IsType(t, &dbdriver.DatabaseDriver{}, a.Driver)
	assert.IsType(t, &dbdriver.DatabaseFailedJobProvider{}, a.Failed)
	assert.IsType(t, &schedule.DatabaseLockProvider{}, a.Locks)
	assert.Nil(t, a.Publisher)

	require.NoError(t, a.Migrate(ctx))
	require.NoError(t, a.Migrate(ctx), "migrations are repeatable")

	sent, err := a.Service.SendEmail(ctx, request.SendBody{
		From:    "hello@acme.test",
		To:      request.Recipients{"bob@example.com"},
		Subject: "Hi",
		Text:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, email.StatusSent, sent.Status())

	got, err := a.Service.GetEmail(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, sent.ExternalID, got.ExternalID)
}

func TestNew_MemoryStore(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Connection = StoreMemory
	cfg.Cache.Store = "memory"
	cfg.Queue.InlineEvents = false

	a, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.MemoryStore{}, a.Store)
	// the database queue still needs SQL, which falls back to SQLite
	require.NotNil(t, a.DB)
	assert.NotNil(t, a.Publisher)
	require.NoError(t, a.Migrate(context.Background()))
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown cache", func(c *config.Config) { c.Cache.Store = "file" }},
		{"memcached without servers", func(c *config.Config) { c.Cache.Store = "memcached" }},
		{"unknown queue", func(c *config.Config) { c.Queue.Connection = "beanstalkd" }},
		{"unknown mailer", func(c *config.Config) { c.Mail.Mailer = "carrier-pigeon" }},
		{"unknown database", func(c *config.Config) { c.Database.Connection = "oracle" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, Options{})
			assert.Error(t, err)
		})
	}
}
