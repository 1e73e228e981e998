package schedule

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/pixelvide/ownmailer/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseLockProvider_MySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := NewDatabaseLockProvider(db, "mysql")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, 0)")).WithArgs("dispatch").
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).WithArgs("dispatch").
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(1))

	ok, err := p.GetLock(context.Background(), "dispatch", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// the same process does not take a lock it already holds
	ok, err = p.GetLock(context.Background(), "dispatch", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.ReleaseLock(context.Background(), "dispatch"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseLockProvider_MySQLBusy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := NewDatabaseLockProvider(db, "mysql")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(0))

	ok, err := p.GetLock(context.Background(), "dispatch", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	// nothing is held, so release does not reach the database
	require.NoError(t, p.ReleaseLock(context.Background(), "dispatch"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseLockProvider_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p := NewDatabaseLockProvider(db, "pgsql")
	key := hashName("dispatch")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"r"}).AddRow(true))

	ok, err := p.GetLock(context.Background(), "dispatch", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, p.ReleaseLock(context.Background(), "dispatch"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseLockProvider_SQLite(t *testing.T) {
	db, err := database.NewFactory().Connect(config.DatabaseConfig{Connection: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	first := NewDatabaseLockProvider(db, "sqlite")
	first.owner = "a"
	first.now = func() time.Time { return now }
	require.NoError(t, first.Migrate(ctx))

	second := NewDatabaseLockProvider(db, "sqlite")
	second.owner = "b"
	second.now = func() time.Time { return now }

	ok, err := first.GetLock(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.GetLock(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a release by someone else leaves the lock in place
	require.NoError(t, second.ReleaseLock(ctx, "dispatch"))
	ok, _ = second.GetLock(ctx, "dispatch", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = second.GetLock(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is taken over")

	require.NoError(t, second.ReleaseLock(ctx, "dispatch"))
	ok, _ = first.GetLock(ctx, "dispatch", time.Minute)
	assert.True(t, ok)
}
