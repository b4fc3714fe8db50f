package health_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/email-verification/internal/infrastructure/db"
	"github.com/avatarctic/email-verification/internal/infrastructure/health"
	"github.com/avatarctic/email-verification/internal/mocks"
)

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hc := health.NewRedisHealthChecker(client)
	assert.Equal(t, "redis", hc.Name())
	assert.NoError(t, hc.Check(context.Background()))

	mr.Close()
	assert.Error(t, hc.Check(context.Background()))
}

func TestDBHealthChecker(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectPing()
	hc := health.NewDBHealthChecker(db.NewDatabaseFromSQLX(sqlx.NewDb(mockDB, "postgres")))

	assert.Equal(t, "database", hc.Name())
	assert.NoError(t, hc.Check(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailHealthChecker(t *testing.T) {
	hc := health.NewEmailHealthChecker("log", &mocks.EmailDispatcherMock{})
	assert.Equal(t, "email:log", hc.Name())
	assert.NoError(t, hc.Check(context.Background()))

	assert.Error(t, health.NewEmailHealthChecker("smtp", nil).Check(context.Background()))
}
