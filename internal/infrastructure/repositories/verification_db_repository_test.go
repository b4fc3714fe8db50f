package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
	"github.com/avatarctic/email-verification/internal/infrastructure/db"
)

var sessionColumnNames = []string{
	"id", "session_handle", "email", "code", "expires_at", "attempts", "resend_count",
	"last_sent_at", "purpose", "status", "version", "created_at", "updated_at",
}

func newDBRepo(t *testing.T) (*VerificationDBRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	database := db.NewDatabaseFromSQLX(sqlx.NewDb(mockDB, "postgres"))
	return NewVerificationDBRepository(database, logrus.New()), mock
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestDBRepository_Create(t *testing.T) {
	repo, mock := newDBRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_sessions")).
		WithArgs(anyArgs(13)...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Create(context.Background(), pendingSession("h1", "a@x.com", t0))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, int64(1), created.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_CreateDuplicateHandle(t *testing.T) {
	repo, mock := newDBRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_sessions")).
		WithArgs(anyArgs(13)...).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Create(context.Background(), pendingSession("h1", "a@x.com", t0))
	assert.ErrorIs(t, err, verification.ErrDuplicateHandle)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_Update(t *testing.T) {
	repo, mock := newDBRepo(t)
	s := pendingSession("h1", "a@x.com", t0)
	s.ID = uuid.New()
	s.Version = 3

	mock.ExpectExec(regexp.QuoteMeta("UPDATE verification_sessions")).
		WithArgs(append([]driver.Value{s.ID.String(), int64(3)}, anyArgs(7)...)...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), s))
	assert.Equal(t, int64(4), s.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_UpdateStaleVersion(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{name: "conflict", exists: true, want: verification.ErrConcurrentUpdate},
		{name: "missing", exists: false, want: verification.ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newDBRepo(t)
			s := pendingSession("h1", "a@x.com", t0)
			s.ID = uuid.New()
			s.Version = 1

			mock.ExpectExec(regexp.QuoteMeta("UPDATE verification_sessions")).
				WithArgs(anyArgs(9)...).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
				WithArgs(sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			err := repo.Update(context.Background(), s)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(1), s.Version)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDBRepository_GetByHandle(t *testing.T) {
	repo, mock := newDBRepo(t)
	id := uuid.New()

	rows := sqlmock.NewRows(sessionColumnNames).AddRow(
		id.String(), "h1", "a@x.com", "123456", t0.Add(5*time.Minute), int64(1), int64(0),
		t0, "registration", "pending", int64(2), t0, t0,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM verification_sessions WHERE session_handle = $1")).
		WithArgs("h1").
		WillReturnRows(rows)

	s, err := repo.GetByHandle(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, verification.PurposeRegistration, s.Purpose)
	assert.Equal(t, verification.StatusPending, s.Status)
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, int64(2), s.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_GetByHandleNotFound(t *testing.T) {
	repo, mock := newDBRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM verification_sessions WHERE session_handle = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByHandle(context.Background(), "missing")
	assert.ErrorIs(t, err, verification.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_GetActiveFor(t *testing.T) {
	repo, mock := newDBRepo(t)

	// verified sessions rank before pending ones
	mock.ExpectQuery(regexp.QuoteMeta("WHERE email = $1 AND purpose = $2 AND status IN ($3, $4)") +
		`\s+` + regexp.QuoteMeta("ORDER BY (status = $4) DESC, created_at DESC")).
		WithArgs("a@x.com", "password_reset", "pending", "verified").
		WillReturnRows(sqlmock.NewRows(sessionColumnNames))

	_, err := repo.GetActiveFor(context.Background(), "a@x.com", verification.PurposePasswordReset)
	assert.ErrorIs(t, err, verification.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_QueryFailureIsWrapped(t *testing.T) {
	repo, mock := newDBRepo(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("FROM verification_sessions WHERE session_handle = $1")).
		WillReturnError(boom)

	_, err := repo.GetByHandle(context.Background(), "h1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, verification.ErrSessionNotFound)
}
