package executions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Store{db: db}, mock
}

func TestStore_StartPropagatesInsertError(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec("INSERT INTO report_executions").
		WillReturnError(errors.New("disk I/O error"))

	_, err := store.Start(context.Background(), "s", 1, TriggerTimer, time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "inserting execution")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FinalizeReportsAlreadyFinalized(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec("UPDATE report_executions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := store.Finalize(context.Background(), "exec-1", Outcome{Status: StatusSuccess, CompletedAt: time.Now()})
	require.ErrorIs(t, err, ErrAlreadyFinalized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HasRunningQueryError(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("sched-1").
		WillReturnError(errors.New("database is locked"))

	_, err := store.HasRunning(context.Background(), "sched-1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
