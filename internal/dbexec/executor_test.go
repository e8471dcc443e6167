package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardExecutor_NilDB(t *testing.T) {
	executor := NewStandardExecutor(nil)

	_, err := executor.QueryContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	_, err = executor.ExecContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	_, err = executor.BeginTx(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, executor.Close())
}

func TestScope_Commit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `users`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := NewStandardExecutor(db).BeginTx(context.Background())
	require.NoError(t, err)
	scope := NewScope(tx)
	_, err = scope.Tx().ExecContext(context.Background(), "DELETE FROM `users` WHERE `id` = ?", "u1")
	require.NoError(t, err)

	require.NoError(t, scope.Finalize())
	// Finalize is idempotent.
	require.NoError(t, scope.Finalize())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScope_RollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users`").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	tx, err := NewStandardExecutor(db).BeginTx(context.Background())
	require.NoError(t, err)
	scope := NewScope(tx)
	_, err = scope.Tx().ExecContext(context.Background(), "UPDATE `users` SET `name` = ?", "x")
	require.Error(t, err)
	scope.MarkError()

	require.NoError(t, scope.Finalize())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginTx_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("no connection"))

	_, err = NewStandardExecutor(db).BeginTx(context.Background())
	assert.ErrorContains(t, err, "failed to begin transaction")
}
