package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
	assert.Equal(t, TypeSQLite, store.Name())
	assert.NoError(t, store.Ping(context.Background()))
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "user_42_username", "alice"))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	value, ok, err := store.Get(ctx, "user_42_username")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", value)
}

func newMockPostgresStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewSQLStore(context.Background(), db, DialectPostgres)
	require.NoError(t, err)
	return store, mock
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_entries WHERE key = $1")).
		WithArgs("user_42_username").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("alice"))

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3)")).
		WithArgs("user_77_username", "Bob Smith", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv_entries WHERE key = $1")).
		WithArgs("registering_user").
		WillReturnResult(sqlmock.NewResult(0, 1))

	value, ok, err := store.Get(ctx, "user_42_username")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", value)

	require.NoError(t, store.Set(ctx, "user_77_username", "Bob Smith"))
	require.NoError(t, store.Remove(ctx, "registering_user"))

	assert.Equal(t, TypePostgres, store.Name())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_QueryError(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT value FROM kv_entries").
		WillReturnError(errors.New("connection reset"))

	_, _, err := store.Get(context.Background(), "user_1_username")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLStore_CreateTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries").WillReturnError(errors.New("permission denied"))

	_, err = NewSQLStore(context.Background(), db, DialectPostgres)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "", 0)
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	lite := &SQLStore{dialect: DialectSQLite}

	query := "INSERT INTO t VALUES (?, ?, ?)"
	assert.Equal(t, "INSERT INTO t VALUES ($1, $2, $3)", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}
