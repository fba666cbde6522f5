package kv

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewPostgres(db, "genpipe_kv")
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	return store, mock
}

func TestPostgresGet(t *testing.T) {
	t.Parallel()
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM genpipe_kv WHERE key = $1")).
		WithArgs("credentials").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`{"access_token":"x"}`))

	got, err := store.Get(context.Background(), "credentials")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != `{"access_token":"x"}` {
		t.Fatalf("unexpected value %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetMissing(t *testing.T) {
	t.Parallel()
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM genpipe_kv WHERE key = $1")).
		WithArgs("credentials").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	if _, err := store.Get(context.Background(), "credentials"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresSetUpserts(t *testing.T) {
	t.Parallel()
	store, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO genpipe_kv \(key,value\) VALUES \(\$1,\$2\) ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("credentials", "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Set(context.Background(), "credentials", "{}"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresDeleteAndReset(t *testing.T) {
	t.Parallel()
	store, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM genpipe_kv WHERE key = $1")).
		WithArgs("credentials").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM genpipe_kv")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	ctx := context.Background()
	if err := store.Delete(ctx, "credentials"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockPostgres(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS genpipe_kv").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestNewPostgresRejectsUnsafeTableName(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewPostgres(db, "kv; DROP TABLE users"); err == nil {
		t.Fatal("expected invalid table name error")
	}
}
