package landing

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewStore(sqlxDB), mock
}

func TestGet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(sqlmock.NewRows(nil))

	job, err := store.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job, got %+v", job)
	}
}

func TestGet_Found(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "status", "requester_email", "repository_name", "repository_url",
		"landed_commit_id", "error", "error_breakdown", "attempts", "priority",
		"duration_seconds", "formatted_replacements", "target_commit_hash", "created_at", "updated_at"}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(
		sqlmock.NewRows(cols).AddRow(
			int64(42), "SUBMITTED", "jane@example.com", "mozilla-central", "ssh://hg.mozilla.org/mozilla-central",
			"", "", nil, 0, 0, nil, "[]", nil, now, now,
		),
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT idx")).WillReturnRows(
		sqlmock.NewRows([]string{"idx", "revision_id", "diff_id"}).AddRow(0, "D1", 100),
	)

	job, err := store.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job == nil {
		t.Fatal("expected job, got nil")
	}
	if job.Status != StatusSubmitted || job.RequesterEmail != "jane@example.com" {
		t.Errorf("unexpected job: %+v", job)
	}
	if len(job.Revisions) != 1 || job.Revisions[0].RevisionID != "D1" {
		t.Errorf("unexpected revisions: %+v", job.Revisions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCancel_NotFoundReturnsError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.Cancel(context.Background(), 99, "jane@example.com")
	if err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestCancel_ForbiddenForNonRequester(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "status", "requester_email", "repository_name", "repository_url",
		"landed_commit_id", "error", "error_breakdown", "attempts", "priority",
		"duration_seconds", "formatted_replacements", "target_commit_hash", "created_at", "updated_at"}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(
		sqlmock.NewRows(cols).AddRow(
			int64(42), "SUBMITTED", "jane@example.com", "mozilla-central", "ssh://hg.mozilla.org/mozilla-central",
			"", "", nil, 0, 0, nil, "[]", nil, now, now,
		),
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT idx")).WillReturnRows(
		sqlmock.NewRows([]string{"idx", "revision_id", "diff_id"}),
	)

	_, err := store.Cancel(context.Background(), 42, "mallory@example.com")
	var forbidden *ErrCancelForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrCancelForbidden, got %v", err)
	}
}
