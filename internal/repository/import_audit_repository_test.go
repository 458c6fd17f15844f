package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parks-console/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestImportAuditCreateAssignsDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportAuditRepository(db)

	mock.ExpectExec("INSERT INTO import_audits").WillReturnResult(sqlmock.NewResult(1, 1))

	audit := &models.ImportAudit{PageID: "employees", Resource: "employees", UserID: "u-1", FileName: "staff.csv", TotalRows: 3, SuccessCount: 3}
	require.NoError(t, repo.Create(context.Background(), audit))
	assert.NotEmpty(t, audit.ID)
	assert.False(t, audit.CreatedAt.IsZero())
	assert.Equal(t, []byte("[]"), audit.Failures)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportAuditListFiltersByPage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportAuditRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM import_audits WHERE page_id = $1")).
		WithArgs("employees").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	rows := sqlmock.NewRows([]string{"id", "page_id", "resource", "user_id", "file_name", "total_rows", "success_count", "failure_count", "failures", "created_at"}).
		AddRow("a-1", "employees", "employees", "u-1", "staff.csv", 3, 2, 1, []byte(`[{"row":2,"message":"duplicate email"}]`), now)
	mock.ExpectQuery("SELECT id, page_id, resource, user_id, file_name, total_rows, success_count, failure_count, failures, created_at\\s+FROM import_audits WHERE page_id = \\$1 ORDER BY created_at DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs("employees", 10, 10).
		WillReturnRows(rows)

	audits, total, err := repo.List(context.Background(), models.ImportAuditFilter{PageID: "employees", Page: 2, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, audits, 1)
	assert.Equal(t, 1, audits[0].FailureCount)
	assert.Contains(t, string(audits[0].Failures), "duplicate email")
	assert.NoError(t, mock.ExpectationsWereMet())
}
