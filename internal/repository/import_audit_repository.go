package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/parks-console/internal/models"
)

// ImportAuditRepository persists committed import reports.
type ImportAuditRepository struct {
	db *sqlx.DB
}

// NewImportAuditRepository constructs the repository.
func NewImportAuditRepository(db *sqlx.DB) *ImportAuditRepository {
	return &ImportAuditRepository{db: db}
}

// Create inserts one audit row.
func (r *ImportAuditRepository) Create(ctx context.Context, audit *models.ImportAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	if len(audit.Failures) == 0 {
		audit.Failures = []byte("[]")
	}
	const query = `INSERT INTO import_audits
	(id, page_id, resource, user_id, file_name, total_rows, success_count, failure_count, failures, created_at)
	VALUES (:id, :page_id, :resource, :user_id, :file_name, :total_rows, :success_count, :failure_count, :failures, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, audit); err != nil {
		return fmt.Errorf("create import audit: %w", err)
	}
	return nil
}

// List returns audits newest first together with the total match count.
func (r *ImportAuditRepository) List(ctx context.Context, filter models.ImportAuditFilter) ([]models.ImportAudit, int, error) {
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 4)
	if filter.PageID != "" {
		args = append(args, filter.PageID)
		conditions = append(conditions, fmt.Sprintf("page_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM import_audits"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count import audits: %w", err)
	}

	size := filter.Size
	if size <= 0 {
		size = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT id, page_id, resource, user_id, file_name, total_rows, success_count, failure_count, failures, created_at
	FROM import_audits%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	var audits []models.ImportAudit
	if err := r.db.SelectContext(ctx, &audits, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list import audits: %w", err)
	}
	return audits, total, nil
}
