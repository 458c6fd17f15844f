package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/parks-console/internal/models"
	"github.com/noah-isme/parks-console/pkg/jobs"
)

// JobTypeImportAudit identifies queued audit writes.
const JobTypeImportAudit = "import_audit"

type importAuditStore interface {
	Create(ctx context.Context, audit *models.ImportAudit) error
	List(ctx context.Context, filter models.ImportAuditFilter) ([]models.ImportAudit, int, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ImportAuditService records committed imports off the request path and lists them.
type ImportAuditService struct {
	store  importAuditStore
	queue  jobEnqueuer
	logger *zap.Logger
}

// NewImportAuditService constructs the service. With a nil queue audits are written inline.
func NewImportAuditService(store importAuditStore, queue jobEnqueuer, logger *zap.Logger) *ImportAuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportAuditService{store: store, queue: queue, logger: logger}
}

// Record queues the audit. Failures are logged, never returned.
func (s *ImportAuditService) Record(ctx context.Context, audit models.ImportAudit) {
	if s.queue == nil {
		if err := s.store.Create(ctx, &audit); err != nil {
			s.logger.Error("failed to write import audit", zap.String("page", audit.PageID), zap.Error(err))
		}
		return
	}
	if err := s.queue.Enqueue(jobs.Job{Type: JobTypeImportAudit, Payload: audit}); err != nil {
		s.logger.Error("failed to queue import audit", zap.String("page", audit.PageID), zap.Error(err))
	}
}

// List returns the audit history.
func (s *ImportAuditService) List(ctx context.Context, filter models.ImportAuditFilter) ([]models.ImportAudit, int, error) {
	return s.store.List(ctx, filter)
}

// ImportAuditJobHandler writes queued audits to the store.
func ImportAuditJobHandler(store importAuditStore) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		audit, ok := job.Payload.(models.ImportAudit)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s job", job.Payload, job.Type)
		}
		if audit.ID == "" {
			audit.ID = job.ID
		}
		return store.Create(ctx, &audit)
	}
}
