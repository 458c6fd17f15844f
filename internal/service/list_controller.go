package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
)

type collectionStore interface {
	Fetch(ctx context.Context, session *models.Session, def models.PageDefinition) (*CollectionSnapshot, error)
	Invalidate(ctx context.Context, keys ...string) error
	Subscribe(key string, fn func(key string)) func()
}

type recordMutator interface {
	recordCreator
	Update(ctx context.Context, session *models.Session, resource, id string, payload models.Record) (models.Record, error)
	Delete(ctx context.Context, session *models.Session, resource, id string) error
}

type importRecorder interface {
	Record(ctx context.Context, audit models.ImportAudit)
}

// ListDeps are the collaborators shared by every list page session.
type ListDeps struct {
	Cache      collectionStore
	Mutator    recordMutator
	Importer   *ImportService
	Exporter   *ExportService
	Validator  *RecordValidator
	Recorder   importRecorder
	Dependents func(key string) []string
	Logger     *zap.Logger
}

// ListController is the state of one mounted list page: its filters, pager
// position, last good collection and any pending import.
type ListController struct {
	id     string
	def    models.PageDefinition
	engine *FilterEngine
	deps   ListDeps
	logger *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu         sync.Mutex
	session    *models.Session
	status     models.ListStatus
	loading    bool
	loadGen    uint64
	loadErr    error
	records    models.Collection
	hasLoaded  bool
	snapGen    uint64
	loadedAt   time.Time
	filters    models.FilterSet
	page       models.PageState
	draft      *ImportDraft
	committing bool
	mutating   bool
	closed     bool
	lastSeen   time.Time
}

// NewListController mounts a page for the session. Call Load to fetch.
func NewListController(id string, def models.PageDefinition, session *models.Session, deps ListDeps) *ListController {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = NewRecordValidator(nil)
	}
	if deps.Dependents == nil {
		deps.Dependents = func(key string) []string { return []string{key} }
	}
	pageSize := def.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &ListController{
		id:       id,
		def:      def,
		engine:   NewFilterEngine(def.Filters),
		deps:     deps,
		logger:   deps.Logger.With(zap.String("session_id", id), zap.String("page", def.ID)),
		ctx:      ctx,
		cancel:   cancel,
		session:  session,
		status:   models.StatusIdle,
		filters:  models.NewFilterSet(def.Filters),
		page:     models.PageState{CurrentPage: 1, PageSize: pageSize},
		lastSeen: time.Now(),
	}
	c.unsubscribe = deps.Cache.Subscribe(def.CollectionKey(), c.onInvalidated)
	return c
}

// ID returns the session id.
func (c *ListController) ID() string { return c.id }

// Definition returns the mounted page definition.
func (c *ListController) Definition() models.PageDefinition { return c.def }

// Owner returns the user that mounted the page.
func (c *ListController) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.UserID
}

// Touch records activity and adopts the caller's latest credentials.
func (c *ListController) Touch(session *models.Session, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session != nil {
		c.session = session
	}
	c.lastSeen = at
}

// LastSeen reports the last activity time.
func (c *ListController) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Load fetches the collection. The fetch runs until the controller is closed
// even when ctx is cancelled, so a dropped client never strands the page in
// idle. A result that completes after Close, or that is older than the
// records already shown, is dropped. On failure the last good records stay
// visible next to the error.
func (c *ListController) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return appErrors.ErrSessionExpired
	}
	c.loadGen++
	gen := c.loadGen
	c.loading = true
	session := c.session
	c.mu.Unlock()

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.ctx, cancel)
	snap, err := c.deps.Cache.Fetch(fetchCtx, session, c.def)
	stop()
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	latest := gen == c.loadGen
	if latest {
		c.loading = false
	}
	if err != nil {
		if !latest {
			return err
		}
		c.loadErr = err
		if c.status != models.StatusPreviewing {
			c.status = models.StatusFailed
		}
		c.logger.Warn("collection load failed", zap.Error(err))
		return err
	}
	if c.hasLoaded && snap.Generation < c.snapGen {
		return nil
	}
	c.records = snap.Records
	c.loadedAt = snap.FetchedAt
	c.snapGen = snap.Generation
	c.hasLoaded = true
	c.loadErr = nil
	if c.status != models.StatusPreviewing {
		c.status = models.StatusReady
	}
	c.clampLocked()
	return nil
}

// statusLocked is the state shown to the page: any load outside a preview
// reads as idle until it settles.
func (c *ListController) statusLocked() models.ListStatus {
	if c.loading && c.status != models.StatusPreviewing {
		return models.StatusIdle
	}
	return c.status
}

func (c *ListController) onInvalidated(string) {
	c.mu.Lock()
	skip := c.closed || c.mutating
	c.mu.Unlock()
	if skip {
		return
	}
	go func() {
		if err := c.Load(c.ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, appErrors.ErrSessionExpired) {
			c.logger.Debug("background reload failed", zap.Error(err))
		}
	}()
}

// Retry reloads after a failed load.
func (c *ListController) Retry(ctx context.Context) error {
	c.mu.Lock()
	status := c.statusLocked()
	c.mu.Unlock()
	if status != models.StatusFailed {
		return appErrors.Clone(appErrors.ErrInvalidState, "retry is only available after a failed load")
	}
	return c.Load(ctx)
}

// View renders the current page of filtered records.
func (c *ListController) View() models.PageView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *ListController) viewLocked() models.PageView {
	filtered := c.engine.Apply(c.records, c.filters)
	page := Paginate(filtered, c.page.PageSize, c.page.CurrentPage)
	view := models.PageView{
		SessionID: c.id,
		PageID:    c.def.ID,
		Status:    c.statusLocked(),
		Loading:   c.loading,
		Filters:   c.filters.Clone(),
		Items:     page.Items,
		Pagination: models.Pagination{
			Page:       page.CurrentPage,
			PageSize:   page.PageSize,
			TotalCount: page.TotalCount,
			TotalPages: page.TotalPages,
		},
	}
	if c.loadErr != nil {
		view.Error = appErrors.FromError(c.loadErr).Message
	}
	if c.hasLoaded {
		loadedAt := c.loadedAt
		view.LoadedAt = &loadedAt
	}
	if c.draft != nil && c.deps.Importer != nil {
		view.Preview = c.deps.Importer.Preview(c.draft)
	}
	return view
}

func (c *ListController) clampLocked() {
	total := len(c.engine.Apply(c.records, c.filters))
	c.page.CurrentPage = ClampPage(c.page.CurrentPage, total, c.page.PageSize)
}

// SetFilters merges values into the filter set. Any effective change moves
// the pager back to page 1.
func (c *ListController) SetFilters(values models.FilterSet) (models.PageView, error) {
	if problems := c.checkFilters(values); len(problems) > 0 {
		return models.PageView{}, appErrors.WithDetails(appErrors.ErrValidation, problems)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == models.StatusPreviewing {
		return models.PageView{}, appErrors.Clone(appErrors.ErrInvalidState, "finish or cancel the import first")
	}
	next := c.filters.Clone()
	for name, value := range values {
		next[name] = value
	}
	if !next.Equal(c.filters) {
		c.page.CurrentPage = 1
	}
	c.filters = next
	c.clampLocked()
	return c.viewLocked(), nil
}

// ResetFilters restores every filter to "all".
func (c *ListController) ResetFilters() models.PageView {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := models.NewFilterSet(c.def.Filters)
	if !next.Equal(c.filters) {
		c.page.CurrentPage = 1
	}
	c.filters = next
	return c.viewLocked()
}

func (c *ListController) checkFilters(values models.FilterSet) map[string]string {
	declared := make(map[string]models.FilterSpec, len(c.def.Filters))
	for _, spec := range c.def.Filters {
		declared[spec.Name] = spec
	}
	problems := make(map[string]string)
	for name, value := range values {
		spec, ok := declared[name]
		if !ok {
			if _, isField := c.def.Field(name); !isField {
				problems[name] = "unknown filter"
			}
			continue
		}
		if value.IsUnconstrained() {
			continue
		}
		switch spec.Kind {
		case models.FilterDate:
			if _, ok := parseDate(value.Value); !ok {
				problems[name] = "must be a date"
			}
		case models.FilterRange:
			for _, bound := range []string{value.From, value.To} {
				if bound == "" {
					continue
				}
				if _, ok := parseDate(bound); !ok {
					problems[name] = "range bounds must be dates"
				}
			}
		}
	}
	return problems
}

// SetPage moves the pager, clamped to the available pages.
func (c *ListController) SetPage(page int) models.PageView {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page.CurrentPage = page
	c.clampLocked()
	return c.viewLocked()
}

func (c *ListController) authorize(roles []models.UserRole) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, appErrors.ErrSessionExpired
	}
	if !c.session.HasRole(roles) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "your role cannot change this page")
	}
	if status := c.statusLocked(); status != models.StatusReady {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("page is %s", status))
	}
	return c.session, nil
}

// Create validates and posts a new record, then refreshes the collection.
func (c *ListController) Create(ctx context.Context, payload models.Record) (models.Record, error) {
	session, err := c.authorize(c.def.Roles.Write)
	if err != nil {
		return nil, err
	}
	delete(payload, "id")
	record, err := c.deps.Validator.Check(c.def, payload, false)
	if err != nil {
		return nil, err
	}
	created, err := c.deps.Mutator.Create(ctx, session, c.def.Resource, record)
	if err != nil {
		return nil, err
	}
	c.afterMutation(ctx)
	return created, nil
}

// Update validates the sent fields and replaces the record.
func (c *ListController) Update(ctx context.Context, id string, payload models.Record) (models.Record, error) {
	session, err := c.authorize(c.def.Roles.Write)
	if err != nil {
		return nil, err
	}
	delete(payload, "id")
	record, err := c.deps.Validator.Check(c.def, payload, true)
	if err != nil {
		return nil, err
	}
	updated, err := c.deps.Mutator.Update(ctx, session, c.def.Resource, id, record)
	if err != nil {
		return nil, err
	}
	c.afterMutation(ctx)
	return updated, nil
}

// Delete removes a record.
func (c *ListController) Delete(ctx context.Context, id string) error {
	session, err := c.authorize(c.def.Roles.Write)
	if err != nil {
		return err
	}
	if err := c.deps.Mutator.Delete(ctx, session, c.def.Resource, id); err != nil {
		return err
	}
	c.afterMutation(ctx)
	return nil
}

// afterMutation marks the collection and its dependents stale and refetches.
// Other sessions reload on the invalidation notice; this one reloads inline.
func (c *ListController) afterMutation(ctx context.Context) {
	keys := c.deps.Dependents(c.def.CollectionKey())
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	c.mutating = true
	c.mu.Unlock()
	err := c.deps.Cache.Invalidate(ctx, keys...)
	c.mu.Lock()
	c.mutating = false
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("shared cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
	if err := c.Load(ctx); err != nil {
		c.logger.Debug("reload after mutation failed", zap.Error(err))
	}
}

// Export renders the requested slice of the collection.
func (c *ListController) Export(scope models.ExportScope, format ExportFormat) (*ExportFile, error) {
	c.mu.Lock()
	if status := c.statusLocked(); status != models.StatusReady {
		c.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot export while page is %s", status))
	}
	var records []models.Record
	switch scope {
	case models.ExportAll:
		records = c.records
	case models.ExportVisible:
		records = c.viewLocked().Items
	case models.ExportFiltered, "":
		records = c.engine.Apply(c.records, c.filters)
	default:
		c.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown export scope %q", scope))
	}
	c.mu.Unlock()
	return c.deps.Exporter.Export(c.def, records, format)
}

// BeginImport parses an upload and enters the preview state.
func (c *ListController) BeginImport(fileName string, r io.Reader, override models.ImportMapping) (*models.ImportPreview, error) {
	if _, err := c.authorize(c.def.Roles.Import); err != nil {
		return nil, err
	}
	draft, err := c.deps.Importer.Prepare(c.def, fileName, r, override)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if status := c.statusLocked(); status != models.StatusReady {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("page is %s", status))
	}
	c.draft = draft
	c.status = models.StatusPreviewing
	return c.deps.Importer.Preview(draft), nil
}

// UpdateMapping changes the column mapping of the pending import.
func (c *ListController) UpdateMapping(mapping models.ImportMapping) (*models.ImportPreview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != models.StatusPreviewing || c.draft == nil || c.committing {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "no import is waiting for confirmation")
	}
	if err := c.deps.Importer.Remap(c.def, c.draft, mapping); err != nil {
		return nil, err
	}
	return c.deps.Importer.Preview(c.draft), nil
}

// CancelImport discards the pending import.
func (c *ListController) CancelImport() (models.PageView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != models.StatusPreviewing || c.committing {
		return models.PageView{}, appErrors.Clone(appErrors.ErrInvalidState, "no import is waiting for confirmation")
	}
	c.draft = nil
	c.restoreAfterPreviewLocked()
	return c.viewLocked(), nil
}

func (c *ListController) restoreAfterPreviewLocked() {
	c.status = models.StatusReady
	if c.loadErr != nil {
		c.status = models.StatusFailed
	}
}

// ConfirmImport commits the pending import. Rows fail independently; when any
// row was created the collection is refreshed. A batch-level failure keeps
// the preview open for another attempt.
func (c *ListController) ConfirmImport(ctx context.Context) (*models.ImportReport, error) {
	c.mu.Lock()
	if c.status != models.StatusPreviewing || c.draft == nil || c.committing {
		c.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "no import is waiting for confirmation")
	}
	if !c.session.HasRole(c.def.Roles.Import) {
		c.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrForbidden, "your role cannot import into this page")
	}
	c.committing = true
	draft := c.draft
	session := c.session
	c.mu.Unlock()

	report, err := c.deps.Importer.Commit(ctx, session, c.def, draft, c.deps.Mutator)

	c.mu.Lock()
	c.committing = false
	if c.closed {
		c.mu.Unlock()
		return report, err
	}
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.draft = nil
	c.restoreAfterPreviewLocked()
	c.mu.Unlock()

	c.record(ctx, session, draft, report)
	if report.SuccessCount > 0 {
		c.afterMutation(ctx)
	}
	return report, nil
}

func (c *ListController) record(ctx context.Context, session *models.Session, draft *ImportDraft, report *models.ImportReport) {
	if c.deps.Recorder == nil {
		return
	}
	failures, err := json.Marshal(report.Failures)
	if err != nil {
		failures = []byte("[]")
	}
	audit := models.ImportAudit{
		PageID:       c.def.ID,
		Resource:     c.def.Resource,
		FileName:     draft.FileName,
		TotalRows:    report.TotalRows,
		SuccessCount: report.SuccessCount,
		FailureCount: report.FailureCount,
		Failures:     failures,
	}
	if session != nil {
		audit.UserID = session.UserID
	}
	c.deps.Recorder.Record(ctx, audit)
}

// Close unmounts the page. In-flight loads are cancelled and their results dropped.
func (c *ListController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.draft = nil
	c.mu.Unlock()
	c.cancel()
	c.unsubscribe()
}
