package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
)

type definitionLookup interface {
	Get(id string) (models.PageDefinition, bool)
	DependentsOf(key string) []string
}

type cacheJanitor interface {
	Prune(cutoff time.Time) int
}

// SessionConfig governs page session lifetime.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// SessionService mounts list pages and tracks them until they are unmounted
// or sit idle past the configured TTL.
type SessionService struct {
	pages   definitionLookup
	deps    ListDeps
	metrics *MetricsService
	logger  *zap.Logger
	cfg     SessionConfig
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*ListController
}

// NewSessionService constructs the registry. deps.Dependents defaults to the definition registry.
func NewSessionService(pages definitionLookup, deps ListDeps, metrics *MetricsService, logger *zap.Logger, cfg SessionConfig) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	if deps.Dependents == nil {
		deps.Dependents = pages.DependentsOf
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &SessionService{
		pages:    pages,
		deps:     deps,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*ListController),
	}
}

// Mount creates a session for the page and performs the first load. A failed
// first load still returns the session, in the failed state, with the error.
func (s *SessionService) Mount(ctx context.Context, session *models.Session, pageID string) (*ListController, error) {
	def, ok := s.pages.Get(pageID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "page not found")
	}
	controller := NewListController(uuid.NewString(), def, session, s.deps)
	controller.Touch(nil, s.now())

	s.mu.Lock()
	s.sessions[controller.ID()] = controller
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)

	s.logger.Debug("page mounted", zap.String("page", pageID), zap.String("session_id", controller.ID()), zap.String("user_id", scopeOf(session)))
	return controller, controller.Load(ctx)
}

// Get returns the caller's session and refreshes its activity.
func (s *SessionService) Get(session *models.Session, id string) (*ListController, error) {
	s.mu.RLock()
	controller, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.ErrSessionExpired
	}
	if session == nil || controller.Owner() != session.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "page session not found")
	}
	controller.Touch(session, s.now())
	return controller, nil
}

// Unmount closes the session.
func (s *SessionService) Unmount(session *models.Session, id string) error {
	controller, err := s.Get(session, id)
	if err != nil {
		return err
	}
	s.remove(id)
	controller.Close()
	return nil
}

func (s *SessionService) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)
}

// Count returns the number of mounted sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep closes sessions idle since before the cutoff and returns their ids.
func (s *SessionService) Sweep(cutoff time.Time) []string {
	s.mu.RLock()
	var expired []*ListController
	for _, controller := range s.sessions {
		if controller.LastSeen().Before(cutoff) {
			expired = append(expired, controller)
		}
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(expired))
	for _, controller := range expired {
		s.remove(controller.ID())
		controller.Close()
		ids = append(ids, controller.ID())
	}
	sort.Strings(ids)
	if janitor, ok := s.deps.Cache.(cacheJanitor); ok {
		janitor.Prune(cutoff)
	}
	return ids
}

// Run sweeps idle sessions until ctx is done.
func (s *SessionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := s.Sweep(s.now().Add(-s.cfg.IdleTTL)); len(ids) > 0 {
				s.logger.Info("expired idle page sessions", zap.Int("count", len(ids)))
			}
		}
	}
}

// Shutdown closes every session.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*ListController)
	s.mu.Unlock()
	for _, controller := range sessions {
		controller.Close()
	}
	s.metrics.SetActiveSessions(0)
}
