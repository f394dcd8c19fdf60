package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/draft"
	"posledger/backend/internal/lock"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Drafts         draft.Store
	Locker         lock.Locker
	Logger         *zap.Logger
	DefaultStoreID string
	Settings       domain.Settings
	// ApproveOverride checks a manager PIN for credit limit overrides by
	// non-admin actors. Nil accepts every override.
	ApproveOverride func(pin string) bool
}

type Service struct {
	repo            store.Repository
	drafts          draft.Store
	locker          lock.Locker
	log             *zap.Logger
	validate        *validator.Validate
	defaultStoreID  string
	approveOverride func(pin string) bool
	now             func() time.Time

	mu       sync.RWMutex
	settings domain.Settings
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.Drafts == nil {
		opts.Drafts = draft.NewMemoryStore()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		repo:            repo,
		drafts:          opts.Drafts,
		locker:          opts.Locker,
		log:             opts.Logger.Named("service"),
		validate:        newValidator(),
		defaultStoreID:  opts.DefaultStoreID,
		approveOverride: opts.ApproveOverride,
		now:             func() time.Time { return time.Now().UTC() },
		settings:        normalizeSettings(opts.Settings),
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *Service) storeOrDefault(storeID string) string {
	if strings.TrimSpace(storeID) == "" {
		return s.defaultStoreID
	}
	return storeID
}

// dayRange parses a YYYY-MM-DD date into [start, start+24h). An empty date
// means today.
func (s *Service) dayRange(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := s.now()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, invalidf("date must be YYYY-MM-DD")
		}
		day = parsed.UTC()
	}
	return day, day.Add(24 * time.Hour), nil
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	storeID = s.storeOrDefault(storeID)

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn("write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	from, to, err := s.dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, s.storeOrDefault(storeID), from, to, limit)
}
