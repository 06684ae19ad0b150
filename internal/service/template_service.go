package service

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/cache"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/repository"
	"github.com/solvejet/pixe-whatspp-sub001/internal/whatsapp"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

const (
	templateKeyPrefix     = "template:"
	templateIDKeyPrefix   = "template:id:"
	templateListKeyPrefix = "template:list:"
	defaultTemplateTTL    = time.Hour
)

var templateNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,512}$`)

// TemplateService mirrors provider templates locally behind a cache.
type TemplateService struct {
	templates  repository.TemplateRepository
	provider   TemplateProvider
	cache      cache.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
	ttl        time.Duration
	clock      Clock
}

// TemplateDependencies bundles collaborators for the template service.
type TemplateDependencies struct {
	TemplateRepo repository.TemplateRepository
	Provider     TemplateProvider
	Cache        cache.Store
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	TTL          time.Duration
	Clock        Clock
}

// TemplateInput describes a new template.
type TemplateInput struct {
	Name       string
	Language   string
	Category   string
	Components []domain.TemplateComponent
}

// TemplateListFilter narrows template listings.
type TemplateListFilter struct {
	Status   domain.TemplateStatus
	Category domain.TemplateCategory
}

// SyncResult reports a completed sync.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Upserted int `json:"upserted"`
}

// NewTemplateService constructs the service.
func NewTemplateService(deps TemplateDependencies) *TemplateService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultTemplateTTL
	}
	return &TemplateService{
		templates:  deps.TemplateRepo,
		provider:   deps.Provider,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		logger:     logger.Named("templates"),
		ttl:        ttl,
		clock:      deps.Clock,
	}
}

func templateIDKey(id string) string {
	return templateIDKeyPrefix + id
}

func templateListKey(f TemplateListFilter) string {
	return templateListKeyPrefix + string(f.Status) + ":" + string(f.Category)
}

// Get returns a template, reading through the cache.
func (s *TemplateService) Get(ctx context.Context, id string) (*domain.Template, error) {
	if !validID(id) {
		return nil, apperrors.NewNotFound("template", map[string]any{"id": id})
	}
	var cached domain.Template
	if s.readCache(ctx, templateIDKey(id), &cached) {
		return &cached, nil
	}

	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "template", id)
	}
	s.writeCache(ctx, templateIDKey(id), t)
	return t, nil
}

// List returns templates matching the filter, reading through the cache.
func (s *TemplateService) List(ctx context.Context, filter TemplateListFilter) ([]domain.Template, error) {
	if filter.Status != "" {
		switch filter.Status {
		case domain.TemplateStatusPending, domain.TemplateStatusApproved, domain.TemplateStatusRejected:
		default:
			return nil, apperrors.NewValidationError("invalid template status", map[string]any{"status": string(filter.Status)})
		}
	}
	if filter.Category != "" {
		category, ok := domain.ParseTemplateCategory(string(filter.Category))
		if !ok {
			return nil, apperrors.NewValidationError("invalid template category", map[string]any{"category": string(filter.Category)})
		}
		filter.Category = category
	}

	key := templateListKey(filter)
	var cached []domain.Template
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}
	items, err := s.templates.List(ctx, repository.TemplateFilter{Status: filter.Status, Category: filter.Category})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if items == nil {
		items = []domain.Template{}
	}
	s.writeCache(ctx, key, items)
	return items, nil
}

// GetByName returns the local mirror of a template by its business key.
func (s *TemplateService) GetByName(ctx context.Context, name, language string) (*domain.Template, error) {
	t, err := s.templates.GetByNameLanguage(ctx, name, language)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("template", map[string]any{"name": name, "language": language})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return t, nil
}

// Create submits a template for review and stores the local mirror.
func (s *TemplateService) Create(ctx context.Context, in TemplateInput) (*domain.Template, error) {
	category, err := validateTemplateInput(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.templates.GetByNameLanguage(ctx, in.Name, in.Language); err == nil {
		return nil, apperrors.NewConflict("template already exists", map[string]any{"name": in.Name, "language": in.Language})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}

	created, err := s.provider.CreateTemplate(ctx, whatsapp.TemplateRequest{
		Name:       in.Name,
		Language:   in.Language,
		Category:   string(category),
		Components: in.Components,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := domain.ParseTemplateCategory(created.Category); ok {
		category = c
	}

	t := &domain.Template{
		ID:                 uuid.NewString(),
		ProviderTemplateID: created.ID,
		Name:               in.Name,
		Language:           in.Language,
		Category:           category,
		Components:         in.Components,
		Status:             domain.ParseTemplateStatus(created.Status),
	}
	if err := s.templates.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("template already exists", map[string]any{"name": in.Name, "language": in.Language})
		}
		return nil, apperrors.NewInternalError(err)
	}
	s.invalidate(ctx, "")
	return t, nil
}

// Update replaces the components of a template. Edited templates go back to review.
func (s *TemplateService) Update(ctx context.Context, id string, components []domain.TemplateComponent) (*domain.Template, error) {
	if err := validateComponents(components); err != nil {
		return nil, err
	}
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.provider.EditTemplate(ctx, t.ProviderTemplateID, components); err != nil {
		return nil, err
	}
	t.Components = components
	t.Status = domain.TemplateStatusPending
	t.RejectedReason = ""
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, notFoundOr(err, "template", id)
	}
	s.invalidate(ctx, id)
	return t, nil
}

// Delete removes a template remotely and locally.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.provider.DeleteTemplate(ctx, t.Name, t.ProviderTemplateID); err != nil && !isProviderGone(err) {
		return err
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		return notFoundOr(err, "template", id)
	}
	s.invalidate(ctx, id)
	return nil
}

// Sync pulls every remote template, upserts by (name, language) and flushes
// the whole template cache namespace.
func (s *TemplateService) Sync(ctx context.Context) (SyncResult, error) {
	remote, err := s.provider.ListTemplates(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	now := s.clock.now()
	batch := make([]domain.Template, 0, len(remote))
	for _, rt := range remote {
		if rt.Name == "" || rt.Language == "" {
			continue
		}
		category, ok := domain.ParseTemplateCategory(rt.Category)
		if !ok {
			category = domain.TemplateCategory(strings.ToUpper(rt.Category))
		}
		syncedAt := now
		batch = append(batch, domain.Template{
			ProviderTemplateID: rt.ID,
			Name:               rt.Name,
			Language:           rt.Language,
			Category:           category,
			Components:         rt.Components,
			Status:             domain.ParseTemplateStatus(rt.Status),
			RejectedReason:     rejectedReason(rt.RejectedReason),
			SyncedAt:           &syncedAt,
		})
	}
	n, err := s.templates.UpsertBatch(ctx, batch)
	if err != nil {
		return SyncResult{}, apperrors.NewInternalError(err)
	}
	if s.cache != nil {
		if _, err := s.cache.DeleteByPrefix(ctx, templateKeyPrefix); err != nil {
			s.logger.Warn("template cache flush failed", zap.Error(err))
		}
	}

	s.logger.Info("templates synced", zap.Int("fetched", len(remote)), zap.Int("upserted", n))
	events.Emit(ctx, s.dispatcher, events.Event{
		Type:    events.EventTemplateSynced,
		Actor:   events.SystemActor,
		Payload: events.TemplateSyncedPayload{Upserted: n},
	})
	return SyncResult{Fetched: len(remote), Upserted: n}, nil
}

// ApplyStatusUpdate records a review decision pushed by the provider.
// Templates not mirrored locally are ignored.
func (s *TemplateService) ApplyStatusUpdate(ctx context.Context, providerTemplateID, event, reason string) error {
	status := domain.ParseTemplateStatus(event)
	t, err := s.templates.UpdateStatusByProviderID(ctx, providerTemplateID, status, rejectedReason(reason))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("status update for unknown template", zap.String("provider_template_id", providerTemplateID))
			return nil
		}
		return apperrors.NewInternalError(err)
	}
	s.invalidate(ctx, t.ID)
	events.Emit(ctx, s.dispatcher, events.Event{
		Type:      events.EventTemplateStatusChanged,
		SubjectID: t.ID,
		Actor:     events.SystemActor,
		Payload: events.TemplateStatusChangedPayload{
			Name:     t.Name,
			Language: t.Language,
			Status:   t.Status,
			Reason:   t.RejectedReason,
		},
	})
	return nil
}

func (s *TemplateService) load(ctx context.Context, id string) (*domain.Template, error) {
	if !validID(id) {
		return nil, apperrors.NewNotFound("template", map[string]any{"id": id})
	}
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "template", id)
	}
	return t, nil
}

// invalidate drops the cached entry for id, when given, and every cached list.
func (s *TemplateService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if id != "" {
		if err := s.cache.Delete(ctx, templateIDKey(id)); err != nil {
			s.logger.Warn("template cache delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	if _, err := s.cache.DeleteByPrefix(ctx, templateListKeyPrefix); err != nil {
		s.logger.Warn("template list cache flush failed", zap.Error(err))
	}
}

// readCache reports a hit. Cache faults degrade to a miss.
func (s *TemplateService) readCache(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("template cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		_ = s.cache.Delete(ctx, key)
		return false
	}
	return true
}

func (s *TemplateService) writeCache(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn("template cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func validateTemplateInput(in TemplateInput) (domain.TemplateCategory, error) {
	if !templateNamePattern.MatchString(in.Name) {
		return "", apperrors.NewValidationError("template name must be lowercase letters, digits or underscores", map[string]any{"name": in.Name})
	}
	if strings.TrimSpace(in.Language) == "" {
		return "", apperrors.NewValidationError("template language is required", nil)
	}
	category, ok := domain.ParseTemplateCategory(in.Category)
	if !ok {
		return "", apperrors.NewValidationError("invalid template category", map[string]any{"category": in.Category})
	}
	return category, validateComponents(in.Components)
}

func validateComponents(components []domain.TemplateComponent) error {
	for _, c := range components {
		if strings.EqualFold(c.Type, "BODY") && strings.TrimSpace(c.Text) != "" {
			return nil
		}
	}
	return apperrors.NewValidationError("template needs a BODY component with text", nil)
}

// rejectedReason drops the provider's "NONE" placeholder.
func rejectedReason(raw string) string {
	if strings.EqualFold(raw, "NONE") {
		return ""
	}
	return raw
}
