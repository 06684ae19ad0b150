package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

// memoryData is the shared state behind the in-memory repositories. Records
// are stored by value and copied on the way in and out.
type memoryData struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	messages      map[string]domain.Message
	media         map[string]domain.Media
	templates     map[string]domain.Template
}

// NewMemoryStore builds repositories backed by process memory. It serves
// tests and single-process deployments without a database.
func NewMemoryStore() Store {
	data := &memoryData{
		conversations: map[string]domain.Conversation{},
		messages:      map[string]domain.Message{},
		media:         map[string]domain.Media{},
		templates:     map[string]domain.Template{},
	}
	return Store{
		Conversations: &memoryConversations{data},
		Messages:      &memoryMessages{data},
		Media:         &memoryMedia{data},
		Templates:     &memoryTemplates{data},
	}
}

type memoryConversations struct{ *memoryData }

func (r *memoryConversations) Create(ctx context.Context, c *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conversations {
		if existing.CustomerPhone == c.CustomerPhone && existing.BusinessPhoneID == c.BusinessPhoneID {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	stored := *c
	stored.Metadata = c.Metadata.Clone()
	r.conversations[c.ID] = stored
	return nil
}

func (r *memoryConversations) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Metadata = c.Metadata.Clone()
	return &c, nil
}

func (r *memoryConversations) GetByParticipants(ctx context.Context, customerPhone, businessPhoneID string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conversations {
		if c.CustomerPhone == customerPhone && c.BusinessPhoneID == businessPhoneID {
			c.Metadata = c.Metadata.Clone()
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryConversations) RecordActivity(ctx context.Context, id string, at, expiresAt time.Time, inbound bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	if expiresAt.After(c.ExpiresAt) {
		c.ExpiresAt = expiresAt
	}
	if inbound && (c.LastInboundAt == nil || at.After(*c.LastInboundAt)) {
		inboundAt := at
		c.LastInboundAt = &inboundAt
	}
	if c.Status != domain.ConversationStatusClosed {
		c.Status = domain.ConversationStatusActive
	}
	c.UpdatedAt = time.Now().UTC()
	r.conversations[id] = c
	return nil
}

func (r *memoryConversations) UpdateMetadata(ctx context.Context, id string, metadata domain.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Metadata = metadata.Clone()
	c.UpdatedAt = time.Now().UTC()
	r.conversations[id] = c
	return nil
}

func (r *memoryConversations) List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	r.mu.RLock()
	var result []domain.Conversation
	for _, c := range r.conversations {
		if filter.CustomerPhone != "" && c.CustomerPhone != filter.CustomerPhone {
			continue
		}
		if filter.BusinessPhoneID != "" && c.BusinessPhoneID != filter.BusinessPhoneID {
			continue
		}
		if filter.Status != "" && c.EffectiveStatus(now) != filter.Status {
			continue
		}
		c.Metadata = c.Metadata.Clone()
		result = append(result, c)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].LastMessageAt.After(result[j].LastMessageAt) })
	return paginate(result, filter.Offset, normalizeLimit(filter.Limit, 20, 100)), nil
}

func (r *memoryConversations) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.conversations {
		if c.Status == domain.ConversationStatusActive && c.IsExpired(now) {
			c.Status = domain.ConversationStatusExpired
			c.UpdatedAt = time.Now().UTC()
			r.conversations[id] = c
			n++
		}
	}
	return n, nil
}

type memoryMessages struct{ *memoryData }

func (r *memoryMessages) Insert(ctx context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.messages {
		if existing.ProviderMessageID == m.ProviderMessageID {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	r.messages[m.ID] = copyMessage(*m)
	return nil
}

func (r *memoryMessages) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyMessage(m)
	return &out, nil
}

func (r *memoryMessages) GetByProviderID(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages {
		if m.ProviderMessageID == providerMessageID {
			out := copyMessage(m)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryMessages) UpdateStatus(ctx context.Context, providerMessageID string, status domain.MessageStatus, errs []domain.MessageError) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.messages {
		if m.ProviderMessageID != providerMessageID {
			continue
		}
		if !m.Status.CanTransitionTo(status) {
			return false, nil
		}
		m.Status = status
		if status == domain.MessageStatusFailed {
			m.Errors = append([]domain.MessageError(nil), errs...)
		}
		m.UpdatedAt = time.Now().UTC()
		r.messages[id] = m
		return true, nil
	}
	return false, nil
}

func (r *memoryMessages) MarkRead(ctx context.Context, conversationID string, ids []string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []domain.Message
	for _, id := range ids {
		m, ok := r.messages[id]
		if !ok || m.ConversationID != conversationID || !m.Status.CanTransitionTo(domain.MessageStatusRead) {
			continue
		}
		m.Status = domain.MessageStatusRead
		m.UpdatedAt = time.Now().UTC()
		r.messages[id] = m
		changed = append(changed, copyMessage(m))
	}
	return changed, nil
}

func (r *memoryMessages) ListByConversation(ctx context.Context, conversationID string, limit int, before time.Time) ([]domain.Message, error) {
	r.mu.RLock()
	var result []domain.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if !before.IsZero() && !m.Timestamp.Before(before) {
			continue
		}
		result = append(result, copyMessage(m))
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID > result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return paginate(result, 0, normalizeLimit(limit, 50, 200)), nil
}

type memoryMedia struct{ *memoryData }

func (r *memoryMedia) conflicts(m *domain.Media) bool {
	for _, existing := range r.media {
		if existing.ID == m.ID {
			continue
		}
		if m.ProviderMediaID != nil && existing.ProviderID() == *m.ProviderMediaID {
			return true
		}
		if m.Origin == domain.MediaOriginUpload && m.Status.IsActive() && m.ContentHash != "" &&
			existing.Origin == domain.MediaOriginUpload && existing.Status.IsActive() &&
			existing.ContentHash == m.ContentHash && existing.Type == m.Type {
			return true
		}
	}
	return false
}

func (r *memoryMedia) Create(ctx context.Context, m *domain.Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Origin == "" {
		m.Origin = domain.MediaOriginUpload
	}
	if r.conflicts(m) {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	r.media[m.ID] = copyMedia(*m)
	return nil
}

func (r *memoryMedia) GetByID(ctx context.Context, id string) (*domain.Media, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.media[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyMedia(m)
	return &out, nil
}

func (r *memoryMedia) GetByProviderID(ctx context.Context, providerMediaID string) (*domain.Media, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.media {
		if m.ProviderID() == providerMediaID {
			out := copyMedia(m)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryMedia) FindActiveByHash(ctx context.Context, hash string, mediaType domain.MediaType) (*domain.Media, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *domain.Media
	for _, m := range r.media {
		if m.Origin != domain.MediaOriginUpload || !m.Status.IsActive() || m.Type != mediaType || m.ContentHash != hash {
			continue
		}
		if found == nil || m.CreatedAt.Before(found.CreatedAt) {
			out := copyMedia(m)
			found = &out
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memoryMedia) Update(ctx context.Context, m *domain.Media) error {
	return r.update(m, "")
}

func (r *memoryMedia) UpdateIfStatus(ctx context.Context, m *domain.Media, expected domain.MediaStatus) error {
	return r.update(m, expected)
}

func (r *memoryMedia) update(m *domain.Media, expected domain.MediaStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.media[m.ID]
	if !ok {
		return ErrNotFound
	}
	if expected != "" && stored.Status != expected {
		return ErrConflict
	}
	if stored.ContentHash != "" {
		m.ContentHash = stored.ContentHash
	}
	if r.conflicts(m) {
		return ErrDuplicate
	}
	m.CreatedAt = stored.CreatedAt
	m.Origin = stored.Origin
	m.UpdatedAt = time.Now().UTC()
	r.media[m.ID] = copyMedia(*m)
	return nil
}

func (r *memoryMedia) FailStaleUploads(ctx context.Context, before time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for id, m := range r.media {
		if m.PurgedAt != nil || !m.UpdatedAt.Before(before) {
			continue
		}
		if m.Status != domain.MediaStatusPending && m.Status != domain.MediaStatusUploading {
			continue
		}
		m.Status = domain.MediaStatusFailed
		m.FailureReason = reason
		m.UpdatedAt = now
		r.media[id] = m
		n++
	}
	return n, nil
}

func (r *memoryMedia) referenced(m domain.Media) bool {
	for _, msg := range r.messages {
		if msg.MediaID == nil {
			continue
		}
		if *msg.MediaID == m.ID || (m.ProviderMediaID != nil && *msg.MediaID == *m.ProviderMediaID) {
			return true
		}
	}
	return false
}

func (r *memoryMedia) ListCleanupCandidates(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]domain.Media, error) {
	r.mu.RLock()
	var result []domain.Media
	for _, m := range r.media {
		if m.PurgedAt != nil || m.ID <= afterID {
			continue
		}
		age := m.CreatedAt
		if m.DeletedAt != nil {
			age = *m.DeletedAt
		}
		if !age.Before(cutoff) {
			continue
		}
		switch m.Status {
		case domain.MediaStatusDeleted, domain.MediaStatusFailed:
			result = append(result, copyMedia(m))
		case domain.MediaStatusUploaded:
			if !r.referenced(m) {
				result = append(result, copyMedia(m))
			}
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return paginate(result, 0, normalizeLimit(limit, 100, 1000)), nil
}

func (r *memoryMedia) CountSharingHash(ctx context.Context, hash, excludeID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.media {
		if m.ID != excludeID && m.ContentHash == hash && m.PurgedAt == nil && m.StoragePath != "" {
			n++
		}
	}
	return n, nil
}

type memoryTemplates struct{ *memoryData }

func (r *memoryTemplates) Create(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.templates {
		if existing.Name == t.Name && existing.Language == t.Language {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.templates[t.ID] = copyTemplate(*t)
	return nil
}

func (r *memoryTemplates) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyTemplate(t)
	return &out, nil
}

func (r *memoryTemplates) GetByNameLanguage(ctx context.Context, name, language string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.templates {
		if t.Name == name && t.Language == language {
			out := copyTemplate(t)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryTemplates) Update(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.templates[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.Name, t.Language, t.CreatedAt = stored.Name, stored.Language, stored.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	r.templates[t.ID] = copyTemplate(*t)
	return nil
}

func (r *memoryTemplates) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return ErrNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *memoryTemplates) List(ctx context.Context, filter TemplateFilter) ([]domain.Template, error) {
	r.mu.RLock()
	var result []domain.Template
	for _, t := range r.templates {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		result = append(result, copyTemplate(t))
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].Language < result[j].Language
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (r *memoryTemplates) UpsertBatch(ctx context.Context, templates []domain.Template) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range templates {
		var existing *domain.Template
		for id := range r.templates {
			stored := r.templates[id]
			if stored.Name == t.Name && stored.Language == t.Language {
				existing = &stored
				break
			}
		}
		if existing != nil {
			t.ID = existing.ID
			t.CreatedAt = existing.CreatedAt
		} else {
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		r.templates[t.ID] = copyTemplate(t)
	}
	return len(templates), nil
}

func (r *memoryTemplates) UpdateStatusByProviderID(ctx context.Context, providerTemplateID string, status domain.TemplateStatus, reason string) (*domain.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.templates {
		if t.ProviderTemplateID != providerTemplateID {
			continue
		}
		t.Status = status
		t.RejectedReason = reason
		t.UpdatedAt = time.Now().UTC()
		r.templates[id] = t
		out := copyTemplate(t)
		return &out, nil
	}
	return nil, ErrNotFound
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func copyMessage(m domain.Message) domain.Message {
	m.Metadata = m.Metadata.Clone()
	m.Errors = append([]domain.MessageError(nil), m.Errors...)
	if m.MediaID != nil {
		id := *m.MediaID
		m.MediaID = &id
	}
	return m
}

func copyMedia(m domain.Media) domain.Media {
	m.Metadata = m.Metadata.Clone()
	if m.ProviderMediaID != nil {
		id := *m.ProviderMediaID
		m.ProviderMediaID = &id
	}
	return m
}

func copyTemplate(t domain.Template) domain.Template {
	t.Components = append([]domain.TemplateComponent(nil), t.Components...)
	return t
}
