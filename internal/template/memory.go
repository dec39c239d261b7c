// internal/template/memory.go
package template

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests and fixture tenants.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*models.MessageTemplate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]*models.MessageTemplate)}
}

func memKey(tenantID, name string, channel models.Channel) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, name, channel)
}

func (s *MemoryStore) ResolveActiveDefault(_ context.Context, tenantID, name string, channel models.Channel) (*models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*models.MessageTemplate
	for _, t := range s.templates {
		if t.TenantID == tenantID && t.Name == name && t.Channel == channel && t.Active && t.IsDefault {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, errors.NewTemplateNotFoundError(tenantID, name, string(channel))
	case 1:
		cp := *matches[0]
		return &cp, nil
	default:
		return nil, errors.NewTemplateAmbiguousError(tenantID, name, string(channel), len(matches))
	}
}

func (s *MemoryStore) Create(_ context.Context, tmpl *models.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(tmpl.TenantID, tmpl.Name, tmpl.Channel)
	if _, exists := s.templates[key]; exists {
		return errors.NewTemplateConflictError(tmpl.TenantID, tmpl.Name, string(tmpl.Channel))
	}
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	cp := *tmpl
	s.templates[key] = &cp
	return nil
}

func (s *MemoryStore) Update(_ context.Context, tmpl *models.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(tmpl.TenantID, tmpl.Name, tmpl.Channel)
	existing, exists := s.templates[key]
	if !exists {
		return errors.NewTemplateNotFoundError(tmpl.TenantID, tmpl.Name, string(tmpl.Channel))
	}
	tmpl.ID = existing.ID
	tmpl.CreatedAt = existing.CreatedAt
	tmpl.UpdatedAt = time.Now().UTC()
	cp := *tmpl
	s.templates[key] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, name string, channel models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(tenantID, name, channel)
	if _, exists := s.templates[key]; !exists {
		return errors.NewTemplateNotFoundError(tenantID, name, string(channel))
	}
	delete(s.templates, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, name string, channel models.Channel) (*models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.templates[memKey(tenantID, name, channel)]
	if !exists {
		return nil, errors.NewTemplateNotFoundError(tenantID, name, string(channel))
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string) ([]models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MessageTemplate
	for _, t := range s.templates {
		if t.TenantID == tenantID {
			out = append(out, *t)
		}
	}
	return out, nil
}
