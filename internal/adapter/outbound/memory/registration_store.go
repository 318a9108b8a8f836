package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

// RegistrationStore implements registry.Repository with an in-memory
// map. Thread-safe. Suitable for single-instance deployments; a
// multi-instance fleet needs a shared store.
type RegistrationStore struct {
	services map[string]*registry.ServiceRegistration
	mu       sync.RWMutex
}

var _ registry.Repository = (*RegistrationStore)(nil)

// NewRegistrationStore creates an empty in-memory registration store.
func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{services: make(map[string]*registry.ServiceRegistration)}
}

// FindAll returns every registration ordered by registration time.
func (s *RegistrationStore) FindAll(_ context.Context) ([]*registry.ServiceRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*registry.ServiceRegistration, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ServiceID < out[j].ServiceID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// FindByID returns the registration for an ID, or nil when absent.
func (s *RegistrationStore) FindByID(_ context.Context, serviceID string) (*registry.ServiceRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[serviceID]
	if !ok {
		return nil, nil
	}
	return svc.Clone(), nil
}

// Save stores a registration, replacing any existing record with the
// same ID.
func (s *RegistrationStore) Save(_ context.Context, svc *registry.ServiceRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ServiceID] = svc.Clone()
	return nil
}

// Delete removes a registration, reporting whether it existed.
func (s *RegistrationStore) Delete(_ context.Context, serviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.services[serviceID]
	delete(s.services, serviceID)
	return ok, nil
}

// Exists reports whether a registration is present.
func (s *RegistrationStore) Exists(_ context.Context, serviceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.services[serviceID]
	return ok, nil
}

// Count returns the number of registrations.
func (s *RegistrationStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.services), nil
}
