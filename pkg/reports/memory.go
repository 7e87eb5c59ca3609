package reports

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/azybler/safepath/pkg/geo"
)

// MemoryStore is a process-local Store. Results keep insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	reports []Report
	byID    map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (s *MemoryStore) Insert(ctx context.Context, r Report) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	r.ID = uuid.NewString()
	r.Status = StatusSubmitted

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[r.ID] = len(s.reports)
	s.reports = append(s.reports, r)
	return r.ID, nil
}

func (s *MemoryStore) Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]Report, error) {
	if !geo.ValidLatLng(lat, lon) {
		return nil, fmt.Errorf("%w: query point (%v, %v)", ErrInvalidReport, lat, lon)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Report{}
	for _, r := range s.reports {
		if r.Status != StatusVerified {
			continue
		}
		if sphereDistance(lat, lon, r.Location.Lat, r.Location.Lon) <= radiusMeters {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllVerified(ctx context.Context) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Report{}
	for _, r := range s.reports {
		if r.Status == StatusVerified {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: status %q", ErrInvalidReport, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.reports[i].Status = status
	return nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// sphereDistance is the haversine distance on the sphere MongoDB's
// $centerSphere uses, so both stores agree on the radius boundary.
func sphereDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.Haversine(lat1, lon1, lat2, lon2) * EarthRadiusMeters / geo.EarthRadiusMeters
}
