package referral

import (
	"context"
	"sync"
	"time"

	"cocowallet-sync/internal/models"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu            sync.Mutex
	linksByDevice map[string]models.ReferralLink
	linksByCode   map[string]models.ReferralLink
	relationships []models.ReferralRelationship
	points        map[string]int64
	history       []models.PointsEntry
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		linksByDevice: make(map[string]models.ReferralLink),
		linksByCode:   make(map[string]models.ReferralLink),
		points:        make(map[string]int64),
	}
}

func (m *MemoryStore) GetOrCreateLink(_ context.Context, deviceID, code string) (models.ReferralLink, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.linksByDevice[deviceID]; ok {
		return link, false, nil
	}
	link := models.ReferralLink{
		Code:      code,
		DeviceID:  deviceID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	m.linksByDevice[deviceID] = link
	m.linksByCode[code] = link
	return link, true, nil
}

func (m *MemoryStore) LinkByCode(_ context.Context, code string) (models.ReferralLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.linksByCode[code]
	if !ok || !link.IsActive {
		return models.ReferralLink{}, ErrLinkNotFound
	}
	return link, nil
}

func (m *MemoryStore) IncrementClicks(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.linksByCode[code]
	if !ok {
		return ErrLinkNotFound
	}
	link.Clicks++
	m.linksByCode[code] = link
	m.linksByDevice[link.DeviceID] = link
	return nil
}

func (m *MemoryStore) Relationship(_ context.Context, referrer, referred string) (models.ReferralRelationship, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rel := range m.relationships {
		if rel.ReferrerDeviceID == referrer && rel.ReferredDeviceID == referred {
			return rel, true, nil
		}
	}
	return models.ReferralRelationship{}, false, nil
}

func (m *MemoryStore) RelationshipByReferred(_ context.Context, referred string) (models.ReferralRelationship, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rel := range m.relationships {
		if rel.ReferredDeviceID == referred {
			return rel, true, nil
		}
	}
	return models.ReferralRelationship{}, false, nil
}

func (m *MemoryStore) SaveRelationship(_ context.Context, rel models.ReferralRelationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.relationships {
		if existing.ReferrerDeviceID == rel.ReferrerDeviceID && existing.ReferredDeviceID == rel.ReferredDeviceID {
			rel.CreatedAt = existing.CreatedAt
			m.relationships[i] = rel
			return nil
		}
	}
	rel.CreatedAt = time.Now().UTC()
	m.relationships = append(m.relationships, rel)
	return nil
}

func (m *MemoryStore) AddPoints(_ context.Context, entry models.PointsEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.CreatedAt = time.Now().UTC()
	m.points[entry.DeviceID] += entry.Points
	m.history = append(m.history, entry)
	return nil
}

func (m *MemoryStore) Points(_ context.Context, deviceID string) (models.UserPoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.UserPoints{DeviceID: deviceID, TotalPoints: m.points[deviceID]}, nil
}

func (m *MemoryStore) PointsHistory(_ context.Context, deviceID string, offset, limit int) ([]models.PointsEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.PointsEntry
	for _, e := range m.history {
		if e.DeviceID == deviceID {
			all = append(all, e)
		}
	}
	return pageSlice(all, offset, limit), len(all), nil
}

func (m *MemoryStore) PointsByAction(_ context.Context, deviceID, action string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.history {
		if e.DeviceID == deviceID && e.ActionType == action {
			sum += e.Points
		}
	}
	return sum, nil
}

func (m *MemoryStore) Referrals(_ context.Context, referrer string, offset, limit int) ([]models.ReferralRelationship, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.ReferralRelationship
	for _, rel := range m.relationships {
		if rel.ReferrerDeviceID == referrer {
			all = append(all, rel)
		}
	}
	return pageSlice(all, offset, limit), len(all), nil
}

func (m *MemoryStore) ReferralCounts(_ context.Context, referrer string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, completed := 0, 0
	for _, rel := range m.relationships {
		if rel.ReferrerDeviceID == referrer {
			total++
			if rel.WalletCreated {
				completed++
			}
		}
	}
	return total, completed, nil
}

func pageSlice[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}
