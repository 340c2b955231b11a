package advstats

import (
	"context"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

type paramKey struct {
	nmID int64
	date string
}

// memoryStore is an in-memory Store. A nil products set accepts every nm_id.
type memoryStore struct {
	mu       sync.RWMutex
	stats    []models.CampaignDailyStat
	params   map[paramKey]models.AdvParam
	products map[int64]bool
	writes   int

	// racer, when set, is inserted by a concurrent writer right before the next InsertAdvParam.
	racer *models.AdvParam
}

func newMemoryStore(stats ...models.CampaignDailyStat) *memoryStore {
	return &memoryStore{
		stats:  stats,
		params: make(map[paramKey]models.AdvParam),
	}
}

func keyOf(nmID int64, date time.Time) paramKey {
	return paramKey{nmID: nmID, date: date.Format(time.DateOnly)}
}

func (s *memoryStore) DailyStatsInRange(_ context.Context, rng models.DateRange) ([]models.CampaignDailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CampaignDailyStat
	for _, row := range s.stats {
		if rng.From != nil && row.Date.Before(*rng.From) {
			continue
		}
		if rng.To != nil && row.Date.After(*rng.To) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *memoryStore) GetAdvParamForUpdate(_ context.Context, nmID int64, date time.Time) (*models.AdvParam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.params[keyOf(nmID, date)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memoryStore) InsertAdvParam(_ context.Context, p models.AdvParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.products != nil && !s.products[p.NmID] {
		return ErrUnknownProduct
	}
	if s.racer != nil {
		s.params[keyOf(s.racer.NmID, s.racer.Date)] = *s.racer
		s.racer = nil
	}
	if _, ok := s.params[keyOf(p.NmID, p.Date)]; ok {
		return ErrAdvParamExists
	}
	s.params[keyOf(p.NmID, p.Date)] = p
	s.writes++
	return nil
}

func (s *memoryStore) UpdateAdvParam(_ context.Context, p models.AdvParam, touch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(p.NmID, p.Date)
	stored := s.params[k]
	if !touch {
		p.UpdatedAt = stored.UpdatedAt
	}
	s.params[k] = p
	s.writes++
	return nil
}

func (s *memoryStore) param(nmID int64, date time.Time) (models.AdvParam, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[keyOf(nmID, date)]
	return p, ok
}
