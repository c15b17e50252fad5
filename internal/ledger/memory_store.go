package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/scholarflow-api/internal/models"
)

// MemoryStore keeps ledger state in process memory. Values are copied on the
// way in and out so callers never alias stored records.
type MemoryStore struct {
	mu           sync.RWMutex
	profiles     map[string]models.StudentProfile
	grants       map[string]models.Grant
	applications map[string]models.GrantApplication
	wallets      map[string]models.StudentWallet
	stores       map[string]models.EducationalStore
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:     make(map[string]models.StudentProfile),
		grants:       make(map[string]models.Grant),
		applications: make(map[string]models.GrantApplication),
		wallets:      make(map[string]models.StudentWallet),
		stores:       make(map[string]models.EducationalStore),
	}
}

func (s *MemoryStore) GetProfile(_ context.Context, address string) (*models.StudentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[address]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &p, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, profile *models.StudentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.StudentAddress] = *profile
	return nil
}

func (s *MemoryStore) GetGrant(_ context.Context, id string) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	g = copyGrant(g)
	return &g, nil
}

func (s *MemoryStore) ListGrants(_ context.Context) ([]models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, copyGrant(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) InsertGrant(_ context.Context, grant *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.ID] = copyGrant(*grant)
	return nil
}

func (s *MemoryStore) CloseExpiredGrants(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closed []string
	for id, g := range s.grants {
		if g.IsActive && !now.Before(g.ApplicationDeadline) {
			g.IsActive = false
			s.grants[id] = g
			closed = append(closed, id)
		}
	}
	sort.Strings(closed)
	return closed, nil
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (*models.GrantApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applications[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListApplications(_ context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.GrantApplication, 0)
	for _, a := range s.applications {
		if !filter.Matches(a) {
			continue
		}
		if filter.GrantOwner != "" {
			g, ok := s.grants[a.GrantID]
			if !ok || !strings.EqualFold(g.GrantOwner, filter.GrantOwner) {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ApplicationTimestamp.Equal(out[j].ApplicationTimestamp) {
			return out[i].ApplicationTimestamp.Before(out[j].ApplicationTimestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) InsertApplication(_ context.Context, app *models.GrantApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ID] = *app
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, address string) (*models.StudentWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[address]
	if !ok {
		return nil, ErrRecordNotFound
	}
	w = copyWallet(w)
	return &w, nil
}

func (s *MemoryStore) SaveWallet(_ context.Context, wallet *models.StudentWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[wallet.StudentAddress] = copyWallet(*wallet)
	return nil
}

func (s *MemoryStore) GetStore(_ context.Context, id string) (*models.EducationalStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	st = copyStore(st)
	return &st, nil
}

func (s *MemoryStore) ListStores(_ context.Context) ([]models.EducationalStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EducationalStore, 0, len(s.stores))
	for _, st := range s.stores {
		out = append(out, copyStore(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertStore(_ context.Context, store *models.EducationalStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[store.ID] = copyStore(*store)
	return nil
}

func (s *MemoryStore) CommitReview(_ context.Context, effects ReviewEffects) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.applications[effects.Application.ID]
	if !ok || current.Status != models.ApplicationPending {
		return ErrStaleState
	}
	s.applications[effects.Application.ID] = effects.Application
	if effects.Grant != nil {
		s.grants[effects.Grant.ID] = copyGrant(*effects.Grant)
	}
	if effects.Wallet != nil {
		s.wallets[effects.Wallet.StudentAddress] = copyWallet(*effects.Wallet)
	}
	if effects.Profile != nil {
		s.profiles[effects.Profile.StudentAddress] = *effects.Profile
	}
	return nil
}

func (s *MemoryStore) CommitPurchase(_ context.Context, wallet *models.StudentWallet, record models.SpendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := copyWallet(*wallet)
	w.SpendingHistory = append(w.SpendingHistory, record)
	s.wallets[w.StudentAddress] = w
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*models.SystemRegistry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	distributed := decimal.Zero
	for _, g := range s.grants {
		distributed = distributed.Add(g.TotalFunding.Sub(g.RemainingFunding))
	}
	return &models.SystemRegistry{
		TotalStudents:           len(s.profiles),
		TotalGrants:             len(s.grants),
		TotalStores:             len(s.stores),
		TotalFundingDistributed: distributed,
	}, nil
}

func copyGrant(g models.Grant) models.Grant {
	g.ApprovedStudents = append([]string{}, g.ApprovedStudents...)
	return g
}

func copyWallet(w models.StudentWallet) models.StudentWallet {
	w.SpendingHistory = append([]models.SpendingRecord{}, w.SpendingHistory...)
	return w
}

func copyStore(s models.EducationalStore) models.EducationalStore {
	s.Items = append([]models.StoreItem{}, s.Items...)
	return s
}
