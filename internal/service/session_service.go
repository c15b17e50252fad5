package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/ledger"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/wallet"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

// walletSession is the per-identity state of a connected wallet.
type walletSession struct {
	address     string
	role        models.Role
	connectedAt time.Time

	// ops serializes mutations of this identity; inflight makes Loading observable while ops is held.
	ops      sync.Mutex
	inflight atomic.Int32

	mu           sync.RWMutex
	lastSeen     time.Time
	lastError    *string
	profile      *models.StudentProfile
	wallet       *models.StudentWallet
	applications []models.GrantApplication
}

// SessionView is a consistent copy of one session's derived state.
type SessionView struct {
	Address      string
	Role         models.Role
	ConnectedAt  time.Time
	Loading      bool
	Error        *string
	Profile      *models.StudentProfile
	Wallet       *models.StudentWallet
	Applications []models.GrantApplication
}

// SessionService is the session store keyed by wallet address.
type SessionService struct {
	ledger  ledger.Ledger
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*walletSession
}

// NewSessionService constructs an empty session store.
func NewSessionService(l ledger.Ledger, metrics *MetricsService, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		ledger:   l,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*walletSession),
	}
}

// Connect opens (or replaces) the session for address and loads its ledger snapshot.
// A snapshot failure keeps the session open and surfaces as the session error.
func (s *SessionService) Connect(ctx context.Context, address string, role models.Role) SessionView {
	address = wallet.NormalizeAddress(address)
	now := s.now()
	sess := &walletSession{
		address:      address,
		role:         role,
		connectedAt:  now,
		lastSeen:     now,
		applications: []models.GrantApplication{},
	}

	snap, err := s.ledger.Snapshot(ctx, address)
	if err != nil {
		msg := appErrors.FromError(err).Message
		sess.lastError = &msg
		s.logger.Warn("failed to load session snapshot", zap.String("address", address), zap.Error(err))
	} else {
		sess.profile = snap.Profile
		sess.wallet = snap.Wallet
		if snap.Applications != nil {
			sess.applications = snap.Applications
		}
	}

	s.mu.Lock()
	s.sessions[address] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)
	s.logger.Info("session connected", zap.String("address", address), zap.String("role", string(role)))
	return sess.view()
}

// Disconnect clears the session. It reports whether one existed.
func (s *SessionService) Disconnect(address string) bool {
	address = wallet.NormalizeAddress(address)
	s.mu.Lock()
	_, ok := s.sessions[address]
	delete(s.sessions, address)
	count := len(s.sessions)
	s.mu.Unlock()
	if ok {
		s.metrics.SetActiveSessions(count)
		s.logger.Info("session disconnected", zap.String("address", address))
	}
	return ok
}

// Connected reports whether address has an open session.
func (s *SessionService) Connected(address string) bool {
	return s.get(address) != nil
}

// View returns a copy of the session state, or ErrNotConnected.
func (s *SessionService) View(address string) (SessionView, error) {
	sess := s.get(address)
	if sess == nil {
		return SessionView{}, appErrors.ErrNotConnected
	}
	return sess.view(), nil
}

// Run executes op as a mutation of the identity. Calls for the same address are serialized.
// On failure the error message becomes the session error and nothing else changes;
// on success the receipt is applied to every connected session it concerns.
func (s *SessionService) Run(ctx context.Context, address string, op func(context.Context) (*models.Receipt, error)) (*models.Receipt, error) {
	sess := s.get(address)
	if sess == nil {
		return nil, appErrors.ErrNotConnected
	}

	sess.inflight.Add(1)
	defer sess.inflight.Add(-1)
	sess.ops.Lock()
	defer sess.ops.Unlock()

	receipt, err := op(ctx)
	sess.mu.Lock()
	sess.lastSeen = s.now()
	if err != nil {
		msg := appErrors.FromError(err).Message
		sess.lastError = &msg
	}
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.Propagate(receipt)
	return receipt, nil
}

// Propagate applies a receipt's post-state to the sessions of the addresses it touches.
func (s *SessionService) Propagate(receipt *models.Receipt) {
	if receipt == nil || !receipt.Changed {
		return
	}
	if p := receipt.Profile; p != nil {
		if sess := s.get(p.StudentAddress); sess != nil {
			cp := *p
			sess.mu.Lock()
			sess.profile = &cp
			sess.mu.Unlock()
		}
	}
	if w := receipt.Wallet; w != nil {
		if sess := s.get(w.StudentAddress); sess != nil {
			cp := *w
			cp.SpendingHistory = append([]models.SpendingRecord{}, w.SpendingHistory...)
			sess.mu.Lock()
			sess.wallet = &cp
			sess.mu.Unlock()
		}
	}
	if a := receipt.Application; a != nil {
		if sess := s.get(a.StudentAddress); sess != nil {
			sess.mu.Lock()
			sess.upsertApplication(*a)
			sess.mu.Unlock()
		}
	}
}

// ClearError resets the session's current error.
func (s *SessionService) ClearError(address string) error {
	sess := s.get(address)
	if sess == nil {
		return appErrors.ErrNotConnected
	}
	sess.mu.Lock()
	sess.lastError = nil
	sess.lastSeen = s.now()
	sess.mu.Unlock()
	return nil
}

// PruneIdle disconnects sessions not used for longer than ttl; busy sessions are kept.
func (s *SessionService) PruneIdle(ttl time.Duration) []string {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	var pruned []string
	for addr, sess := range s.sessions {
		sess.mu.RLock()
		idle := sess.lastSeen.Before(cutoff)
		sess.mu.RUnlock()
		if idle && sess.inflight.Load() == 0 {
			delete(s.sessions, addr)
			pruned = append(pruned, addr)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	sort.Strings(pruned)
	if len(pruned) > 0 {
		s.metrics.SetActiveSessions(count)
		s.logger.Info("pruned idle sessions", zap.Int("count", len(pruned)))
	}
	return pruned
}

// Count returns the number of open sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionService) get(address string) *walletSession {
	address = wallet.NormalizeAddress(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[address]
}

func (w *walletSession) upsertApplication(app models.GrantApplication) {
	for i := range w.applications {
		if w.applications[i].ID == app.ID {
			w.applications[i] = app
			return
		}
	}
	w.applications = append(w.applications, app)
}

func (w *walletSession) view() SessionView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v := SessionView{
		Address:      w.address,
		Role:         w.role,
		ConnectedAt:  w.connectedAt,
		Loading:      w.inflight.Load() > 0,
		Applications: append([]models.GrantApplication{}, w.applications...),
	}
	if w.lastError != nil {
		msg := *w.lastError
		v.Error = &msg
	}
	if w.profile != nil {
		p := *w.profile
		v.Profile = &p
	}
	if w.wallet != nil {
		cp := *w.wallet
		cp.SpendingHistory = append([]models.SpendingRecord{}, w.wallet.SpendingHistory...)
		v.Wallet = &cp
	}
	return v
}
