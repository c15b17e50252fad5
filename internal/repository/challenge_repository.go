package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

const challengeKeyPrefix = cacheNamespace + "challenge:"

// ChallengeRepository keeps sign-in challenges in Redis. Consume is atomic (GETDEL),
// so a challenge can be redeemed once even across replicas.
type ChallengeRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewChallengeRepository constructs the Redis-backed store.
func NewChallengeRepository(client *redis.Client) *ChallengeRepository {
	return &ChallengeRepository{client: client, now: time.Now}
}

// Save stores the challenge for its address, replacing any outstanding one.
func (r *ChallengeRepository) Save(ctx context.Context, challenge models.Challenge) error {
	ttl := challenge.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return appErrors.ErrChallengeExpired
	}
	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	if err := r.client.Set(ctx, challengeKeyPrefix+challenge.Address, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set challenge: %w", err)
	}
	return nil
}

// Consume removes and returns the address's challenge.
func (r *ChallengeRepository) Consume(ctx context.Context, address string) (*models.Challenge, error) {
	raw, err := r.client.GetDel(ctx, challengeKeyPrefix+address).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrChallengeExpired
		}
		return nil, fmt.Errorf("redis getdel challenge: %w", err)
	}
	var challenge models.Challenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	if !r.now().Before(challenge.ExpiresAt) {
		return nil, appErrors.ErrChallengeExpired
	}
	return &challenge, nil
}

// MemoryChallengeStore is the single-process challenge store used when Redis is disabled.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]models.Challenge
	now        func() time.Time
}

// NewMemoryChallengeStore constructs an empty store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]models.Challenge), now: time.Now}
}

// Save stores the challenge, replacing any outstanding one for the address.
func (s *MemoryChallengeStore) Save(_ context.Context, challenge models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.now().Before(challenge.ExpiresAt) {
		return appErrors.ErrChallengeExpired
	}
	s.challenges[challenge.Address] = challenge
	return nil
}

// Consume removes and returns the address's challenge.
func (s *MemoryChallengeStore) Consume(_ context.Context, address string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[address]
	if !ok {
		return nil, appErrors.ErrChallengeExpired
	}
	delete(s.challenges, address)
	if !s.now().Before(challenge.ExpiresAt) {
		return nil, appErrors.ErrChallengeExpired
	}
	return &challenge, nil
}

// Prune drops expired challenges and returns how many were removed.
func (s *MemoryChallengeStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for addr, c := range s.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(s.challenges, addr)
			removed++
		}
	}
	return removed
}
