package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultSeed(t *testing.T) {
	seed, err := LoadSeed("")
	require.NoError(t, err)

	require.Len(t, seed.Grants, 2)
	assert.Equal(t, "STEM Education Grant", seed.Grants[0].Title)
	assert.Equal(t, 720*time.Hour, seed.Grants[0].DeadlineIn)
	require.Len(t, seed.Stores, 1)
	assert.True(t, seed.Stores[0].Items[0].Price.Equal(decimal.RequireFromString("89.99")))
}

func TestSeedApplyOnlyOnEmptyStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grants:
  - id: g
    grant_owner: "0xo"
    title: T
    total_funding: "100"
    max_grant_per_student: "10"
    target_demographic: other
    target_education_level: graduate
    deadline_in: 1h
wallets:
  - student_address: "0xs"
    available_balance: "2350"
    total_received: "5000"
`), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	applied, err := seed.Apply(context.Background(), store, now)
	require.NoError(t, err)
	assert.True(t, applied)

	grant, err := store.GetGrant(context.Background(), "g")
	require.NoError(t, err)
	assert.True(t, grant.RemainingFunding.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, now.Add(time.Hour), grant.ApplicationDeadline)

	wallet, err := store.GetWallet(context.Background(), "0xs")
	require.NoError(t, err)
	assert.True(t, wallet.AvailableBalance.Equal(decimal.NewFromInt(2350)))

	applied, err = seed.Apply(context.Background(), store, now)
	require.NoError(t, err)
	assert.False(t, applied)
}
