package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/scholarflow-api/internal/models"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the initial catalog of a fresh ledger.
type Seed struct {
	Grants  []SeedGrant               `yaml:"grants"`
	Stores  []models.EducationalStore `yaml:"stores"`
	Wallets []SeedWallet              `yaml:"wallets"`
}

// SeedGrant describes a grant whose deadline is relative to load time.
type SeedGrant struct {
	ID                   string                `yaml:"id"`
	GrantOwner           string                `yaml:"grant_owner"`
	Title                string                `yaml:"title"`
	Description          string                `yaml:"description"`
	TotalFunding         decimal.Decimal       `yaml:"total_funding"`
	RemainingFunding     decimal.Decimal       `yaml:"remaining_funding"`
	TargetDemographic    models.Demographic    `yaml:"target_demographic"`
	TargetEducationLevel models.EducationLevel `yaml:"target_education_level"`
	MaxGrantPerStudent   decimal.Decimal       `yaml:"max_grant_per_student"`
	DeadlineIn           time.Duration         `yaml:"deadline_in"`
}

// SeedWallet pre-funds a demo student.
type SeedWallet struct {
	StudentAddress   string          `yaml:"student_address"`
	AvailableBalance decimal.Decimal `yaml:"available_balance"`
	TotalReceived    decimal.Decimal `yaml:"total_received"`
}

// LoadSeed reads a seed file, falling back to the embedded catalog when path is empty.
func LoadSeed(path string) (*Seed, error) {
	raw := defaultSeed
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		raw = data
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// Apply writes the seed into an empty store. A store that already has grants is left untouched.
func (s *Seed) Apply(ctx context.Context, store Store, now time.Time) (bool, error) {
	existing, err := store.ListGrants(ctx)
	if err != nil {
		return false, fmt.Errorf("inspect store: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	for _, sg := range s.Grants {
		remaining := sg.RemainingFunding
		if remaining.IsZero() {
			remaining = sg.TotalFunding
		}
		grant := &models.Grant{
			ID:                   sg.ID,
			GrantOwner:           sg.GrantOwner,
			Title:                sg.Title,
			Description:          sg.Description,
			TotalFunding:         sg.TotalFunding,
			RemainingFunding:     remaining,
			TargetDemographic:    sg.TargetDemographic,
			TargetEducationLevel: sg.TargetEducationLevel,
			MaxGrantPerStudent:   sg.MaxGrantPerStudent,
			ApplicationDeadline:  now.Add(sg.DeadlineIn),
			IsActive:             true,
			ApprovedStudents:     []string{},
			CreatedAt:            now,
		}
		if err := store.InsertGrant(ctx, grant); err != nil {
			return false, fmt.Errorf("seed grant %s: %w", sg.ID, err)
		}
	}
	for i := range s.Stores {
		if err := store.InsertStore(ctx, &s.Stores[i]); err != nil {
			return false, fmt.Errorf("seed store %s: %w", s.Stores[i].ID, err)
		}
	}
	for _, sw := range s.Wallets {
		wallet := &models.StudentWallet{
			ID:               models.WalletID(sw.StudentAddress),
			StudentAddress:   sw.StudentAddress,
			AvailableBalance: sw.AvailableBalance,
			TotalReceived:    sw.TotalReceived,
			SpendingHistory:  []models.SpendingRecord{},
		}
		if err := store.SaveWallet(ctx, wallet); err != nil {
			return false, fmt.Errorf("seed wallet %s: %w", sw.StudentAddress, err)
		}
	}
	return true, nil
}
