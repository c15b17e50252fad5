// Package ledger executes ScholarFlow commands against authoritative state.
//
// Clients never mutate grants, applications or wallets directly: they send a
// models.Command and apply the returned models.Receipt. The Engine is the
// in-process implementation; RPCClient forwards the same exchange to a remote node.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/scholarflow-api/internal/models"
)

// ErrRecordNotFound is returned by stores when a lookup has no row.
var ErrRecordNotFound = errors.New("ledger: record not found")

// ErrStaleState is returned when a conditional write lost a race with another writer.
var ErrStaleState = errors.New("ledger: state changed concurrently")

// Ledger is the command/result boundary used by services.
type Ledger interface {
	Execute(ctx context.Context, cmd models.Command) (*models.Receipt, error)
	Snapshot(ctx context.Context, address string) (*models.LedgerSnapshot, error)
	Applications(ctx context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error)
	Grant(ctx context.Context, id string) (*models.Grant, error)
	Stats(ctx context.Context) (*models.SystemRegistry, error)
}

// ReviewEffects is the set of writes an approve or reject commits atomically.
type ReviewEffects struct {
	Application models.GrantApplication
	Grant       *models.Grant
	Wallet      *models.StudentWallet
	Profile     *models.StudentProfile
}

// Store persists ledger state.
type Store interface {
	GetProfile(ctx context.Context, address string) (*models.StudentProfile, error)
	SaveProfile(ctx context.Context, profile *models.StudentProfile) error

	GetGrant(ctx context.Context, id string) (*models.Grant, error)
	ListGrants(ctx context.Context) ([]models.Grant, error)
	InsertGrant(ctx context.Context, grant *models.Grant) error
	CloseExpiredGrants(ctx context.Context, now time.Time) ([]string, error)

	GetApplication(ctx context.Context, id string) (*models.GrantApplication, error)
	ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error)
	InsertApplication(ctx context.Context, app *models.GrantApplication) error

	GetWallet(ctx context.Context, address string) (*models.StudentWallet, error)
	SaveWallet(ctx context.Context, wallet *models.StudentWallet) error

	GetStore(ctx context.Context, id string) (*models.EducationalStore, error)
	ListStores(ctx context.Context) ([]models.EducationalStore, error)
	InsertStore(ctx context.Context, store *models.EducationalStore) error

	CommitReview(ctx context.Context, effects ReviewEffects) error
	CommitPurchase(ctx context.Context, wallet *models.StudentWallet, record models.SpendingRecord) error

	Stats(ctx context.Context) (*models.SystemRegistry, error)
}
