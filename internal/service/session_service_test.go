package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

type stubLedger struct {
	snapshot    *models.LedgerSnapshot
	snapshotErr error
}

func (s *stubLedger) Execute(context.Context, models.Command) (*models.Receipt, error) {
	return &models.Receipt{Changed: true}, nil
}

func (s *stubLedger) Snapshot(context.Context, string) (*models.LedgerSnapshot, error) {
	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	return s.snapshot, nil
}

func (s *stubLedger) Applications(context.Context, models.ApplicationFilter) ([]models.GrantApplication, error) {
	return nil, nil
}

func (s *stubLedger) Grant(context.Context, string) (*models.Grant, error) {
	return nil, appErrors.ErrNotFound
}

func (s *stubLedger) Stats(context.Context) (*models.SystemRegistry, error) {
	return &models.SystemRegistry{}, nil
}

func TestConnectLoadsSnapshot(t *testing.T) {
	l := &stubLedger{snapshot: &models.LedgerSnapshot{
		Profile:      &models.StudentProfile{StudentAddress: "0xabc", Name: "Ada"},
		Wallet:       &models.StudentWallet{StudentAddress: "0xabc", AvailableBalance: decimal.NewFromInt(10)},
		Applications: []models.GrantApplication{{ID: "A1", StudentAddress: "0xabc"}},
	}}
	svc := NewSessionService(l, NewMetricsService(), nil)

	view := svc.Connect(context.Background(), "0xABC", models.RoleStudent)
	assert.Equal(t, "0xabc", view.Address)
	require.NotNil(t, view.Profile)
	assert.Equal(t, "Ada", view.Profile.Name)
	assert.Len(t, view.Applications, 1)
	assert.Nil(t, view.Error)
	assert.Equal(t, 1, svc.Count())
}

func TestConnectKeepsSessionWhenSnapshotFails(t *testing.T) {
	l := &stubLedger{snapshotErr: appErrors.Clone(appErrors.ErrLedgerUnavailable, "node down")}
	svc := NewSessionService(l, nil, nil)

	view := svc.Connect(context.Background(), "0xabc", models.RoleStudent)
	require.NotNil(t, view.Error)
	assert.Equal(t, "node down", *view.Error)
	assert.True(t, svc.Connected("0xabc"))
	assert.NotNil(t, view.Applications)
}

func TestRunRequiresSession(t *testing.T) {
	svc := NewSessionService(&stubLedger{snapshot: &models.LedgerSnapshot{}}, nil, nil)
	called := false
	_, err := svc.Run(context.Background(), "0xabc", func(context.Context) (*models.Receipt, error) {
		called = true
		return nil, nil
	})
	assert.True(t, errors.Is(err, appErrors.ErrNotConnected))
	assert.False(t, called)
}

func TestRunFailureSetsErrorAndLeavesState(t *testing.T) {
	svc := NewSessionService(&stubLedger{snapshot: &models.LedgerSnapshot{
		Applications: []models.GrantApplication{{ID: "A1", StudentAddress: "0xabc"}},
	}}, nil, nil)
	svc.Connect(context.Background(), "0xabc", models.RoleStudent)

	_, err := svc.Run(context.Background(), "0xabc", func(context.Context) (*models.Receipt, error) {
		return nil, appErrors.Clone(appErrors.ErrGrantClosed, "grant closed")
	})
	require.Error(t, err)

	view, err := svc.View("0xabc")
	require.NoError(t, err)
	require.NotNil(t, view.Error)
	assert.Equal(t, "grant closed", *view.Error)
	assert.Len(t, view.Applications, 1)
	assert.False(t, view.Loading)

	require.NoError(t, svc.ClearError("0xabc"))
	view, _ = svc.View("0xabc")
	assert.Nil(t, view.Error)
}

func TestRunReportsLoadingWhileInFlight(t *testing.T) {
	svc := NewSessionService(&stubLedger{snapshot: &models.LedgerSnapshot{}}, nil, nil)
	svc.Connect(context.Background(), "0xabc", models.RoleStudent)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Run(context.Background(), "0xabc", func(context.Context) (*models.Receipt, error) {
			close(started)
			<-release
			return &models.Receipt{Changed: true}, nil
		})
	}()

	<-started
	view, err := svc.View("0xabc")
	require.NoError(t, err)
	assert.True(t, view.Loading)
	assert.Empty(t, svc.PruneIdle(-time.Hour))

	close(release)
	wg.Wait()
	view, _ = svc.View("0xabc")
	assert.False(t, view.Loading)
}

func TestPropagateUpdatesStudentSession(t *testing.T) {
	svc := NewSessionService(&stubLedger{snapshot: &models.LedgerSnapshot{
		Applications: []models.GrantApplication{{ID: "A1", StudentAddress: "0xabc", Status: models.ApplicationPending}},
	}}, nil, nil)
	svc.Connect(context.Background(), "0xabc", models.RoleStudent)

	svc.Propagate(&models.Receipt{
		Changed:     true,
		Application: &models.GrantApplication{ID: "A1", StudentAddress: "0xabc", Status: models.ApplicationApproved},
		Wallet:      &models.StudentWallet{StudentAddress: "0xabc", AvailableBalance: decimal.NewFromInt(300)},
	})

	view, err := svc.View("0xabc")
	require.NoError(t, err)
	require.Len(t, view.Applications, 1)
	assert.Equal(t, models.ApplicationApproved, view.Applications[0].Status)
	require.NotNil(t, view.Wallet)
	assert.True(t, view.Wallet.AvailableBalance.Equal(decimal.NewFromInt(300)))
}

func TestPruneIdleAndDisconnect(t *testing.T) {
	svc := NewSessionService(&stubLedger{snapshot: &models.LedgerSnapshot{}}, nil, nil)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.Connect(context.Background(), "0xold", models.RoleStudent)

	now = now.Add(3 * time.Hour)
	svc.Connect(context.Background(), "0xfresh", models.RoleStudent)

	assert.Equal(t, []string{"0xold"}, svc.PruneIdle(2*time.Hour))
	assert.False(t, svc.Connected("0xold"))
	assert.True(t, svc.Disconnect("0xFRESH"))
	assert.False(t, svc.Disconnect("0xfresh"))
	_, err := svc.View("0xfresh")
	assert.True(t, errors.Is(err, appErrors.ErrNotConnected))
}
