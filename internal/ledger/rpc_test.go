package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

func newNode(t *testing.T) (*RPCClient, *Engine) {
	t.Helper()
	engine, _ := newTestEngine(t)
	dispatcher := NewDispatcher(engine)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dispatcher.Dispatch(r.Context(), req))
	}))
	t.Cleanup(srv.Close)

	client, err := NewRPCClient(RPCClientConfig{URL: srv.URL})
	require.NoError(t, err)
	return client, engine
}

func TestRPCClientExecuteRoundTrip(t *testing.T) {
	client, _ := newNode(t)
	cmd := command(models.CommandSubmitGrantApp, student)
	cmd.Submit = &models.SubmitApplicationPayload{GrantID: "G1", ApplicationText: "remote", RequestedAmount: decimal.NewFromInt(250)}

	receipt, err := client.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, receipt.Changed)
	assert.Equal(t, models.ApplicationPending, receipt.Application.Status)
	assert.True(t, receipt.Application.RequestedAmount.Equal(decimal.NewFromInt(250)))

	apps, err := client.Applications(context.Background(), models.ApplicationFilter{StudentAddress: student})
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestRPCClientRebuildsTypedErrors(t *testing.T) {
	client, _ := newNode(t)

	_, err := client.Grant(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Equal(t, http.StatusNotFound, appErrors.FromError(err).Status)
}

func TestRPCClientSnapshotAndStats(t *testing.T) {
	client, _ := newNode(t)

	snap, err := client.Snapshot(context.Background(), student)
	require.NoError(t, err)
	assert.Len(t, snap.Grants, 1)

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalGrants)
	assert.Equal(t, models.RegistryID, stats.ID)
}

func TestRPCClientReportsUnavailableNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewRPCClient(RPCClientConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.Stats(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrLedgerUnavailable))
}

func TestDispatchUnknownMethod(t *testing.T) {
	engine, _ := newTestEngine(t)
	resp := NewDispatcher(engine).Dispatch(context.Background(), RPCRequest{JSONRPC: "2.0", Method: "nope", ID: json.RawMessage(`1`)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, RPCMethodNotFound, resp.Error.Code)
}

func TestRPCExecuteRefusesSelfApproval(t *testing.T) {
	client, engine := newNode(t)
	ctx := context.Background()
	app := submit(t, engine, 400)

	cmd := command(models.CommandApproveGrantApp, student)
	cmd.Review = &models.ReviewPayload{ApplicationID: app.ID}
	_, err := client.Execute(ctx, cmd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "got %v", err)

	snap, err := client.Snapshot(ctx, student)
	require.NoError(t, err)
	assert.Nil(t, snap.Wallet)
	require.Len(t, snap.Applications, 1)
	assert.Equal(t, models.ApplicationPending, snap.Applications[0].Status)
}
