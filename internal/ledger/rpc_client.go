package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

// RPCClient is a Ledger backed by a remote node speaking the scholarflow_* JSON-RPC methods.
type RPCClient struct {
	rpcURL     string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	nextID     atomic.Int64
}

// RPCClientConfig configures the remote ledger connection.
type RPCClientConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewRPCClient constructs a client for the node at cfg.URL.
func NewRPCClient(cfg RPCClientConfig) (*RPCClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ledger rpc url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RPCClient{
		rpcURL:     cfg.URL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}, nil
}

// Call performs one JSON-RPC exchange and returns the raw result.
func (c *RPCClient) Call(ctx context.Context, method string, params ...interface{}) ([]byte, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(err, method)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(err, method)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(fmt.Errorf("unexpected status %d", resp.StatusCode), method)
	}
	if !gjson.ValidBytes(raw) {
		return nil, unavailable(fmt.Errorf("malformed response"), method)
	}

	if rpcErr := gjson.GetBytes(raw, "error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		if data := rpcErr.Get("data"); data.Exists() && data.Get("code").String() != "" {
			return nil, appErrors.New(data.Get("code").String(), int(data.Get("status").Int()), data.Get("message").String())
		}
		return nil, &RPCError{Code: int(rpcErr.Get("code").Int()), Message: rpcErr.Get("message").String()}
	}
	result := gjson.GetBytes(raw, "result")
	if !result.Exists() {
		return nil, unavailable(fmt.Errorf("response without result"), method)
	}
	return []byte(result.Raw), nil
}

// Execute forwards the command and returns the node's receipt.
func (c *RPCClient) Execute(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	var receipt models.Receipt
	if err := c.decode(ctx, &receipt, MethodExecute, cmd); err != nil {
		return nil, err
	}
	c.logger.Debug("remote ledger command executed",
		zap.String("command_id", receipt.CommandID),
		zap.String("digest", receipt.Digest),
	)
	return &receipt, nil
}

// Snapshot fetches the address-scoped state.
func (c *RPCClient) Snapshot(ctx context.Context, address string) (*models.LedgerSnapshot, error) {
	var snap models.LedgerSnapshot
	if err := c.decode(ctx, &snap, MethodSnapshot, address); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Applications lists applications on the node.
func (c *RPCClient) Applications(ctx context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error) {
	apps := make([]models.GrantApplication, 0)
	if err := c.decode(ctx, &apps, MethodApplications, filter); err != nil {
		return nil, err
	}
	return apps, nil
}

// Grant fetches one grant.
func (c *RPCClient) Grant(ctx context.Context, id string) (*models.Grant, error) {
	var grant models.Grant
	if err := c.decode(ctx, &grant, MethodGrant, id); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Stats fetches the registry counters.
func (c *RPCClient) Stats(ctx context.Context) (*models.SystemRegistry, error) {
	var stats models.SystemRegistry
	if err := c.decode(ctx, &stats, MethodStats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *RPCClient) decode(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return unavailable(fmt.Errorf("decode %s result: %w", method, err), method)
	}
	return nil
}

func unavailable(err error, method string) error {
	return appErrors.Wrap(err, appErrors.ErrLedgerUnavailable.Code, appErrors.ErrLedgerUnavailable.Status, fmt.Sprintf("ledger call %s failed", method))
}
