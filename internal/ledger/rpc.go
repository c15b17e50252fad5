package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

// JSON-RPC method names served by a ledger node.
const (
	MethodExecute      = "scholarflow_execute"
	MethodSnapshot     = "scholarflow_snapshot"
	MethodApplications = "scholarflow_applications"
	MethodGrant        = "scholarflow_grant"
	MethodStats        = "scholarflow_stats"
)

// JSON-RPC 2.0 error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCServerError    = -32000
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError carries the typed application error in Data so clients can rebuild it.
type RPCError struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Data    *appErrors.Error `json:"data,omitempty"`
}

// Error implements error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Dispatcher serves ledger methods over JSON-RPC.
type Dispatcher struct {
	ledger Ledger
}

// NewDispatcher wraps a ledger.
func NewDispatcher(l Ledger) *Dispatcher {
	return &Dispatcher{ledger: l}
}

// Dispatch runs one request and always returns a well-formed response.
func (d *Dispatcher) Dispatch(ctx context.Context, req RPCRequest) RPCResponse {
	resp := RPCResponse{JSONRPC: "2.0", ID: req.ID}
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = &RPCError{Code: RPCInvalidRequest, Message: "invalid request"}
		return resp
	}

	result, err := d.call(ctx, req)
	if err != nil {
		resp.Error = toRPCError(err)
		return resp
	}
	resp.Result = result
	return resp
}

func (d *Dispatcher) call(ctx context.Context, req RPCRequest) (interface{}, error) {
	switch req.Method {
	case MethodExecute:
		var cmd models.Command
		if err := param(req.Params, 0, &cmd); err != nil {
			return nil, err
		}
		return d.ledger.Execute(ctx, cmd)
	case MethodSnapshot:
		var address string
		if err := param(req.Params, 0, &address); err != nil {
			return nil, err
		}
		return d.ledger.Snapshot(ctx, address)
	case MethodApplications:
		var filter models.ApplicationFilter
		if len(req.Params) > 0 {
			if err := param(req.Params, 0, &filter); err != nil {
				return nil, err
			}
		}
		return d.ledger.Applications(ctx, filter)
	case MethodGrant:
		var id string
		if err := param(req.Params, 0, &id); err != nil {
			return nil, err
		}
		return d.ledger.Grant(ctx, id)
	case MethodStats:
		return d.ledger.Stats(ctx)
	default:
		return nil, &RPCError{Code: RPCMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func param(params []json.RawMessage, idx int, out interface{}) error {
	if len(params) <= idx {
		return &RPCError{Code: RPCInvalidParams, Message: fmt.Sprintf("missing param %d", idx)}
	}
	if err := json.Unmarshal(params[idx], out); err != nil {
		return &RPCError{Code: RPCInvalidParams, Message: fmt.Sprintf("decode param %d: %v", idx, err)}
	}
	return nil
}

func toRPCError(err error) *RPCError {
	if rpcErr, ok := err.(*RPCError); ok {
		return rpcErr
	}
	appErr := appErrors.FromError(err)
	return &RPCError{
		Code:    RPCServerError,
		Message: appErr.Message,
		Data:    appErrors.New(appErr.Code, appErr.Status, appErr.Message),
	}
}
