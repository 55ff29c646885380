package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// RPCConfig configures a JSON-RPC payment network client.
type RPCConfig struct {
	URL             string
	Timeout         time.Duration
	ConfirmAttempts int
	ConfirmInterval time.Duration
}

// DefaultRPCConfig returns the standard timeouts for url.
func DefaultRPCConfig(url string) RPCConfig {
	return RPCConfig{
		URL:             url,
		Timeout:         10 * time.Second,
		ConfirmAttempts: 20,
		ConfirmInterval: 500 * time.Millisecond,
	}
}

// RPCClient talks JSON-RPC 2.0 to a payment network node.
type RPCClient struct {
	cfg  RPCConfig
	http *http.Client
	id   atomic.Int64
}

// NewRPCClient creates a client for the node at cfg.URL.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	def := DefaultRPCConfig(cfg.URL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = def.ConfirmAttempts
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = def.ConfirmInterval
	}
	return &RPCClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Server error codes mapped to sentinel errors.
const (
	codeInsufficientFunds = -32002
	codeUnknownAccount    = -32004
)

func (c *RPCClient) call(ctx context.Context, method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.id.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: http %d", ErrUnavailable, method, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if out.Error != nil {
		switch out.Error.Code {
		case codeInsufficientFunds:
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, out.Error.Message)
		case codeUnknownAccount:
			return fmt.Errorf("%w: %s", ErrUnknownAccount, out.Error.Message)
		}
		return fmt.Errorf("%s: %w", method, out.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Transfer submits a transfer and polls for confirmation.
func (c *RPCClient) Transfer(ctx context.Context, from, to string, amount int64) (Confirmation, error) {
	if amount <= 0 {
		return Confirmation{}, ErrInvalidAmount
	}

	var ref string
	if err := c.call(ctx, "transfer", &ref, from, to, amount); err != nil {
		return Confirmation{}, err
	}
	if ref == "" {
		return Confirmation{}, fmt.Errorf("%w: empty reference", ErrNotConfirmed)
	}

	confirmed, err := c.waitConfirmed(ctx, ref)
	if err != nil {
		return Confirmation{Reference: ref}, err
	}
	return Confirmation{Confirmed: confirmed, Reference: ref}, nil
}

type signatureStatus struct {
	Status string `json:"status"`
	Err    string `json:"err,omitempty"`
}

func (c *RPCClient) waitConfirmed(ctx context.Context, ref string) (bool, error) {
	ticker := time.NewTicker(c.cfg.ConfirmInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.cfg.ConfirmAttempts; attempt++ {
		var st signatureStatus
		if err := c.call(ctx, "getSignatureStatus", &st, ref); err != nil {
			return false, err
		}
		switch st.Status {
		case "confirmed", "finalized":
			return true, nil
		case "failed":
			return false, fmt.Errorf("%w: %s", ErrNotConfirmed, st.Err)
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
	return false, fmt.Errorf("%w: %s still pending after %d checks", ErrNotConfirmed, ref, c.cfg.ConfirmAttempts)
}

func (c *RPCClient) Balance(ctx context.Context, identity string) (int64, error) {
	var units int64
	if err := c.call(ctx, "getBalance", &units, identity); err != nil {
		return 0, err
	}
	return units, nil
}

func (c *RPCClient) Ping(ctx context.Context) error {
	var version map[string]any
	if err := c.call(ctx, "getVersion", &version); err != nil {
		return err
	}
	if len(version) == 0 {
		return errors.New("ledger: empty version response")
	}
	return nil
}

// RequestFunds asks the node's faucet to credit identity.
func (c *RPCClient) RequestFunds(ctx context.Context, identity string, amount int64) (Confirmation, error) {
	if amount <= 0 {
		return Confirmation{}, ErrInvalidAmount
	}
	var ref string
	if err := c.call(ctx, "requestAirdrop", &ref, identity, amount); err != nil {
		return Confirmation{}, err
	}
	confirmed, err := c.waitConfirmed(ctx, ref)
	if err != nil {
		return Confirmation{Reference: ref}, err
	}
	return Confirmation{Confirmed: confirmed, Reference: ref}, nil
}
