package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/usagebill/backend/internal/domain/billing"
)

// rpcError is the error object of a JSON-RPC response
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("odoo: %s: %s", e.Data.Name, e.Data.Message)
	}
	return fmt.Sprintf("odoo: %s (code %d)", e.Message, e.Code)
}

// userError reports errors raised by Odoo business logic, which fail the
// same way on every retry
func (e *rpcError) userError() bool {
	return strings.HasPrefix(e.Data.Name, "odoo.exceptions.")
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// odooRPC speaks Odoo's JSON-RPC dialect on /jsonrpc and keeps the uid of
// the last successful login
type odooRPC struct {
	endpoint string
	database string
	username string
	password string
	client   *http.Client

	ids atomic.Int64
	mu  sync.Mutex
	uid int64
}

func (c *odooRPC) call(ctx context.Context, service, method string, args []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.ids.Add(1),
	})
	if err != nil {
		return fmt.Errorf("odoo: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("odoo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transient("odoo", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transient("odoo", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transient("odoo", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("odoo: unexpected status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return transient("odoo", fmt.Errorf("decode response: %w", err))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("odoo: decode %s.%s result: %w", service, method, err)
	}
	return nil
}

func (c *odooRPC) login(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}

	var result json.RawMessage
	if err := c.call(ctx, "common", "login", []any{c.database, c.username, c.password}, &result); err != nil {
		return 0, err
	}
	// a failed login returns false instead of an error
	var uid int64
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		return 0, fmt.Errorf("odoo: login as %q on %q was refused", c.username, c.database)
	}
	c.uid = uid
	return uid, nil
}

// execute runs model.method through execute_kw
func (c *odooRPC) execute(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.login(ctx)
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.call(ctx, "object", "execute_kw",
		[]any{c.database, uid, c.password, model, method, args, kwargs}, out)
}

// classifyOdooError keeps transient failures and turns business errors into rejections
func classifyOdooError(op string, err error) error {
	if billing.KindOf(err) != "" {
		return err
	}
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) && !rpcErr.userError() {
		return transient(op, err)
	}
	return billing.NewQuotationRejected(op, err)
}
