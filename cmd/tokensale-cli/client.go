package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"tokensale/crypto"
	"tokensale/rpc"
	"tokensale/tx"
)

// rpcClient speaks JSON-RPC 2.0 to a tokensaled node.
type rpcClient struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
}

func newRPCClient(endpoint, token string, timeout time.Duration) *rpcClient {
	return &rpcClient{
		endpoint: strings.TrimRight(endpoint, "/") + "/",
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: timeout},
	}
}

// remoteError is a JSON-RPC error returned by the node.
type remoteError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *remoteError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call invokes method with params and decodes the result into out.
func (c *rpcClient) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(rpc.RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return &remoteError{Code: envelope.Error.Code, Message: envelope.Error.Message, Data: envelope.Error.Data}
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// send signs body for method with key and submits it.
func (c *rpcClient) send(ctx context.Context, key *crypto.PrivateKey, method string, ttl time.Duration, body, out interface{}) error {
	now := time.Now()
	env, err := tx.Sign(key, method, uint64(now.UnixNano()), now.Add(ttl), body)
	if err != nil {
		return err
	}
	return c.call(ctx, method, out, env)
}
