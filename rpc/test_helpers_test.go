package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"tokensale/core/events"
	"tokensale/core/runtime"
	"tokensale/crypto"
	"tokensale/native/tokensale"
	"tokensale/storage"
	"tokensale/tx"
)

const testJWTSecret = "rpc-test-secret-0123456789"

type testHarness struct {
	t      *testing.T
	rt     *runtime.Runtime
	engine *tokensale.Engine
	fanout *events.Fanout
	server *Server
	http   *httptest.Server
	nonce  uint64
}

func newTestHarness(t *testing.T, cfg ServerConfig) *testHarness {
	t.Helper()
	return newTestHarnessWithLogger(t, cfg, nil)
}

func newTestHarnessWithLogger(t *testing.T, cfg ServerConfig, logger *slog.Logger) *testHarness {
	t.Helper()
	rt := runtime.New(storage.NewMemDB(), runtime.Config{LamportsPerByte: 1})
	engine := tokensale.NewEngine(rt, tokensale.Config{})
	fanout := events.NewFanout(16)
	engine.SetEmitter(fanout)
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testJWTSecret
	}
	srv, err := NewServer(rt, engine, nil, fanout, cfg, logger)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testHarness{t: t, rt: rt, engine: engine, fanout: fanout, server: srv, http: ts}
}

func (h *testHarness) fundedKey(lamports uint64) *crypto.PrivateKey {
	h.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(h.t, err)
	require.NoError(h.t, h.rt.Airdrop(context.Background(), key.Address(), lamports))
	return key
}

// call posts a JSON-RPC request and decodes the response envelope.
func (h *testHarness) call(method string, params []interface{}, header http.Header) (*http.Response, RPCResponse) {
	h.t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(h.t, err)
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	require.NoError(h.t, err)
	req, err := http.NewRequest(http.MethodPost, h.http.URL+"/", bytes.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

// signed signs body for method and calls it.
func (h *testHarness) signed(key *crypto.PrivateKey, method string, body any) RPCResponse {
	h.t.Helper()
	env := h.envelope(key, method, body, time.Now().Add(time.Minute))
	_, out := h.call(method, []interface{}{env}, nil)
	return out
}

func (h *testHarness) envelope(key *crypto.PrivateKey, method string, body any, expires time.Time) *tx.Envelope {
	h.t.Helper()
	h.nonce++
	env, err := tx.Sign(key, method, h.nonce, expires, body)
	require.NoError(h.t, err)
	return env
}

// decodeResult re-decodes an RPC result into out.
func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(encoded, out))
}

func bearer(t *testing.T, secret string, expires time.Time) http.Header {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "faucet",
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+signed)
	return header
}

// syncBuffer collects log output written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
