package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"tokensale/core/runtime"
	"tokensale/crypto"
	"tokensale/native/tokensale"
	"tokensale/observability/logging"
	"tokensale/tx"
)

// setupMint creates a SALE mint owned by admin and mints amount into the
// admin's associated account, all through RPC.
func setupMint(t *testing.T, h *testHarness, admin *crypto.PrivateKey, amount uint64) (crypto.Address, crypto.Address) {
	t.Helper()
	var mint MintResult
	decodeResult(t, h.signed(admin, tx.MethodTokenCreateMint, &tx.CreateMintBody{Symbol: "SALE"}), &mint)
	require.Equal(t, admin.Address(), mint.MintAuthority)

	var account TokenAccountResult
	decodeResult(t, h.signed(admin, tx.MethodTokenCreateAccount, &tx.CreateAccountBody{Mint: mint.Address}), &account)
	require.Equal(t, admin.Address(), account.Authority)

	decodeResult(t, h.signed(admin, tx.MethodTokenMintTo, &tx.MintToBody{
		Mint:        mint.Address,
		Destination: account.Address,
		Amount:      amount,
	}), &account)
	require.Equal(t, amount, account.Amount)
	return mint.Address, account.Address
}

func TestSaleLifecycleOverRPC(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	admin := h.fundedKey(100_000)
	mint, adminToken := setupMint(t, h, admin, 1000)

	var sale SaleResult
	decodeResult(t, h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{
		Name:   "sale1",
		Rate:   5,
		Supply: 500,
		Mint:   mint,
	}), &sale)
	require.Equal(t, "sale1", sale.Name)
	require.Equal(t, uint64(500), sale.RemainingSupply)

	var addr EscrowAddressResult
	_, resp := h.call("sale_escrowAddress", []interface{}{SaleNameParams{Name: " sale1 "}}, nil)
	decodeResult(t, resp, &addr)
	require.Equal(t, sale.Address, addr.Address)
	require.Equal(t, sale.Holding, addr.Holding)

	buyer := h.fundedKey(10_000)
	var receipt tokensale.ExchangeReceipt
	decodeResult(t, h.signed(buyer, tx.MethodSaleExchange, &tx.SaleExchangeBody{Name: "sale1", Payment: 20}), &receipt)
	require.Equal(t, uint64(100), receipt.Granted)
	require.Equal(t, uint64(400), receipt.Sale.RemainingSupply)

	var buyerToken TokenAccountResult
	_, resp = h.call("token_getAccount", []interface{}{TokenAccountParams{Owner: buyer.Address(), Mint: mint}}, nil)
	decodeResult(t, resp, &buyerToken)
	require.Equal(t, uint64(100), buyerToken.Amount)

	var wallet AccountResult
	_, resp = h.call("ledger_getAccount", []interface{}{AddressParams{Address: buyer.Address()}}, nil)
	decodeResult(t, resp, &wallet)
	require.Equal(t, 10_000-20-h.rt.RentExempt(runtime.TokenAccountSize), wallet.Lamports)

	var list []SaleResult
	_, resp = h.call("sale_list", nil, nil)
	decodeResult(t, resp, &list)
	require.Len(t, list, 1)
	require.Equal(t, uint64(100), list[0].Sold)

	resp = h.signed(buyer, tx.MethodSaleCancel, &tx.SaleCancelBody{Name: "sale1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	var cancel tokensale.CancelReceipt
	decodeResult(t, h.signed(admin, tx.MethodSaleCancel, &tx.SaleCancelBody{Name: "sale1"}), &cancel)
	require.Equal(t, uint64(400), cancel.Returned)
	require.Equal(t, adminToken, cancel.AdminTokenAccount)

	_, resp = h.call("sale_get", []interface{}{SaleNameParams{Name: "sale1"}}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeNotFound, resp.Error.Code)

	var adminAccount TokenAccountResult
	_, resp = h.call("token_getAccount", []interface{}{TokenAccountParams{Address: adminToken}}, nil)
	decodeResult(t, resp, &adminAccount)
	require.Equal(t, uint64(900), adminAccount.Amount)
}

func TestSaleInitializeErrorsMapToCodes(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	admin := h.fundedKey(100_000)
	mint, _ := setupMint(t, h, admin, 100)

	resp := h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{Name: "big", Rate: 1, Supply: 101, Mint: mint})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInsufficientFunds, resp.Error.Code)

	resp = h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{Name: "", Rate: 1, Supply: 1, Mint: mint})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	decodeResult(t, h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{Name: "dup", Rate: 1, Supply: 10, Mint: mint}), &SaleResult{})
	resp = h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{Name: "dup", Rate: 1, Supply: 10, Mint: mint})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeAlreadyExists, resp.Error.Code)
}

func TestExchangeIntoSaleAccountsIsRejected(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	admin := h.fundedKey(100_000)
	mint, _ := setupMint(t, h, admin, 1000)

	var sale SaleResult
	decodeResult(t, h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{
		Name:   "guarded",
		Rate:   10,
		Supply: 1000,
		Mint:   mint,
	}), &sale)

	buyer := h.fundedKey(10_000)
	for _, target := range []crypto.Address{sale.Holding, sale.Address} {
		resp := h.signed(buyer, tx.MethodSaleExchange, &tx.SaleExchangeBody{
			Name:              "guarded",
			Payment:           5,
			PayerTokenAccount: target,
		})
		require.NotNil(t, resp.Error)
		require.Equal(t, codeInvalidParams, resp.Error.Code)
	}

	var wallet AccountResult
	_, resp := h.call("ledger_getAccount", []interface{}{AddressParams{Address: buyer.Address()}}, nil)
	decodeResult(t, resp, &wallet)
	require.Equal(t, uint64(10_000), wallet.Lamports)

	var cancel tokensale.CancelReceipt
	decodeResult(t, h.signed(admin, tx.MethodSaleCancel, &tx.SaleCancelBody{Name: "guarded"}), &cancel)
	require.Equal(t, uint64(1000), cancel.Returned)
}

func TestEnvelopeReplayAndExpiry(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	admin := h.fundedKey(100_000)

	env := h.envelope(admin, tx.MethodTokenCreateMint, &tx.CreateMintBody{Symbol: "ONE"}, time.Now().Add(time.Minute))
	_, resp := h.call(tx.MethodTokenCreateMint, []interface{}{env}, nil)
	require.Nil(t, resp.Error)
	httpResp, resp := h.call(tx.MethodTokenCreateMint, []interface{}{env}, nil)
	require.Equal(t, http.StatusConflict, httpResp.StatusCode)
	require.Equal(t, codeDuplicateTx, resp.Error.Code)

	expired := h.envelope(admin, tx.MethodTokenCreateMint, &tx.CreateMintBody{Symbol: "TWO"}, time.Now().Add(-time.Second))
	_, resp = h.call(tx.MethodTokenCreateMint, []interface{}{expired}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeExpired, resp.Error.Code)

	wrongMethod := h.envelope(admin, tx.MethodTokenCreateMint, &tx.CreateMintBody{Symbol: "THREE"}, time.Now().Add(time.Minute))
	_, resp = h.call(tx.MethodSaleCancel, []interface{}{wrongMethod}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	forged := h.envelope(admin, tx.MethodTokenCreateMint, &tx.CreateMintBody{Symbol: "FOUR"}, time.Now().Add(time.Minute))
	other := h.fundedKey(1)
	forged.Signer = other.Address()
	httpResp, resp = h.call(tx.MethodTokenCreateMint, []interface{}{forged}, nil)
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestAirdropRequiresBearerToken(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	target, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	params := []interface{}{AirdropParams{Address: target.Address(), Lamports: 5000}}

	httpResp, resp := h.call("ledger_airdrop", params, nil)
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	_, resp = h.call("ledger_airdrop", params, bearer(t, "some-other-secret-value", time.Now().Add(time.Minute)))
	require.NotNil(t, resp.Error)

	_, resp = h.call("ledger_airdrop", params, bearer(t, testJWTSecret, time.Now().Add(-time.Hour)))
	require.NotNil(t, resp.Error)

	var account AccountResult
	_, resp = h.call("ledger_airdrop", params, bearer(t, testJWTSecret, time.Now().Add(time.Minute)))
	decodeResult(t, resp, &account)
	require.Equal(t, uint64(5000), account.Lamports)
	require.Equal(t, runtime.SystemProgramID, account.Owner)
}

func TestAuthLogsRedactCredentials(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newTestHarnessWithLogger(t, ServerConfig{}, logger)
	target, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	params := []interface{}{AirdropParams{Address: target.Address(), Lamports: 10}}

	forged := bearer(t, "some-other-secret-value", time.Now().Add(time.Minute))
	_, resp := h.call("ledger_airdrop", params, forged)
	require.NotNil(t, resp.Error)

	valid := bearer(t, testJWTSecret, time.Now().Add(time.Minute))
	_, resp = h.call("ledger_airdrop", params, valid)
	require.Nil(t, resp.Error)

	out := logs.String()
	require.Contains(t, out, "rpc authentication failed")
	require.Contains(t, out, logging.RedactedValue)
	require.Contains(t, out, `"subject":"faucet"`)
	for _, header := range []http.Header{forged, valid} {
		token := strings.TrimPrefix(header.Get("Authorization"), "Bearer ")
		require.NotContains(t, out, token)
	}
	require.False(t, logging.IsAllowlisted("authorization"), "allowlist: %v", logging.RedactionAllowlist())
}

func TestRequestValidation(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})

	httpResp, resp := h.call("nope_method", nil, nil)
	require.Equal(t, http.StatusNotFound, httpResp.StatusCode)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	raw, err := h.http.Client().Post(h.http.URL+"/", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer raw.Body.Close()
	var parsed RPCResponse
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&parsed))
	require.Equal(t, codeParseError, parsed.Error.Code)
	require.NotEmpty(t, raw.Header.Get("X-Request-ID"))

	_, resp = h.call("sale_get", nil, nil)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	_, resp = h.call("token_getAccount", []interface{}{TokenAccountParams{}}, nil)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	_, resp = h.call("sale_history", nil, nil)
	require.Equal(t, codeServerError, resp.Error.Code)

	health, err := h.http.Client().Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)
}

func TestRateLimit(t *testing.T) {
	h := newTestHarness(t, ServerConfig{RateLimit: 0.001, Burst: 1})
	httpResp, _ := h.call("sale_list", nil, nil)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	httpResp, resp := h.call("sale_list", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, httpResp.StatusCode)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestTrustedProxyHeaders(t *testing.T) {
	limiter, err := newClientLimiter(1, 1, []string{"10.0.0.0/8"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, err)
	req.RemoteAddr = "10.1.2.3:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")
	require.Equal(t, "203.0.113.9", limiter.clientIP(req))

	req.RemoteAddr = "198.51.100.7:4000"
	require.Equal(t, "198.51.100.7", limiter.clientIP(req))
}

func TestEventStream(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	admin := h.fundedKey(100_000)
	mint, _ := setupMint(t, h, admin, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws?sale=watched"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return h.fanout.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	decodeResult(t, h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{Name: "ignored", Rate: 1, Supply: 10, Mint: mint}), &SaleResult{})
	decodeResult(t, h.signed(admin, tx.MethodSaleInitialize, &tx.SaleInitializeBody{Name: "watched", Rate: 2, Supply: 20, Mint: mint}), &SaleResult{})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, tokensale.EventTypeSaleInitialized, msg.Type)
	require.Equal(t, "watched", msg.Attributes["name"])
	require.Equal(t, "20", msg.Attributes["totalSupply"])
}
