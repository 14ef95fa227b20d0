package genesis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tokensale/core/runtime"
	"tokensale/crypto"
	"tokensale/storage"
)

func newAddress(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.Address()
}

func TestLoadSpecAndApply(t *testing.T) {
	authority := newAddress(t)
	alice := newAddress(t)
	bob := newAddress(t)

	doc := fmt.Sprintf(`accounts:
  - address: %s
    lamports: 1000000
  - address: %s
    lamports: 5000
mints:
  - symbol: SALE
    decimals: 6
    authority: %s
    balances:
      %s: 700
      %s: 0
`, authority, alice, authority, authority, bob)
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	spec, err := LoadSpec(path)
	if err != nil {
		t.Fatalf("load spec: %v", err)
	}

	rt := runtime.New(storage.NewMemDB(), runtime.Config{})
	result, err := Apply(context.Background(), rt, spec, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Applied || result.Wallets != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	mint, ok := result.Mints["SALE"]
	if !ok {
		t.Fatalf("mint SALE missing from result")
	}
	expected, _, err := runtime.MintAddress(authority, "SALE")
	if err != nil || mint != expected {
		t.Fatalf("mint address %s, want %s (%v)", mint, expected, err)
	}

	state, err := rt.Mint(mint)
	if err != nil {
		t.Fatalf("load mint: %v", err)
	}
	if state.Supply != 700 || state.Decimals != 6 || state.MintAuthority != authority {
		t.Fatalf("unexpected mint %+v", state)
	}

	ata, err := runtime.AssociatedTokenAddress(authority, mint)
	if err != nil {
		t.Fatalf("ata: %v", err)
	}
	holding, err := rt.TokenAccount(ata)
	if err != nil {
		t.Fatalf("token account: %v", err)
	}
	if holding.Amount != 700 || holding.Authority != authority {
		t.Fatalf("unexpected holding %+v", holding)
	}
	bobATA, _ := runtime.AssociatedTokenAddress(bob, mint)
	if token, err := rt.TokenAccount(bobATA); err != nil || token.Amount != 0 {
		t.Fatalf("bob token account: %+v, %v", token, err)
	}

	wallet, err := rt.Account(authority)
	if err != nil {
		t.Fatalf("authority wallet: %v", err)
	}
	rent := rt.RentExempt(runtime.MintSize) + 2*rt.RentExempt(runtime.TokenAccountSize)
	if wallet.Lamports != 1000000-rent {
		t.Fatalf("authority lamports %d, want %d", wallet.Lamports, 1000000-rent)
	}

	again, err := Apply(context.Background(), rt, spec, nil)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if again.Applied {
		t.Fatalf("second apply should be a no-op")
	}
	if wallet, _ := rt.Account(alice); wallet.Lamports != 5000 {
		t.Fatalf("alice funded twice: %d", wallet.Lamports)
	}
}

func TestApplyUnfundedAuthorityFails(t *testing.T) {
	authority := newAddress(t)
	spec := &Spec{Mints: []MintSpec{{Symbol: "SALE", Authority: authority.String()}}}
	rt := runtime.New(storage.NewMemDB(), runtime.Config{})
	if _, err := Apply(context.Background(), rt, spec, nil); err == nil {
		t.Fatalf("expected rent failure for unfunded authority")
	}
	mint, _, _ := runtime.MintAddress(authority, "SALE")
	if _, err := rt.Account(mint); err == nil {
		t.Fatalf("mint must not exist after failed genesis")
	}
	var applied bool
	if found, _ := rt.State().KVGet(appliedKey, &applied); found {
		t.Fatalf("marker written for failed genesis")
	}
}

func TestParseSpecRejects(t *testing.T) {
	addr := newAddress(t).String()
	cases := map[string]string{
		"unknown field": "accounts:\n  - address: " + addr + "\n    balance: 1\n",
		"bad address":   "accounts:\n  - address: nope\n",
		"duplicate":     "accounts:\n  - address: " + addr + "\n  - address: " + addr + "\n",
		"empty symbol":  "mints:\n  - symbol: \" \"\n    authority: " + addr + "\n",
		"bad owner":     "mints:\n  - symbol: X\n    authority: " + addr + "\n    balances:\n      zz: 1\n",
	}
	for name, doc := range cases {
		if _, err := ParseSpec([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := ParseSpec([]byte(strings.TrimSpace(""))); err != nil {
		t.Fatalf("empty document should be valid: %v", err)
	}
}
