package tx

import (
	"errors"
	"testing"
	"time"

	"tokensale/crypto"
	"tokensale/storage"
)

func signedExchange(t *testing.T, now time.Time) (*crypto.PrivateKey, *Envelope) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env, err := Sign(key, MethodSaleExchange, 7, now.Add(time.Minute), &SaleExchangeBody{
		Name:              "sale1",
		Payment:           5,
		PayerTokenAccount: crypto.ProgramID("ata"),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return key, env
}

func TestEnvelopeOpen(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	key, env := signedExchange(t, now)
	if env.Signer != key.Address() {
		t.Fatalf("signer not recorded")
	}
	ins, err := env.Open(MethodSaleExchange, now)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ins.Nonce != 7 {
		t.Fatalf("nonce %d", ins.Nonce)
	}
	var body SaleExchangeBody
	if err := ins.DecodeBody(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Name != "sale1" || body.Payment != 5 || body.PayerTokenAccount != crypto.ProgramID("ata") {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestEnvelopeDeterministicPayload(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	expires := time.Unix(1_700_000_060, 0)
	body := &SaleCancelBody{Name: "n"}
	a, _ := Sign(key, MethodSaleCancel, 1, expires, body)
	b, _ := Sign(key, MethodSaleCancel, 1, expires, body)
	if string(a.Payload) != string(b.Payload) || a.Digest() != b.Digest() {
		t.Fatalf("identical instructions encoded differently")
	}
}

func TestEnvelopeRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, env := signedExchange(t, now)

	if _, err := env.Open(MethodSaleCancel, now); !errors.Is(err, ErrMethodMismatch) {
		t.Fatalf("expected ErrMethodMismatch, got %v", err)
	}
	if _, err := env.Open(MethodSaleExchange, now.Add(time.Minute)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := env.Open(MethodSaleExchange, now.Add(-MaxTTL)); !errors.Is(err, ErrExpiryTooFar) {
		t.Fatalf("expected ErrExpiryTooFar, got %v", err)
	}

	tampered := *env
	tampered.Payload = append([]byte(nil), env.Payload...)
	tampered.Payload[len(tampered.Payload)-1] ^= 0x01
	if _, err := tampered.Open(MethodSaleExchange, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	impostor := *env
	other, _ := crypto.GeneratePrivateKey()
	impostor.Signer = other.Address()
	if _, err := impostor.Open(MethodSaleExchange, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong signer, got %v", err)
	}

	garbled := *env
	garbled.Signature = "zz"
	if _, err := garbled.Open(MethodSaleExchange, now); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestReplayGuard(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, env := signedExchange(t, now)
	guard := NewReplayGuard()
	expires := now.Add(time.Minute)

	if err := guard.Observe(env.Digest(), expires, now); err != nil {
		t.Fatalf("first observe: %v", err)
	}
	if err := guard.Observe(env.Digest(), expires, now.Add(time.Second)); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
	if err := guard.Observe([32]byte{1}, expires, expires); err != nil {
		t.Fatalf("observe after expiry: %v", err)
	}
	if guard.Len() != 1 {
		t.Fatalf("expired digest not pruned: %d", guard.Len())
	}
}

func TestPersistentReplayGuardSurvivesRestart(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, env := signedExchange(t, now)
	db := storage.NewMemDB()

	guard, err := NewPersistentReplayGuard(db, now)
	if err != nil {
		t.Fatalf("open guard: %v", err)
	}
	if err := guard.Observe(env.Digest(), now.Add(time.Minute), now); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := guard.Observe([32]byte{7}, now.Add(time.Second), now); err != nil {
		t.Fatalf("observe short-lived: %v", err)
	}

	restarted, err := NewPersistentReplayGuard(db, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("reopen guard: %v", err)
	}
	if restarted.Len() != 1 {
		t.Fatalf("expected only the unexpired digest to load, got %d", restarted.Len())
	}
	if err := restarted.Observe(env.Digest(), now.Add(time.Minute), now.Add(3*time.Second)); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay after restart, got %v", err)
	}
	if _, err := db.Get(replayKey([32]byte{7})); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired digest left in storage: %v", err)
	}

	later := now.Add(2 * time.Minute)
	if err := restarted.Observe([32]byte{9}, later.Add(time.Minute), later); err != nil {
		t.Fatalf("observe after expiry: %v", err)
	}
	if _, err := db.Get(replayKey(env.Digest())); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pruned digest left in storage: %v", err)
	}
}
