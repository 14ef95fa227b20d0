package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokensale/crypto"
	"tokensale/storage"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	return New(storage.NewMemDB(), Config{LamportsPerByte: 1})
}

func newFundedKey(t *testing.T, rt *Runtime, lamports uint64) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := rt.Airdrop(context.Background(), key.Address(), lamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	return key.Address()
}

type tokenFixture struct {
	authority crypto.Address
	mint      crypto.Address
	account   crypto.Address
}

// newTokenFixture creates a mint owned by a fresh key and that key's
// associated account holding supply tokens.
func newTokenFixture(t *testing.T, rt *Runtime, supply uint64) tokenFixture {
	t.Helper()
	authority := newFundedKey(t, rt, 10_000)
	mint, _, err := MintAddress(authority, "TKN")
	if err != nil {
		t.Fatalf("mint address: %v", err)
	}
	ata, err := AssociatedTokenAddress(authority, mint)
	if err != nil {
		t.Fatalf("ata: %v", err)
	}
	inv := Invocation{
		Program: TokenProgramID,
		Signers: []crypto.Address{authority},
		Accounts: []AccountMeta{
			{Address: authority, Writable: true},
			{Address: mint, Writable: true},
			{Address: ata, Writable: true},
		},
	}
	err = rt.Invoke(context.Background(), inv, func(c *Context) error {
		if _, err := c.CreateMint(authority, authority, "TKN", 0); err != nil {
			return err
		}
		if _, err := c.CreateAssociatedTokenAccount(authority, authority, mint); err != nil {
			return err
		}
		return c.MintTo(mint, ata, Signer(authority), supply)
	})
	if err != nil {
		t.Fatalf("token fixture: %v", err)
	}
	return tokenFixture{authority: authority, mint: mint, account: ata}
}

func TestAirdropAndLamportTransfer(t *testing.T) {
	rt := newTestRuntime(t)
	from := newFundedKey(t, rt, 100)
	to := crypto.ProgramID("somewhere")

	inv := Invocation{
		Program:  SystemProgramID,
		Signers:  []crypto.Address{from},
		Accounts: []AccountMeta{{Address: from, Writable: true}, {Address: to, Writable: true}},
	}
	if err := rt.Invoke(context.Background(), inv, func(c *Context) error {
		return c.TransferLamports(from, to, 40)
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	src, _ := rt.Account(from)
	dst, _ := rt.Account(to)
	if src.Lamports != 60 || dst.Lamports != 40 {
		t.Fatalf("unexpected balances %d/%d", src.Lamports, dst.Lamports)
	}
	if dst.Owner != SystemProgramID {
		t.Fatalf("implicit wallet should be system owned")
	}

	err := rt.Invoke(context.Background(), inv, func(c *Context) error {
		return c.TransferLamports(from, to, 61)
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestInvokeRollsBackOnError(t *testing.T) {
	rt := newTestRuntime(t)
	payer := newFundedKey(t, rt, 1_000)
	key, _ := crypto.GeneratePrivateKey()
	fresh := key.Address()

	inv := Invocation{
		Program:  SystemProgramID,
		Signers:  []crypto.Address{payer, fresh},
		Accounts: []AccountMeta{{Address: payer, Writable: true}, {Address: fresh, Writable: true}},
	}
	boom := errors.New("boom")
	err := rt.Invoke(context.Background(), inv, func(c *Context) error {
		if _, err := c.CreateAccount(payer, fresh, Signer(fresh), 10, SystemProgramID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := rt.Account(fresh); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("rolled back account is visible: %v", err)
	}
	acc, _ := rt.Account(payer)
	if acc.Lamports != 1_000 {
		t.Fatalf("payer charged despite rollback: %d", acc.Lamports)
	}
}

func TestCreateAccountChargesRentAndRejectsDuplicates(t *testing.T) {
	rt := newTestRuntime(t)
	payer := newFundedKey(t, rt, 1_000)
	key, _ := crypto.GeneratePrivateKey()
	fresh := key.Address()
	inv := Invocation{
		Program:  SystemProgramID,
		Signers:  []crypto.Address{payer, fresh},
		Accounts: []AccountMeta{{Address: payer, Writable: true}, {Address: fresh, Writable: true}},
	}
	create := func(c *Context) error {
		_, err := c.CreateAccount(payer, fresh, Signer(fresh), 72, SystemProgramID)
		return err
	}
	if err := rt.Invoke(context.Background(), inv, create); err != nil {
		t.Fatalf("create: %v", err)
	}
	acc, _ := rt.Account(fresh)
	if acc.Lamports != rt.RentExempt(72) || len(acc.Data) != 72 {
		t.Fatalf("unexpected new account %+v", acc)
	}
	if err := rt.Invoke(context.Background(), inv, create); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	noSig := inv
	noSig.Signers = []crypto.Address{payer}
	other, _ := crypto.GeneratePrivateKey()
	noSig.Accounts = append(noSig.Accounts, AccountMeta{Address: other.Address(), Writable: true})
	err := rt.Invoke(context.Background(), noSig, func(c *Context) error {
		_, err := c.CreateAccount(payer, other.Address(), Signer(other.Address()), 8, SystemProgramID)
		return err
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without new account signature, got %v", err)
	}
}

func TestUndeclaredAccountAccess(t *testing.T) {
	rt := newTestRuntime(t)
	wallet := newFundedKey(t, rt, 10)
	other := crypto.ProgramID("other")
	inv := Invocation{
		Program:  SystemProgramID,
		Signers:  []crypto.Address{wallet},
		Accounts: []AccountMeta{{Address: wallet, Writable: true}, {Address: other}},
	}
	err := rt.Invoke(context.Background(), inv, func(c *Context) error {
		_, err := c.Account(crypto.ProgramID("ghost"))
		return err
	})
	if !errors.Is(err, ErrAccountNotDeclared) {
		t.Fatalf("expected ErrAccountNotDeclared, got %v", err)
	}
	err = rt.Invoke(context.Background(), inv, func(c *Context) error {
		return c.TransferLamports(wallet, other, 1)
	})
	if !errors.Is(err, ErrAccountReadOnly) {
		t.Fatalf("expected ErrAccountReadOnly, got %v", err)
	}
}

func TestDerivedAuthorityControlsTransfers(t *testing.T) {
	rt := newTestRuntime(t)
	fx := newTokenFixture(t, rt, 500)
	program := crypto.ProgramID("vault")
	seeds := [][]byte{[]byte("vault"), []byte("one")}
	vault, bump, err := crypto.FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	holdingSeeds := [][]byte{[]byte("holding"), vault[:]}
	holding, holdingBump, err := crypto.FindProgramAddress(holdingSeeds, program)
	if err != nil {
		t.Fatalf("derive holding: %v", err)
	}

	inv := Invocation{
		Program: program,
		Signers: []crypto.Address{fx.authority},
		Accounts: []AccountMeta{
			{Address: fx.authority, Writable: true},
			{Address: fx.account, Writable: true},
			{Address: holding, Writable: true},
			{Address: fx.mint},
		},
	}
	err = rt.Invoke(context.Background(), inv, func(c *Context) error {
		if err := c.CreateTokenAccount(fx.authority, holding, Derived{Seeds: holdingSeeds, Bump: holdingBump}, fx.mint, fx.authority); err != nil {
			return err
		}
		if err := c.SetAuthority(holding, AuthorityAccountOwner, vault, Signer(fx.authority)); err != nil {
			return err
		}
		return c.Transfer(fx.account, holding, Signer(fx.authority), 200)
	})
	if err != nil {
		t.Fatalf("fund holding: %v", err)
	}

	withdraw := func(auth Authority) error {
		return rt.Invoke(context.Background(), inv, func(c *Context) error {
			return c.Transfer(holding, fx.account, auth, 50)
		})
	}
	if err := withdraw(Signer(fx.authority)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("former owner must not move escrowed funds: %v", err)
	}
	if err := withdraw(Derived{Seeds: seeds, Bump: bump ^ 1}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong bump must be rejected: %v", err)
	}
	if err := withdraw(Derived{Seeds: seeds, Bump: bump}); err != nil {
		t.Fatalf("derived withdraw: %v", err)
	}

	foreign := inv
	foreign.Program = crypto.ProgramID("intruder")
	err = rt.Invoke(context.Background(), foreign, func(c *Context) error {
		return c.Transfer(holding, fx.account, Derived{Seeds: seeds, Bump: bump}, 1)
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("seeds must only authorise under their own program: %v", err)
	}

	held, err := rt.TokenAccount(holding)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if held.Amount != 150 || held.Authority != vault {
		t.Fatalf("unexpected holding state %+v", held)
	}

	err = rt.Invoke(context.Background(), inv, func(c *Context) error {
		return c.CloseAccount(holding, fx.authority, Derived{Seeds: seeds, Bump: bump})
	})
	if !errors.Is(err, ErrNonZeroBalance) {
		t.Fatalf("expected ErrNonZeroBalance, got %v", err)
	}
}

func TestTransferRejectsMintMismatchAndOverdraw(t *testing.T) {
	rt := newTestRuntime(t)
	a := newTokenFixture(t, rt, 10)
	b := newTokenFixture(t, rt, 10)
	inv := Invocation{
		Program: SystemProgramID,
		Signers: []crypto.Address{a.authority},
		Accounts: []AccountMeta{
			{Address: a.account, Writable: true},
			{Address: b.account, Writable: true},
		},
	}
	err := rt.Invoke(context.Background(), inv, func(c *Context) error {
		return c.Transfer(a.account, b.account, Signer(a.authority), 1)
	})
	if !errors.Is(err, ErrMintMismatch) {
		t.Fatalf("expected ErrMintMismatch, got %v", err)
	}

	ata, _ := AssociatedTokenAddress(b.authority, a.mint)
	inv = Invocation{
		Program: TokenProgramID,
		Signers: []crypto.Address{a.authority},
		Accounts: []AccountMeta{
			{Address: a.authority, Writable: true},
			{Address: a.account, Writable: true},
			{Address: ata, Writable: true},
			{Address: a.mint},
		},
	}
	err = rt.Invoke(context.Background(), inv, func(c *Context) error {
		if _, err := c.CreateAssociatedTokenAccount(a.authority, b.authority, a.mint); err != nil {
			return err
		}
		return c.Transfer(a.account, ata, Signer(a.authority), 11)
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := rt.Account(ata); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("associated account creation should have rolled back: %v", err)
	}
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	rt := newTestRuntime(t)
	a := newTokenFixture(t, rt, 10)
	inv := Invocation{
		Program:  SystemProgramID,
		Signers:  []crypto.Address{a.authority},
		Accounts: []AccountMeta{{Address: a.account, Writable: true}},
	}
	err := rt.Invoke(context.Background(), inv, func(c *Context) error {
		return c.Transfer(a.account, a.account, Signer(a.authority), 5)
	})
	if !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	acc, err := rt.TokenAccount(a.account)
	if err != nil {
		t.Fatalf("token account: %v", err)
	}
	if acc.Amount != 10 {
		t.Fatalf("balance changed to %d", acc.Amount)
	}
}

func TestInvokeSerializesWritableAccounts(t *testing.T) {
	rt := newTestRuntime(t)
	wallet := newFundedKey(t, rt, 10)
	inv := Invocation{
		Program:  SystemProgramID,
		Accounts: []AccountMeta{{Address: wallet, Writable: true}},
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- rt.Invoke(context.Background(), inv, func(c *Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := rt.Invoke(ctx, inv, func(c *Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || ran {
		t.Fatalf("expected blocked invocation to time out, got %v (ran=%v)", err, ran)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first invocation: %v", err)
	}
	if err := rt.Invoke(context.Background(), inv, func(*Context) error { return nil }); err != nil {
		t.Fatalf("invoke after release: %v", err)
	}
	if n := rt.locks.size(); n != 0 {
		t.Fatalf("lock table leaked %d entries", n)
	}
}
