package runtime

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"tokensale/core/state"
	"tokensale/core/types"
	"tokensale/crypto"
	"tokensale/storage"
)

var (
	// SystemProgramID owns plain wallets.
	SystemProgramID = crypto.ProgramID("system")
	// TokenProgramID owns mints and token accounts.
	TokenProgramID = crypto.ProgramID("token")
)

const (
	// AccountOverhead is the per-account bookkeeping charged on top of data.
	AccountOverhead = 128
	// DefaultLamportsPerByte prices rent exemption.
	DefaultLamportsPerByte = 10

	// TokenAccountSize and MintSize are the data sizes rent is charged on.
	TokenAccountSize = 32 + 32 + 8
	MintSize         = 32 + 8 + 1
)

// Config tunes resource pricing.
type Config struct {
	LamportsPerByte uint64
}

// AccountMeta declares an account an invocation will touch.
type AccountMeta struct {
	Address  crypto.Address
	Writable bool
}

// Invocation describes one atomic call into a program.
type Invocation struct {
	Program  crypto.Address
	Signers  []crypto.Address
	Accounts []AccountMeta
}

// Runtime executes invocations serially per account and all-or-nothing.
type Runtime struct {
	state           *state.Manager
	locks           *lockTable
	lamportsPerByte uint64
	logger          *slog.Logger
}

// New creates a runtime over db.
func New(db storage.Database, cfg Config) *Runtime {
	perByte := cfg.LamportsPerByte
	if perByte == 0 {
		perByte = DefaultLamportsPerByte
	}
	return &Runtime{
		state:           state.NewManager(db),
		locks:           newLockTable(),
		lamportsPerByte: perByte,
		logger:          slog.Default().With("component", "runtime"),
	}
}

// SetLogger replaces the runtime logger.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.logger = logger.With("component", "runtime")
}

// State exposes committed state for read-only queries.
func (r *Runtime) State() *state.Manager {
	return r.state
}

// RentExempt returns the lamports an account of size data bytes must hold.
func (r *Runtime) RentExempt(size int) uint64 {
	if size < 0 {
		size = 0
	}
	return (uint64(size) + AccountOverhead) * r.lamportsPerByte
}

// Invoke runs fn with exclusive access to every writable account the
// invocation declares. Writes become visible only if fn returns nil; any
// error discards them. A context cancelled while waiting for locks returns
// ctx.Err() without running fn.
func (r *Runtime) Invoke(ctx context.Context, inv Invocation, fn func(*Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Context{
		rt:       r,
		inv:      inv,
		overlay:  r.state.NewOverlay(),
		declared: make(map[crypto.Address]bool, len(inv.Accounts)),
		signers:  make(map[crypto.Address]struct{}, len(inv.Signers)),
	}
	for _, signer := range inv.Signers {
		c.signers[signer] = struct{}{}
	}
	for _, meta := range inv.Accounts {
		c.declared[meta.Address] = c.declared[meta.Address] || meta.Writable
	}
	writable := make([]crypto.Address, 0, len(c.declared))
	for addr, w := range c.declared {
		if w {
			writable = append(writable, addr)
		}
	}
	sort.Slice(writable, func(i, j int) bool {
		return bytes.Compare(writable[i][:], writable[j][:]) < 0
	})

	release, err := r.locks.acquire(ctx, writable)
	if err != nil {
		return err
	}
	defer release()

	if err := fn(c); err != nil {
		r.logger.Debug("invocation rolled back",
			slog.String("program", inv.Program.String()),
			slog.Any("error", err))
		return err
	}
	if err := c.overlay.Commit(); err != nil {
		r.logger.Error("invocation commit failed",
			slog.String("program", inv.Program.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

// Airdrop credits lamports to a wallet, creating it when absent. It backs the
// development faucet and genesis funding.
func (r *Runtime) Airdrop(ctx context.Context, to crypto.Address, lamports uint64) error {
	inv := Invocation{
		Program:  SystemProgramID,
		Accounts: []AccountMeta{{Address: to, Writable: true}},
	}
	return r.Invoke(ctx, inv, func(c *Context) error {
		return c.credit(to, lamports)
	})
}

// Account returns the committed account at addr or ErrAccountNotFound.
func (r *Runtime) Account(addr crypto.Address) (*types.Account, error) {
	account, err := r.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return account, nil
}

// TokenAccount decodes the committed token account at addr.
func (r *Runtime) TokenAccount(addr crypto.Address) (*types.TokenAccount, error) {
	account, err := r.Account(addr)
	if err != nil {
		return nil, err
	}
	return decodeTokenAccount(account)
}

// Mint decodes the committed mint at addr.
func (r *Runtime) Mint(addr crypto.Address) (*types.Mint, error) {
	account, err := r.Account(addr)
	if err != nil {
		return nil, err
	}
	return decodeMint(account)
}

// AccountsByOwner lists committed accounts owned by program.
func (r *Runtime) AccountsByOwner(program crypto.Address) ([]crypto.Address, error) {
	return r.state.AccountsByOwner(program)
}
