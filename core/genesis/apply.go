package genesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tokensale/core/runtime"
	"tokensale/crypto"
)

var appliedKey = []byte("genesis/applied")

// Result lists what Apply created.
type Result struct {
	Applied bool
	Wallets int
	Mints   map[string]crypto.Address
}

// Apply funds the listed wallets and creates the listed mints on rt. It runs
// at most once per store: a marker written after the last step makes later
// calls no-ops. Each mint is created in a single invocation together with its
// initial balances.
func Apply(ctx context.Context, rt *runtime.Runtime, spec *Spec, logger *slog.Logger) (*Result, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "genesis")

	var applied bool
	if _, err := rt.State().KVGet(appliedKey, &applied); err != nil {
		return nil, fmt.Errorf("read genesis marker: %w", err)
	}
	if applied {
		logger.Info("genesis already applied")
		return &Result{}, nil
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	result := &Result{Applied: true, Mints: make(map[string]crypto.Address, len(spec.Mints))}
	for _, account := range spec.Accounts {
		addr := crypto.MustParseAddress(account.Address)
		if err := rt.Airdrop(ctx, addr, account.Lamports); err != nil {
			return nil, fmt.Errorf("fund %s: %w", addr, err)
		}
		result.Wallets++
	}
	for _, mint := range spec.Mints {
		addr, err := applyMint(ctx, rt, mint)
		if err != nil {
			return nil, fmt.Errorf("mint %q: %w", mint.Symbol, err)
		}
		result.Mints[strings.TrimSpace(mint.Symbol)] = addr
		logger.Info("genesis mint created",
			slog.String("symbol", mint.Symbol),
			slog.String("mint", addr.String()),
			slog.Int("holders", len(mint.Balances)))
	}

	if err := rt.State().KVPut(appliedKey, true); err != nil {
		return nil, fmt.Errorf("write genesis marker: %w", err)
	}
	logger.Info("genesis applied",
		slog.Int("wallets", result.Wallets),
		slog.Int("mints", len(result.Mints)))
	return result, nil
}

func applyMint(ctx context.Context, rt *runtime.Runtime, spec MintSpec) (crypto.Address, error) {
	symbol := strings.TrimSpace(spec.Symbol)
	authority := crypto.MustParseAddress(spec.Authority)
	mintAddr, _, err := runtime.MintAddress(authority, symbol)
	if err != nil {
		return crypto.ZeroAddress, err
	}

	type holding struct {
		owner   crypto.Address
		account crypto.Address
		amount  uint64
	}
	owners := sortedOwners(spec.Balances)
	holdings := make([]holding, 0, len(owners))
	metas := []runtime.AccountMeta{
		{Address: authority, Writable: true},
		{Address: mintAddr, Writable: true},
	}
	for _, raw := range owners {
		owner := crypto.MustParseAddress(raw)
		ata, err := runtime.AssociatedTokenAddress(owner, mintAddr)
		if err != nil {
			return crypto.ZeroAddress, err
		}
		holdings = append(holdings, holding{owner: owner, account: ata, amount: spec.Balances[raw]})
		metas = append(metas, runtime.AccountMeta{Address: ata, Writable: true})
	}

	inv := runtime.Invocation{
		Program:  runtime.TokenProgramID,
		Signers:  []crypto.Address{authority},
		Accounts: metas,
	}
	err = rt.Invoke(ctx, inv, func(c *runtime.Context) error {
		if _, err := c.CreateMint(authority, authority, symbol, spec.Decimals); err != nil {
			return err
		}
		for _, h := range holdings {
			if _, err := c.CreateAssociatedTokenAccount(authority, h.owner, mintAddr); err != nil {
				return fmt.Errorf("token account for %s: %w", h.owner, err)
			}
			if h.amount == 0 {
				continue
			}
			if err := c.MintTo(mintAddr, h.account, runtime.Signer(authority), h.amount); err != nil {
				return fmt.Errorf("mint to %s: %w", h.owner, err)
			}
		}
		return nil
	})
	if err != nil {
		return crypto.ZeroAddress, err
	}
	return mintAddr, nil
}
