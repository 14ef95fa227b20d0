package types

import "tokensale/crypto"

// Account is the host-level record every address resolves to. Only the owning
// program may rewrite Data or debit Lamports without a signature from the
// address itself.
type Account struct {
	Address  crypto.Address `json:"address" rlp:"-"`
	Owner    crypto.Address `json:"owner"`
	Lamports uint64         `json:"lamports"`
	Data     []byte         `json:"data,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return &out
}

// TokenAccount holds a balance of a single mint on behalf of Authority.
type TokenAccount struct {
	Mint      crypto.Address `json:"mint"`
	Authority crypto.Address `json:"authority"`
	Amount    uint64         `json:"amount"`
}

// Mint describes a fungible token. MintAuthority is the only address that may
// increase Supply.
type Mint struct {
	MintAuthority crypto.Address `json:"mintAuthority"`
	Supply        uint64         `json:"supply"`
	Decimals      uint8          `json:"decimals"`
}
