package runtime

import (
	"fmt"

	"tokensale/crypto"
)

// Authority proves control over an address inside an invocation. The method
// set is closed: only the runtime decides what counts as proof.
type Authority interface {
	verify(c *Context, expected crypto.Address) error
}

// Signer authorizes as addr when addr co-signed the invocation.
type Signer crypto.Address

func (s Signer) verify(c *Context, expected crypto.Address) error {
	addr := crypto.Address(s)
	if addr != expected {
		return fmt.Errorf("%w: signer %s is not %s", ErrUnauthorized, addr, expected)
	}
	if !c.IsSigner(addr) {
		return fmt.Errorf("%w: %s did not sign", ErrUnauthorized, addr)
	}
	return nil
}

// Derived authorizes as the program-derived address re-computed from Seeds
// and Bump under the invoking program. No key exists for such an address;
// knowing the seeds inside the owning program is the capability.
type Derived struct {
	Seeds [][]byte
	Bump  uint8
}

func (d Derived) verify(c *Context, expected crypto.Address) error {
	seeds := make([][]byte, 0, len(d.Seeds)+1)
	seeds = append(seeds, d.Seeds...)
	seeds = append(seeds, []byte{d.Bump})
	addr, err := crypto.CreateProgramAddress(seeds, c.inv.Program)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if addr != expected {
		return fmt.Errorf("%w: derived %s is not %s", ErrUnauthorized, addr, expected)
	}
	return nil
}

// AuthorityType selects which authority SetAuthority replaces.
type AuthorityType uint8

const (
	// AuthorityAccountOwner controls transfers out of a token account.
	AuthorityAccountOwner AuthorityType = iota
	// AuthorityMintTokens controls minting new supply.
	AuthorityMintTokens
)

func (t AuthorityType) String() string {
	switch t {
	case AuthorityAccountOwner:
		return "AccountOwner"
	case AuthorityMintTokens:
		return "MintTokens"
	default:
		return fmt.Sprintf("AuthorityType(%d)", uint8(t))
	}
}
