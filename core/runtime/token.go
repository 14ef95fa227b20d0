package runtime

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/core/types"
	"tokensale/crypto"
)

var mintSeed = []byte("mint")

func decodeTokenAccount(account *types.Account) (*types.TokenAccount, error) {
	if account.Owner != TokenProgramID {
		return nil, fmt.Errorf("%w: %s is not a token account", ErrInvalidAccountOwner, account.Address)
	}
	token := new(types.TokenAccount)
	if err := rlp.DecodeBytes(account.Data, token); err != nil {
		return nil, fmt.Errorf("%w: token account %s", ErrAccountNotInitialized, account.Address)
	}
	return token, nil
}

func decodeMint(account *types.Account) (*types.Mint, error) {
	if account.Owner != TokenProgramID {
		return nil, fmt.Errorf("%w: %s is not a mint", ErrInvalidAccountOwner, account.Address)
	}
	mint := new(types.Mint)
	if err := rlp.DecodeBytes(account.Data, mint); err != nil {
		return nil, fmt.Errorf("%w: mint %s", ErrAccountNotInitialized, account.Address)
	}
	return mint, nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// AssociatedTokenAddress returns the canonical token account of owner for
// mint.
func AssociatedTokenAddress(owner, mint crypto.Address) (crypto.Address, error) {
	addr, _, err := crypto.FindProgramAddress([][]byte{owner[:], TokenProgramID[:], mint[:]}, TokenProgramID)
	return addr, err
}

// MintAddress returns the address of the mint authority creates under symbol.
func MintAddress(authority crypto.Address, symbol string) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{mintSeed, authority[:], []byte(symbol)}, TokenProgramID)
}

// TokenAccount decodes the token account at addr.
func (c *Context) TokenAccount(addr crypto.Address) (*types.TokenAccount, error) {
	account, err := c.Account(addr)
	if err != nil {
		return nil, err
	}
	return decodeTokenAccount(account)
}

// Mint decodes the mint at addr.
func (c *Context) Mint(addr crypto.Address) (*types.Mint, error) {
	account, err := c.Account(addr)
	if err != nil {
		return nil, err
	}
	return decodeMint(account)
}

func (c *Context) storeToken(addr crypto.Address, value interface{}) error {
	account, err := c.Account(addr)
	if err != nil {
		return err
	}
	if account.Owner != TokenProgramID {
		return fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	account.Data = encoded
	return c.put(account)
}

// CreateMint allocates and initialises the mint authority controls under
// symbol. Only the token program may create accounts at its own addresses.
func (c *Context) CreateMint(payer, authority crypto.Address, symbol string, decimals uint8) (crypto.Address, error) {
	if c.inv.Program != TokenProgramID {
		return crypto.ZeroAddress, fmt.Errorf("%w: mints are created by the token program", ErrUnauthorized)
	}
	addr, bump, err := MintAddress(authority, symbol)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	seeds := [][]byte{mintSeed, authority[:], []byte(symbol)}
	if _, err := c.CreateAccount(payer, addr, Derived{Seeds: seeds, Bump: bump}, MintSize, TokenProgramID); err != nil {
		return crypto.ZeroAddress, err
	}
	if err := c.InitializeMint(addr, authority, decimals); err != nil {
		return crypto.ZeroAddress, err
	}
	return addr, nil
}

// InitializeMint writes a fresh mint into an allocated, zeroed token-program
// account.
func (c *Context) InitializeMint(addr, authority crypto.Address, decimals uint8) error {
	account, err := c.Account(addr)
	if err != nil {
		return err
	}
	if account.Owner != TokenProgramID {
		return fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	if !isZeroed(account.Data) {
		return fmt.Errorf("%w: mint %s", ErrAccountExists, addr)
	}
	return c.storeToken(addr, &types.Mint{MintAuthority: authority, Decimals: decimals})
}

// CreateTokenAccount allocates a token account for mint at addr with the
// given transfer authority.
func (c *Context) CreateTokenAccount(payer, addr crypto.Address, addrAuth Authority, mint, authority crypto.Address) error {
	if _, err := c.Mint(mint); err != nil {
		return err
	}
	if _, err := c.CreateAccount(payer, addr, addrAuth, TokenAccountSize, TokenProgramID); err != nil {
		return err
	}
	return c.storeToken(addr, &types.TokenAccount{Mint: mint, Authority: authority})
}

// CreateAssociatedTokenAccount allocates owner's canonical account for mint,
// funded by payer, and returns its address.
func (c *Context) CreateAssociatedTokenAccount(payer, owner, mint crypto.Address) (crypto.Address, error) {
	if _, err := c.Mint(mint); err != nil {
		return crypto.ZeroAddress, err
	}
	addr, err := AssociatedTokenAddress(owner, mint)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	if _, err := c.createAccount(payer, addr, TokenAccountSize, TokenProgramID); err != nil {
		return crypto.ZeroAddress, err
	}
	if err := c.storeToken(addr, &types.TokenAccount{Mint: mint, Authority: owner}); err != nil {
		return crypto.ZeroAddress, err
	}
	return addr, nil
}

// MintTo creates amount new tokens in dest.
func (c *Context) MintTo(mintAddr, dest crypto.Address, authority Authority, amount uint64) error {
	if err := c.checkWrite(mintAddr); err != nil {
		return err
	}
	mint, err := c.Mint(mintAddr)
	if err != nil {
		return err
	}
	if authority == nil {
		return fmt.Errorf("%w: no mint authority", ErrUnauthorized)
	}
	if err := authority.verify(c, mint.MintAuthority); err != nil {
		return err
	}
	token, err := c.TokenAccount(dest)
	if err != nil {
		return err
	}
	if token.Mint != mintAddr {
		return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, dest, token.Mint)
	}
	if mint.Supply > math.MaxUint64-amount || token.Amount > math.MaxUint64-amount {
		return fmt.Errorf("%w: minting %d", ErrOverflow, amount)
	}
	mint.Supply += amount
	token.Amount += amount
	if err := c.storeToken(mintAddr, mint); err != nil {
		return err
	}
	return c.storeToken(dest, token)
}

// Transfer moves amount tokens between two accounts of the same mint,
// authorised by the source account's authority.
func (c *Context) Transfer(from, to crypto.Address, authority Authority, amount uint64) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from)
	}
	if err := c.checkWrite(from); err != nil {
		return err
	}
	if err := c.checkWrite(to); err != nil {
		return err
	}
	source, err := c.TokenAccount(from)
	if err != nil {
		return err
	}
	dest, err := c.TokenAccount(to)
	if err != nil {
		return err
	}
	if source.Mint != dest.Mint {
		return fmt.Errorf("%w: %s vs %s", ErrMintMismatch, source.Mint, dest.Mint)
	}
	if authority == nil {
		return fmt.Errorf("%w: no authority for %s", ErrUnauthorized, from)
	}
	if err := authority.verify(c, source.Authority); err != nil {
		return err
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, source.Amount, amount)
	}
	if amount == 0 {
		return nil
	}
	if dest.Amount > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", ErrOverflow, to)
	}
	source.Amount -= amount
	dest.Amount += amount
	if err := c.storeToken(from, source); err != nil {
		return err
	}
	return c.storeToken(to, dest)
}

// SetAuthority replaces one authority of a token account or mint. current
// must satisfy the authority being replaced.
func (c *Context) SetAuthority(addr crypto.Address, kind AuthorityType, newAuthority crypto.Address, current Authority) error {
	if err := c.checkWrite(addr); err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: no current authority for %s", ErrUnauthorized, addr)
	}
	switch kind {
	case AuthorityAccountOwner:
		token, err := c.TokenAccount(addr)
		if err != nil {
			return err
		}
		if err := current.verify(c, token.Authority); err != nil {
			return err
		}
		token.Authority = newAuthority
		return c.storeToken(addr, token)
	case AuthorityMintTokens:
		mint, err := c.Mint(addr)
		if err != nil {
			return err
		}
		if err := current.verify(c, mint.MintAuthority); err != nil {
			return err
		}
		mint.MintAuthority = newAuthority
		return c.storeToken(addr, mint)
	default:
		return fmt.Errorf("runtime: unknown authority type %s", kind)
	}
}
