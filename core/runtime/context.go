package runtime

import (
	"errors"
	"fmt"
	"math"

	"tokensale/core/state"
	"tokensale/core/types"
	"tokensale/crypto"
)

// Context is the ledger surface a program sees during one invocation. Every
// read and write goes through the invocation's overlay.
type Context struct {
	rt       *Runtime
	inv      Invocation
	overlay  *state.Overlay
	declared map[crypto.Address]bool // value reports writability
	signers  map[crypto.Address]struct{}
}

// IsSigner reports whether addr co-signed the invocation.
func (c *Context) IsSigner(addr crypto.Address) bool {
	_, ok := c.signers[addr]
	return ok
}

// RentExempt mirrors Runtime.RentExempt.
func (c *Context) RentExempt(size int) uint64 {
	return c.rt.RentExempt(size)
}

// DeriveAddress derives a program address under the invoking program.
func (c *Context) DeriveAddress(seeds [][]byte, startBump uint8) (crypto.Address, uint8, error) {
	return crypto.DeriveAddress(seeds, startBump, c.inv.Program)
}

func (c *Context) checkRead(addr crypto.Address) error {
	if _, ok := c.declared[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotDeclared, addr)
	}
	return nil
}

func (c *Context) checkWrite(addr crypto.Address) error {
	writable, ok := c.declared[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotDeclared, addr)
	}
	if !writable {
		return fmt.Errorf("%w: %s", ErrAccountReadOnly, addr)
	}
	return nil
}

// Exists reports whether addr currently holds an account.
func (c *Context) Exists(addr crypto.Address) (bool, error) {
	if err := c.checkRead(addr); err != nil {
		return false, err
	}
	account, err := c.overlay.GetAccount(addr)
	if err != nil {
		return false, err
	}
	return account != nil, nil
}

// Account returns a copy of the account at addr or ErrAccountNotFound.
func (c *Context) Account(addr crypto.Address) (*types.Account, error) {
	if err := c.checkRead(addr); err != nil {
		return nil, err
	}
	account, err := c.overlay.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return account, nil
}

func (c *Context) put(account *types.Account) error {
	if err := c.checkWrite(account.Address); err != nil {
		return err
	}
	c.overlay.PutAccount(account.Address, account)
	return nil
}

// CreateAccount allocates a zeroed account of size bytes at addr, owned by
// owner and funded to rent exemption by payer. addrAuth must prove control of
// addr: a Signer for keyed addresses, Derived for program addresses.
func (c *Context) CreateAccount(payer, addr crypto.Address, addrAuth Authority, size int, owner crypto.Address) (*types.Account, error) {
	if addrAuth == nil {
		return nil, fmt.Errorf("%w: no authority for new account %s", ErrUnauthorized, addr)
	}
	if err := addrAuth.verify(c, addr); err != nil {
		return nil, err
	}
	return c.createAccount(payer, addr, size, owner)
}

func (c *Context) createAccount(payer, addr crypto.Address, size int, owner crypto.Address) (*types.Account, error) {
	if err := c.checkWrite(addr); err != nil {
		return nil, err
	}
	if err := c.checkWrite(payer); err != nil {
		return nil, err
	}
	if !c.IsSigner(payer) {
		return nil, fmt.Errorf("%w: payer %s did not sign", ErrUnauthorized, payer)
	}
	existing, err := c.overlay.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	rent := c.RentExempt(size)
	if err := c.debit(payer, rent); err != nil {
		return nil, err
	}
	account := &types.Account{
		Address:  addr,
		Owner:    owner,
		Lamports: rent,
		Data:     make([]byte, size),
	}
	if err := c.put(account); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// WriteData replaces the data of an account owned by the invoking program.
// The length is fixed at allocation.
func (c *Context) WriteData(addr crypto.Address, data []byte) error {
	account, err := c.Account(addr)
	if err != nil {
		return err
	}
	if account.Owner != c.inv.Program {
		return fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	if len(data) != len(account.Data) {
		return fmt.Errorf("%w: got %d bytes, allocated %d", ErrDataSize, len(data), len(account.Data))
	}
	account.Data = append(account.Data[:0], data...)
	return c.put(account)
}

// TransferLamports moves lamports out of a signing system wallet. A missing
// destination becomes a new system wallet.
func (c *Context) TransferLamports(from, to crypto.Address, amount uint64) error {
	if err := c.checkWrite(from); err != nil {
		return err
	}
	if err := c.checkWrite(to); err != nil {
		return err
	}
	if !c.IsSigner(from) {
		return fmt.Errorf("%w: %s did not sign", ErrUnauthorized, from)
	}
	source, err := c.Account(from)
	if err != nil {
		return err
	}
	if source.Owner != SystemProgramID {
		return fmt.Errorf("%w: %s is not a system wallet", ErrInvalidAccountOwner, from)
	}
	if from == to || amount == 0 {
		if source.Lamports < amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, source.Lamports, amount)
		}
		return nil
	}
	if err := c.debit(from, amount); err != nil {
		return err
	}
	return c.credit(to, amount)
}

// CloseAccount destroys account and sweeps its lamports to dest. Token
// accounts need their token authority and a zero balance. Program-owned data
// accounts can only be closed by their owning program, authorised as the
// account address itself.
func (c *Context) CloseAccount(addr, dest crypto.Address, authority Authority) error {
	if addr == dest {
		return fmt.Errorf("%w: cannot sweep %s into itself", ErrUnauthorized, addr)
	}
	if err := c.checkWrite(dest); err != nil {
		return err
	}
	account, err := c.Account(addr)
	if err != nil {
		return err
	}
	if err := c.checkWrite(addr); err != nil {
		return err
	}
	if authority == nil {
		return fmt.Errorf("%w: no authority to close %s", ErrUnauthorized, addr)
	}
	switch account.Owner {
	case TokenProgramID:
		token, err := decodeTokenAccount(account)
		if err != nil {
			return err
		}
		if err := authority.verify(c, token.Authority); err != nil {
			return err
		}
		if token.Amount != 0 {
			return fmt.Errorf("%w: %s holds %d", ErrNonZeroBalance, addr, token.Amount)
		}
	case c.inv.Program:
		if err := authority.verify(c, addr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	swept := account.Lamports
	c.overlay.DeleteAccount(addr)
	return c.credit(dest, swept)
}

func (c *Context) debit(addr crypto.Address, amount uint64) error {
	account, err := c.Account(addr)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return fmt.Errorf("%w: %s has no lamports", ErrInsufficientFunds, addr)
		}
		return err
	}
	if account.Lamports < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, addr, account.Lamports, amount)
	}
	account.Lamports -= amount
	return c.put(account)
}

func (c *Context) credit(addr crypto.Address, amount uint64) error {
	if err := c.checkWrite(addr); err != nil {
		return err
	}
	account, err := c.overlay.GetAccount(addr)
	if err != nil {
		return err
	}
	if account == nil {
		account = &types.Account{Address: addr, Owner: SystemProgramID}
	}
	if account.Lamports > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", ErrOverflow, addr)
	}
	account.Lamports += amount
	return c.put(account)
}
