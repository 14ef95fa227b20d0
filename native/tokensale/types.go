package tokensale

import (
	"fmt"
	"strings"

	"tokensale/crypto"
)

const (
	// MaxNameLength caps sale names; the name is a derivation seed.
	MaxNameLength = 128

	DefaultEscrowTag  = "escrow"
	DefaultHoldingTag = "escrow_token_account"
)

// ProgramID identifies the sale program. Escrow records are owned by it and
// every derived authority is computed under it.
var ProgramID = crypto.ProgramID("tokensale")

// EscrowRecord is the persisted state of one sale. Address is not stored; it
// is the account the record lives in.
type EscrowRecord struct {
	Address         crypto.Address `json:"address"`
	Admin           crypto.Address `json:"admin"`
	Holding         crypto.Address `json:"holding"`
	Name            string         `json:"name"`
	ExchangeRate    uint64         `json:"exchangeRate"`
	TotalSupply     uint64         `json:"totalSupply"`
	RemainingSupply uint64         `json:"remainingSupply"`
	Bump            uint8          `json:"bump"`
}

// Clone returns a copy of the record.
func (r *EscrowRecord) Clone() *EscrowRecord {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// Sold returns how many units have left the holding account.
func (r *EscrowRecord) Sold() uint64 {
	return r.TotalSupply - r.RemainingSupply
}

// Validate checks the record's structural invariants.
func (r *EscrowRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidParams)
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	if r.ExchangeRate == 0 {
		return fmt.Errorf("%w: exchange rate must be positive", ErrInvalidParams)
	}
	if r.RemainingSupply > r.TotalSupply {
		return fmt.Errorf("%w: remaining supply %d exceeds total %d", ErrInvalidParams, r.RemainingSupply, r.TotalSupply)
	}
	return nil
}

// InitializeParams opens a sale. AdminTokenAccount defaults to the admin's
// associated account for Mint.
type InitializeParams struct {
	Name              string
	Rate              uint64
	Supply            uint64
	Mint              crypto.Address
	AdminTokenAccount crypto.Address
}

// ExchangeParams buys from a sale. PayerTokenAccount defaults to the payer's
// associated account, created on demand.
type ExchangeParams struct {
	Name              string
	Payment           uint64
	PayerTokenAccount crypto.Address
}

// CancelParams closes a sale. AdminTokenAccount defaults to the admin's
// associated account.
type CancelParams struct {
	Name              string
	AdminTokenAccount crypto.Address
}

// ExchangeReceipt describes a completed exchange.
type ExchangeReceipt struct {
	Sale              *EscrowRecord  `json:"sale"`
	Payer             crypto.Address `json:"payer"`
	PayerTokenAccount crypto.Address `json:"payerTokenAccount"`
	Payment           uint64         `json:"payment"`
	Granted           uint64         `json:"granted"`
}

// CancelReceipt describes a closed sale.
type CancelReceipt struct {
	Name              string         `json:"name"`
	Escrow            crypto.Address `json:"escrow"`
	Admin             crypto.Address `json:"admin"`
	AdminTokenAccount crypto.Address `json:"adminTokenAccount"`
	Returned          uint64         `json:"returned"`
	Reclaimed         uint64         `json:"reclaimedLamports"`
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidParams)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidParams, MaxNameLength)
	}
	return nil
}

func (p *InitializeParams) normalize() error {
	p.Name = normalizeName(p.Name)
	if err := validateName(p.Name); err != nil {
		return err
	}
	if p.Rate == 0 {
		return fmt.Errorf("%w: rate must be positive", ErrInvalidParams)
	}
	if p.Supply == 0 {
		return fmt.Errorf("%w: supply must be positive", ErrInvalidParams)
	}
	if p.Mint.IsZero() {
		return fmt.Errorf("%w: mint required", ErrInvalidParams)
	}
	return nil
}

func (p *ExchangeParams) normalize() error {
	p.Name = normalizeName(p.Name)
	if err := validateName(p.Name); err != nil {
		return err
	}
	if p.Payment == 0 {
		return fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}
	return nil
}

func (p *CancelParams) normalize() error {
	p.Name = normalizeName(p.Name)
	return validateName(p.Name)
}
