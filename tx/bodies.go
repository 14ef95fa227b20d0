package tx

import "tokensale/crypto"

// Signed method names.
const (
	MethodSaleInitialize     = "sale_initialize"
	MethodSaleExchange       = "sale_exchange"
	MethodSaleCancel         = "sale_cancel"
	MethodTokenCreateMint    = "token_createMint"
	MethodTokenCreateAccount = "token_createAccount"
	MethodTokenMintTo        = "token_mintTo"
)

type SaleInitializeBody struct {
	Name              string         `cbor:"1,keyasint"`
	Rate              uint64         `cbor:"2,keyasint"`
	Supply            uint64         `cbor:"3,keyasint"`
	Mint              crypto.Address `cbor:"4,keyasint"`
	AdminTokenAccount crypto.Address `cbor:"5,keyasint"`
}

type SaleExchangeBody struct {
	Name              string         `cbor:"1,keyasint"`
	Payment           uint64         `cbor:"2,keyasint"`
	PayerTokenAccount crypto.Address `cbor:"3,keyasint"`
}

type SaleCancelBody struct {
	Name              string         `cbor:"1,keyasint"`
	AdminTokenAccount crypto.Address `cbor:"2,keyasint"`
}

// CreateMintBody creates a mint whose authority is the signer.
type CreateMintBody struct {
	Symbol   string `cbor:"1,keyasint"`
	Decimals uint8  `cbor:"2,keyasint"`
}

// CreateAccountBody creates Owner's associated account for Mint, paid by
// the signer.
type CreateAccountBody struct {
	Mint  crypto.Address `cbor:"1,keyasint"`
	Owner crypto.Address `cbor:"2,keyasint"`
}

// MintToBody mints Amount into Destination; the signer must be the mint
// authority.
type MintToBody struct {
	Mint        crypto.Address `cbor:"1,keyasint"`
	Destination crypto.Address `cbor:"2,keyasint"`
	Amount      uint64         `cbor:"3,keyasint"`
}
