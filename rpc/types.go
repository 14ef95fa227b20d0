package rpc

import (
	"encoding/json"

	"tokensale/core/types"
	"tokensale/crypto"
	"tokensale/native/tokensale"
)

type SaleNameParams struct {
	Name string `json:"name"`
}

type SaleHistoryParams struct {
	Name  string `json:"name,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type AddressParams struct {
	Address crypto.Address `json:"address"`
}

// TokenAccountParams selects a token account directly or as the associated
// account of Owner for Mint.
type TokenAccountParams struct {
	Address crypto.Address `json:"address,omitempty"`
	Owner   crypto.Address `json:"owner,omitempty"`
	Mint    crypto.Address `json:"mint,omitempty"`
}

// MintParams selects a mint directly or by authority and symbol.
type MintParams struct {
	Address   crypto.Address `json:"address,omitempty"`
	Authority crypto.Address `json:"authority,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
}

type AirdropParams struct {
	Address  crypto.Address `json:"address"`
	Lamports uint64         `json:"lamports"`
}

type SaleResult struct {
	*tokensale.EscrowRecord
	Sold uint64 `json:"sold"`
}

func saleResult(record *tokensale.EscrowRecord) SaleResult {
	return SaleResult{EscrowRecord: record, Sold: record.Sold()}
}

type EscrowAddressResult struct {
	Name    string         `json:"name"`
	Address crypto.Address `json:"address"`
	Bump    uint8          `json:"bump"`
	Holding crypto.Address `json:"holding"`
}

type AccountResult struct {
	Address  crypto.Address `json:"address"`
	Owner    crypto.Address `json:"owner"`
	Lamports uint64         `json:"lamports"`
	DataLen  int            `json:"dataLen"`
}

func accountResult(account *types.Account) AccountResult {
	return AccountResult{
		Address:  account.Address,
		Owner:    account.Owner,
		Lamports: account.Lamports,
		DataLen:  len(account.Data),
	}
}

type TokenAccountResult struct {
	Address   crypto.Address `json:"address"`
	Mint      crypto.Address `json:"mint"`
	Authority crypto.Address `json:"authority"`
	Amount    uint64         `json:"amount"`
}

type MintResult struct {
	Address       crypto.Address `json:"address"`
	MintAuthority crypto.Address `json:"mintAuthority"`
	Supply        uint64         `json:"supply"`
	Decimals      uint8          `json:"decimals"`
}

// decodeParams unmarshals the single object parameter of req into out.
func decodeParams(req *RPCRequest, out interface{}) *rpcFailure {
	if len(req.Params) != 1 {
		return invalidParams("expected a single parameter object", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err)
	}
	return nil
}
