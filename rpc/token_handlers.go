package rpc

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"tokensale/core/runtime"
	"tokensale/crypto"
	"tokensale/tx"
)

func (s *Server) handleTokenCreateMint(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var body tx.CreateMintBody
	env, fail := s.openEnvelope(req, &body)
	if fail != nil {
		return nil, fail
	}
	symbol := strings.TrimSpace(body.Symbol)
	if symbol == "" || len(symbol) > crypto.MaxSeedLength {
		return nil, invalidParams(fmt.Sprintf("symbol must be 1-%d bytes", crypto.MaxSeedLength), nil)
	}
	mintAddr, _, err := runtime.MintAddress(env.Signer, symbol)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	inv := runtime.Invocation{
		Program: runtime.TokenProgramID,
		Signers: []crypto.Address{env.Signer},
		Accounts: []runtime.AccountMeta{
			{Address: env.Signer, Writable: true},
			{Address: mintAddr, Writable: true},
		},
	}
	err = s.ledger.Invoke(r.Context(), inv, func(c *runtime.Context) error {
		_, err := c.CreateMint(env.Signer, env.Signer, symbol, body.Decimals)
		return err
	})
	if err != nil {
		return nil, ledgerFailure(err)
	}
	s.logger.Info("mint created",
		slog.String("mint", mintAddr.String()),
		slog.String("authority", env.Signer.String()),
		slog.String("symbol", symbol))
	return s.mintResult(mintAddr)
}

func (s *Server) handleTokenCreateAccount(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var body tx.CreateAccountBody
	env, fail := s.openEnvelope(req, &body)
	if fail != nil {
		return nil, fail
	}
	owner := body.Owner
	if owner.IsZero() {
		owner = env.Signer
	}
	ata, err := runtime.AssociatedTokenAddress(owner, body.Mint)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	inv := runtime.Invocation{
		Program: runtime.TokenProgramID,
		Signers: []crypto.Address{env.Signer},
		Accounts: []runtime.AccountMeta{
			{Address: env.Signer, Writable: true},
			{Address: body.Mint},
			{Address: ata, Writable: true},
		},
	}
	err = s.ledger.Invoke(r.Context(), inv, func(c *runtime.Context) error {
		_, err := c.CreateAssociatedTokenAccount(env.Signer, owner, body.Mint)
		return err
	})
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return s.tokenAccountResult(ata)
}

func (s *Server) handleTokenMintTo(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var body tx.MintToBody
	env, fail := s.openEnvelope(req, &body)
	if fail != nil {
		return nil, fail
	}
	if body.Amount == 0 {
		return nil, invalidParams("amount must be positive", nil)
	}
	inv := runtime.Invocation{
		Program: runtime.TokenProgramID,
		Signers: []crypto.Address{env.Signer},
		Accounts: []runtime.AccountMeta{
			{Address: body.Mint, Writable: true},
			{Address: body.Destination, Writable: true},
		},
	}
	err := s.ledger.Invoke(r.Context(), inv, func(c *runtime.Context) error {
		return c.MintTo(body.Mint, body.Destination, runtime.Signer(env.Signer), body.Amount)
	})
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return s.tokenAccountResult(body.Destination)
}

func (s *Server) handleTokenGetAccount(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params TokenAccountParams
	if fail := decodeParams(req, &params); fail != nil {
		return nil, fail
	}
	addr := params.Address
	if addr.IsZero() {
		if params.Owner.IsZero() || params.Mint.IsZero() {
			return nil, invalidParams("address or owner and mint required", nil)
		}
		ata, err := runtime.AssociatedTokenAddress(params.Owner, params.Mint)
		if err != nil {
			return nil, ledgerFailure(err)
		}
		addr = ata
	}
	return s.tokenAccountResult(addr)
}

func (s *Server) handleTokenGetMint(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params MintParams
	if fail := decodeParams(req, &params); fail != nil {
		return nil, fail
	}
	addr := params.Address
	if addr.IsZero() {
		symbol := strings.TrimSpace(params.Symbol)
		if params.Authority.IsZero() || symbol == "" {
			return nil, invalidParams("address or authority and symbol required", nil)
		}
		derived, _, err := runtime.MintAddress(params.Authority, symbol)
		if err != nil {
			return nil, ledgerFailure(err)
		}
		addr = derived
	}
	return s.mintResult(addr)
}

func (s *Server) handleLedgerGetAccount(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params AddressParams
	if fail := decodeParams(req, &params); fail != nil {
		return nil, fail
	}
	account, err := s.ledger.Account(params.Address)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return accountResult(account), nil
}

// handleLedgerAirdrop is the development faucet.
func (s *Server) handleLedgerAirdrop(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params AirdropParams
	if fail := decodeParams(req, &params); fail != nil {
		return nil, fail
	}
	if params.Address.IsZero() || params.Lamports == 0 {
		return nil, invalidParams("address and positive lamports required", nil)
	}
	if err := s.ledger.Airdrop(r.Context(), params.Address, params.Lamports); err != nil {
		return nil, ledgerFailure(err)
	}
	s.logger.Info("airdrop",
		slog.String("address", params.Address.String()),
		slog.Uint64("lamports", params.Lamports))
	account, err := s.ledger.Account(params.Address)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return accountResult(account), nil
}

func (s *Server) tokenAccountResult(addr crypto.Address) (interface{}, *rpcFailure) {
	token, err := s.ledger.TokenAccount(addr)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return TokenAccountResult{Address: addr, Mint: token.Mint, Authority: token.Authority, Amount: token.Amount}, nil
}

func (s *Server) mintResult(addr crypto.Address) (interface{}, *rpcFailure) {
	mint, err := s.ledger.Mint(addr)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return MintResult{Address: addr, MintAuthority: mint.MintAuthority, Supply: mint.Supply, Decimals: mint.Decimals}, nil
}
