package rpc

import (
	"net/http"
	"strings"

	"tokensale/native/tokensale"
	"tokensale/tx"
)

func (s *Server) handleSaleInitialize(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var body tx.SaleInitializeBody
	env, fail := s.openEnvelope(req, &body)
	if fail != nil {
		return nil, fail
	}
	record, err := s.engine.Initialize(r.Context(), env.Signer, tokensale.InitializeParams{
		Name:              body.Name,
		Rate:              body.Rate,
		Supply:            body.Supply,
		Mint:              body.Mint,
		AdminTokenAccount: body.AdminTokenAccount,
	})
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return saleResult(record), nil
}

func (s *Server) handleSaleExchange(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var body tx.SaleExchangeBody
	env, fail := s.openEnvelope(req, &body)
	if fail != nil {
		return nil, fail
	}
	receipt, err := s.engine.Exchange(r.Context(), env.Signer, tokensale.ExchangeParams{
		Name:              body.Name,
		Payment:           body.Payment,
		PayerTokenAccount: body.PayerTokenAccount,
	})
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return receipt, nil
}

func (s *Server) handleSaleCancel(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var body tx.SaleCancelBody
	env, fail := s.openEnvelope(req, &body)
	if fail != nil {
		return nil, fail
	}
	receipt, err := s.engine.Cancel(r.Context(), env.Signer, tokensale.CancelParams{
		Name:              body.Name,
		AdminTokenAccount: body.AdminTokenAccount,
	})
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return receipt, nil
}

func (s *Server) handleSaleGet(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params SaleNameParams
	if fail := decodeParams(req, &params); fail != nil {
		return nil, fail
	}
	record, err := s.engine.Sale(params.Name)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return saleResult(record), nil
}

func (s *Server) handleSaleList(_ *http.Request, _ *RPCRequest) (interface{}, *rpcFailure) {
	records, err := s.engine.Sales()
	if err != nil {
		return nil, ledgerFailure(err)
	}
	out := make([]SaleResult, 0, len(records))
	for _, record := range records {
		out = append(out, saleResult(record))
	}
	return out, nil
}

func (s *Server) handleSaleHistory(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	if s.history == nil {
		return nil, failure(http.StatusNotImplemented, codeServerError, "event indexer disabled", nil)
	}
	var params SaleHistoryParams
	if len(req.Params) > 0 {
		if fail := decodeParams(req, &params); fail != nil {
			return nil, fail
		}
	}
	if params.Limit < 0 {
		return nil, invalidParams("limit must not be negative", nil)
	}
	entries, err := s.history.History(r.Context(), strings.TrimSpace(params.Name), params.Limit)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return entries, nil
}

func (s *Server) handleSaleEscrowAddress(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params SaleNameParams
	if fail := decodeParams(req, &params); fail != nil {
		return nil, fail
	}
	name := strings.TrimSpace(params.Name)
	addr, bump, err := s.engine.EscrowAddress(name)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	holding, _, err := s.engine.HoldingAddress(addr)
	if err != nil {
		return nil, ledgerFailure(err)
	}
	return EscrowAddressResult{Name: name, Address: addr, Bump: bump, Holding: holding}, nil
}
