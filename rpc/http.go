package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tokensale/core/events"
	"tokensale/core/runtime"
	"tokensale/indexer"
	"tokensale/native/tokensale"
	"tokensale/observability/logging"
	"tokensale/observability/metrics"
	"tokensale/tx"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError        = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeServerError       = -32000
	codeUnauthorized      = -32001
	codeNotFound          = -32004
	codeInsufficientFunds = -32005
	codeAlreadyExists     = -32009
	codeDuplicateTx       = -32010
	codeExpired           = -32011
	codeRateLimited       = -32020
	codeLedgerRejected    = -32030
)

// HistorySource serves sale_history.
type HistorySource interface {
	History(ctx context.Context, sale string, limit int) ([]indexer.Entry, error)
}

// EventSource feeds the /ws stream.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}

// ServerConfig carries the listener policy. Zero values select defaults.
type ServerConfig struct {
	JWTSecret         string
	JWTIssuer         string
	RateLimit         float64
	Burst             int
	MaxBodyBytes      int64
	TrustedProxies    []string
	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	// Replay rejects resubmitted envelopes. Nil selects an in-memory guard.
	Replay *tx.ReplayGuard
}

// Server exposes the sale engine and the ledger over JSON-RPC 2.0.
type Server struct {
	ledger  *runtime.Runtime
	engine  *tokensale.Engine
	history HistorySource
	stream  EventSource

	cfg     ServerConfig
	auth    *authenticator
	limiter *clientLimiter
	replay  *tx.ReplayGuard
	metrics *metrics.RPCMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewServer wires the handlers. history and stream may be nil, which
// disables sale_history and /ws respectively.
func NewServer(ledger *runtime.Runtime, engine *tokensale.Engine, history HistorySource, stream EventSource, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if ledger == nil || engine == nil {
		return nil, fmt.Errorf("rpc: ledger and engine are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxRequestBytes
	}
	limiter, err := newClientLimiter(cfg.RateLimit, cfg.Burst, cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	replay := cfg.Replay
	if replay == nil {
		replay = tx.NewReplayGuard()
	}
	return &Server{
		ledger:  ledger,
		engine:  engine,
		history: history,
		stream:  stream,
		cfg:     cfg,
		auth:    newAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		limiter: limiter,
		replay:  replay,
		metrics: metrics.RPC(),
		logger:  logger.With("component", "rpc"),
		now:     time.Now,
	}, nil
}

// Handler returns the HTTP routes: POST / for JSON-RPC, /ws for the event
// stream, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "tokensale.rpc")
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure)

// rpcFailure is a handler error with its HTTP status and JSON-RPC code.
type rpcFailure struct {
	status int
	code   int
	msg    string
	data   interface{}
}

func failure(status, code int, msg string, data interface{}) *rpcFailure {
	return &rpcFailure{status: status, code: code, msg: msg, data: data}
}

func invalidParams(msg string, err error) *rpcFailure {
	var data interface{}
	if err != nil {
		data = err.Error()
	}
	return failure(http.StatusBadRequest, codeInvalidParams, msg, data)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)

	if !s.limiter.allow(r) {
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	code := 0
	defer func() {
		elapsed := s.now().Sub(started)
		s.metrics.Observe(req.Method, code, elapsed)
		s.logger.Debug("rpc request",
			slog.String("request_id", requestID),
			slog.String("method", req.Method),
			slog.Int("code", code),
			slog.Duration("elapsed", elapsed))
	}()

	handler, ok := s.route(req.Method)
	if !ok {
		code = codeMethodNotFound
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	result, fail := handler(r, req)
	if fail != nil {
		code = fail.code
		if fail.code == codeServerError {
			s.logger.Error("rpc handler failed",
				slog.String("request_id", requestID),
				slog.String("method", req.Method),
				slog.Any("error", fail.data))
		}
		writeError(w, fail.status, req.ID, fail.code, fail.msg, fail.data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case tx.MethodSaleInitialize:
		return s.handleSaleInitialize, true
	case tx.MethodSaleExchange:
		return s.handleSaleExchange, true
	case tx.MethodSaleCancel:
		return s.handleSaleCancel, true
	case "sale_get":
		return s.handleSaleGet, true
	case "sale_list":
		return s.handleSaleList, true
	case "sale_history":
		return s.handleSaleHistory, true
	case "sale_escrowAddress":
		return s.handleSaleEscrowAddress, true
	case tx.MethodTokenCreateMint:
		return s.handleTokenCreateMint, true
	case tx.MethodTokenCreateAccount:
		return s.handleTokenCreateAccount, true
	case tx.MethodTokenMintTo:
		return s.handleTokenMintTo, true
	case "token_getAccount":
		return s.handleTokenGetAccount, true
	case "token_getMint":
		return s.handleTokenGetMint, true
	case "ledger_getAccount":
		return s.handleLedgerGetAccount, true
	case "ledger_airdrop":
		return s.requireAuth(s.handleLedgerAirdrop), true
	default:
		return nil, false
	}
}

// requireAuth wraps next behind the bearer token check.
func (s *Server) requireAuth(next handlerFunc) handlerFunc {
	return func(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
		header := r.Header.Get("Authorization")
		subject, err := s.auth.verify(header)
		if err != nil {
			s.metrics.RecordThrottle("auth")
			s.logger.Warn("rpc authentication failed",
				slog.String("method", req.Method),
				slog.String("client", s.limiter.clientIP(r)),
				logging.MaskField("authorization", header),
				slog.Any("error", err))
			return nil, failure(http.StatusUnauthorized, codeUnauthorized, err.Error(), nil)
		}
		s.logger.Info("rpc call authorized",
			slog.String("method", req.Method),
			logging.MaskField("subject", subject))
		return next(r, req)
	}
}

// openEnvelope decodes params[0] as a signed envelope for method and
// records it with the replay guard.
func (s *Server) openEnvelope(req *RPCRequest, body any) (*tx.Envelope, *rpcFailure) {
	if len(req.Params) != 1 {
		return nil, invalidParams("expected a single signed envelope parameter", nil)
	}
	var env tx.Envelope
	if err := json.Unmarshal(req.Params[0], &env); err != nil {
		return nil, invalidParams("invalid envelope", err)
	}
	now := s.now()
	ins, err := env.Open(req.Method, now)
	if err != nil {
		return nil, envelopeFailure(err)
	}
	if err := ins.DecodeBody(body); err != nil {
		return nil, invalidParams("invalid instruction body", err)
	}
	if err := s.replay.Observe(env.Digest(), time.Unix(ins.ExpiresAt, 0), now); err != nil {
		return nil, envelopeFailure(err)
	}
	return &env, nil
}

func envelopeFailure(err error) *rpcFailure {
	switch {
	case errors.Is(err, tx.ErrInvalidSignature):
		return failure(http.StatusUnauthorized, codeUnauthorized, "invalid signature", nil)
	case errors.Is(err, tx.ErrReplay):
		return failure(http.StatusConflict, codeDuplicateTx, "envelope already submitted", nil)
	case errors.Is(err, tx.ErrExpired), errors.Is(err, tx.ErrExpiryTooFar):
		return failure(http.StatusBadRequest, codeExpired, err.Error(), nil)
	case errors.Is(err, tx.ErrMalformed), errors.Is(err, tx.ErrMethodMismatch):
		return invalidParams("invalid envelope", err)
	default:
		return failure(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
	}
}

// ledgerFailure maps sale and runtime errors onto JSON-RPC codes.
func ledgerFailure(err error) *rpcFailure {
	switch {
	case errors.Is(err, tokensale.ErrInvalidParams):
		return invalidParams(err.Error(), nil)
	case errors.Is(err, tokensale.ErrSaleNotFound), errors.Is(err, runtime.ErrAccountNotFound):
		return failure(http.StatusNotFound, codeNotFound, err.Error(), nil)
	case errors.Is(err, tokensale.ErrAlreadyExists), errors.Is(err, runtime.ErrAccountExists):
		return failure(http.StatusConflict, codeAlreadyExists, err.Error(), nil)
	case errors.Is(err, tokensale.ErrUnauthorized), errors.Is(err, runtime.ErrUnauthorized):
		return failure(http.StatusForbidden, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, tokensale.ErrInsufficientBalance),
		errors.Is(err, runtime.ErrInsufficientBalance),
		errors.Is(err, runtime.ErrInsufficientFunds):
		return failure(http.StatusOK, codeInsufficientFunds, err.Error(), tokensale.ErrorKind(err))
	case errors.Is(err, tokensale.ErrLedgerTransferFailed),
		errors.Is(err, tokensale.ErrDerivationFailed),
		errors.Is(err, runtime.ErrMintMismatch),
		errors.Is(err, runtime.ErrInvalidAccountOwner),
		errors.Is(err, runtime.ErrAccountNotInitialized),
		errors.Is(err, runtime.ErrOverflow),
		errors.Is(err, runtime.ErrSelfTransfer):
		return failure(http.StatusOK, codeLedgerRejected, err.Error(), tokensale.ErrorKind(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failure(http.StatusServiceUnavailable, codeServerError, "request cancelled", err.Error())
	default:
		return failure(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
	}
}
