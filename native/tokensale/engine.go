package tokensale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokensale/core/events"
	"tokensale/core/runtime"
	"tokensale/core/types"
	"tokensale/crypto"
)

const (
	opInitialize = "initialize"
	opExchange   = "exchange"
	opCancel     = "cancel"
)

// Ledger is the host the engine runs on.
type Ledger interface {
	Invoke(ctx context.Context, inv runtime.Invocation, fn func(*runtime.Context) error) error
	Account(addr crypto.Address) (*types.Account, error)
	TokenAccount(addr crypto.Address) (*types.TokenAccount, error)
	AccountsByOwner(program crypto.Address) ([]crypto.Address, error)
}

// Metrics receives operation outcomes. observability/metrics provides the
// prometheus implementation.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	AddGranted(amount uint64)
	SetActiveSales(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) AddGranted(uint64)                              {}
func (noopMetrics) SetActiveSales(int)                             {}

// Config carries the seed tags used to derive sale addresses.
type Config struct {
	EscrowTag  string
	HoldingTag string
}

// Engine runs the sale lifecycle against a ledger.
type Engine struct {
	ledger     Ledger
	escrowTag  []byte
	holdingTag []byte
	emitter    events.Emitter
	metrics    Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewEngine creates an engine with a no-op emitter and metrics. Empty tags
// fall back to the defaults.
func NewEngine(ledger Ledger, cfg Config) *Engine {
	if cfg.EscrowTag == "" {
		cfg.EscrowTag = DefaultEscrowTag
	}
	if cfg.HoldingTag == "" {
		cfg.HoldingTag = DefaultHoldingTag
	}
	return &Engine{
		ledger:     ledger,
		escrowTag:  []byte(cfg.EscrowTag),
		holdingTag: []byte(cfg.HoldingTag),
		emitter:    events.NoopEmitter{},
		metrics:    noopMetrics{},
		logger:     slog.Default().With("component", "tokensale"),
		tracer:     otel.Tracer("tokensale/native/tokensale"),
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics installs a metrics sink.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = m
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger.With("component", "tokensale")
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func (e *Engine) escrowSeeds(name string) [][]byte {
	return [][]byte{e.escrowTag, []byte(name)}
}

func (e *Engine) holdingSeeds(escrow crypto.Address) [][]byte {
	return [][]byte{e.holdingTag, escrow[:]}
}

// EscrowAddress derives the record address and bump for name.
func (e *Engine) EscrowAddress(name string) (crypto.Address, uint8, error) {
	name = normalizeName(name)
	if err := validateName(name); err != nil {
		return crypto.ZeroAddress, 0, err
	}
	addr, bump, err := crypto.FindProgramAddress(e.escrowSeeds(name), ProgramID)
	if err != nil {
		return crypto.ZeroAddress, 0, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return addr, bump, nil
}

// HoldingAddress derives the token account that custodies a sale's supply.
func (e *Engine) HoldingAddress(escrow crypto.Address) (crypto.Address, uint8, error) {
	addr, bump, err := crypto.FindProgramAddress(e.holdingSeeds(escrow), ProgramID)
	if err != nil {
		return crypto.ZeroAddress, 0, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return addr, bump, nil
}

func (e *Engine) start(ctx context.Context, op, name string) (context.Context, trace.Span, time.Time) {
	ctx, span := e.tracer.Start(ctx, "tokensale."+op, trace.WithAttributes(attribute.String("sale.name", name)))
	return ctx, span, time.Now()
}

func (e *Engine) finish(span trace.Span, op string, started time.Time, err error) {
	outcome := ErrorKind(err)
	e.metrics.ObserveOperation(op, outcome, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

func (e *Engine) refreshActiveSales() {
	owned, err := e.ledger.AccountsByOwner(ProgramID)
	if err != nil {
		e.logger.Warn("count active sales", slog.Any("error", err))
		return
	}
	e.metrics.SetActiveSales(len(owned))
}

// RefreshMetrics re-seeds gauges from committed state.
func (e *Engine) RefreshMetrics() {
	e.refreshActiveSales()
}

func (e *Engine) loadRecord(c *runtime.Context, escrow crypto.Address) (*EscrowRecord, error) {
	account, err := c.Account(escrow)
	if errors.Is(err, runtime.ErrAccountNotFound) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(account)
}

func decodeRecord(account *types.Account) (*EscrowRecord, error) {
	if account.Owner != ProgramID {
		return nil, fmt.Errorf("%w: %s is not a sale account", ErrSaleNotFound, account.Address)
	}
	record := &EscrowRecord{Address: account.Address}
	if err := record.UnmarshalBinary(account.Data); err != nil {
		return nil, err
	}
	return record, nil
}

func storeRecord(c *runtime.Context, record *EscrowRecord) error {
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	return c.WriteData(record.Address, data)
}

// Sale returns the committed record for name.
func (e *Engine) Sale(name string) (*EscrowRecord, error) {
	escrow, _, err := e.EscrowAddress(name)
	if err != nil {
		return nil, err
	}
	account, err := e.ledger.Account(escrow)
	if errors.Is(err, runtime.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrSaleNotFound, normalizeName(name))
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(account)
}

// Sales lists every active sale ordered by name.
func (e *Engine) Sales() ([]*EscrowRecord, error) {
	owned, err := e.ledger.AccountsByOwner(ProgramID)
	if err != nil {
		return nil, err
	}
	out := make([]*EscrowRecord, 0, len(owned))
	for _, addr := range owned {
		account, err := e.ledger.Account(addr)
		if err != nil {
			return nil, err
		}
		record, err := decodeRecord(account)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (e *Engine) associatedAccount(explicit, owner, mint crypto.Address) (crypto.Address, error) {
	if !explicit.IsZero() {
		return explicit, nil
	}
	addr, err := runtime.AssociatedTokenAddress(owner, mint)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return addr, nil
}

// ensureTokenAccount creates owner's associated account when addr is that
// account and does not exist yet. Explicit accounts must already exist. An
// existing account must hold mint.
func ensureTokenAccount(c *runtime.Context, addr, payer, owner, mint crypto.Address, explicit bool) error {
	exists, err := c.Exists(addr)
	if err != nil {
		return err
	}
	if !exists {
		if explicit {
			return fmt.Errorf("%w: token account %s does not exist", ErrInvalidParams, addr)
		}
		_, err = c.CreateAssociatedTokenAccount(payer, owner, mint)
		return err
	}
	account, err := c.TokenAccount(addr)
	if err != nil {
		return fmt.Errorf("%w: %s is not a token account: %w", ErrInvalidParams, addr, err)
	}
	if account.Mint != mint {
		return fmt.Errorf("%w: token account %s holds %s, not %s", ErrInvalidParams, addr, account.Mint, mint)
	}
	return nil
}

// checkCounterparty rejects token accounts that belong to the sale itself.
func checkCounterparty(addr crypto.Address, record *EscrowRecord) error {
	if addr == record.Holding || addr == record.Address {
		return fmt.Errorf("%w: %s belongs to sale %q", ErrInvalidParams, addr, record.Name)
	}
	return nil
}

// Initialize opens a sale: it allocates the escrow record and a holding
// account controlled only by the escrow's derived address, then moves Supply
// units from the admin into it. Nothing is committed unless every step
// succeeds.
func (e *Engine) Initialize(ctx context.Context, admin crypto.Address, params InitializeParams) (record *EscrowRecord, err error) {
	ctx, span, started := e.start(ctx, opInitialize, params.Name)
	defer func() { e.finish(span, opInitialize, started, err) }()

	if err := params.normalize(); err != nil {
		return nil, err
	}
	escrow, _, err := e.EscrowAddress(params.Name)
	if err != nil {
		return nil, err
	}
	holding, _, err := e.HoldingAddress(escrow)
	if err != nil {
		return nil, err
	}
	adminToken, err := e.associatedAccount(params.AdminTokenAccount, admin, params.Mint)
	if err != nil {
		return nil, err
	}

	inv := runtime.Invocation{
		Program: ProgramID,
		Signers: []crypto.Address{admin},
		Accounts: []runtime.AccountMeta{
			{Address: admin, Writable: true},
			{Address: escrow, Writable: true},
			{Address: holding, Writable: true},
			{Address: adminToken, Writable: true},
			{Address: params.Mint},
		},
	}
	err = e.ledger.Invoke(ctx, inv, func(c *runtime.Context) error {
		escrowSeeds := e.escrowSeeds(params.Name)
		addr, bump, err := c.DeriveAddress(escrowSeeds, 255)
		if err != nil {
			return err
		}
		exists, err := c.Exists(addr)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, params.Name)
		}

		source, err := c.TokenAccount(adminToken)
		if err != nil {
			return err
		}
		if source.Mint != params.Mint {
			return fmt.Errorf("%w: admin token account holds %s, not %s", ErrInvalidParams, source.Mint, params.Mint)
		}
		if source.Amount < params.Supply {
			return fmt.Errorf("%w: admin holds %d, sale needs %d", ErrInsufficientBalance, source.Amount, params.Supply)
		}

		if _, err := c.CreateAccount(admin, addr, runtime.Derived{Seeds: escrowSeeds, Bump: bump}, RecordSize, ProgramID); err != nil {
			return err
		}
		holdingSeeds := e.holdingSeeds(addr)
		holdingAddr, holdingBump, err := c.DeriveAddress(holdingSeeds, 255)
		if err != nil {
			return err
		}
		holdingAuth := runtime.Derived{Seeds: holdingSeeds, Bump: holdingBump}
		if err := c.CreateTokenAccount(admin, holdingAddr, holdingAuth, params.Mint, admin); err != nil {
			return err
		}
		if err := c.SetAuthority(holdingAddr, runtime.AuthorityAccountOwner, addr, runtime.Signer(admin)); err != nil {
			return err
		}
		if err := c.Transfer(adminToken, holdingAddr, runtime.Signer(admin), params.Supply); err != nil {
			return err
		}

		record = &EscrowRecord{
			Address:         addr,
			Admin:           admin,
			Holding:         holdingAddr,
			Name:            params.Name,
			ExchangeRate:    params.Rate,
			TotalSupply:     params.Supply,
			RemainingSupply: params.Supply,
			Bump:            bump,
		}
		return storeRecord(c, record)
	})
	if err != nil {
		return nil, ledgerError(err)
	}

	e.logger.Info("sale initialized",
		slog.String("name", record.Name),
		slog.String("escrow", record.Address.String()),
		slog.String("admin", admin.String()),
		slog.Uint64("supply", record.TotalSupply),
		slog.Uint64("rate", record.ExchangeRate))
	e.emit(NewInitializedEvent(record))
	e.refreshActiveSales()
	return record.Clone(), nil
}

// grantFor computes payment*rate, rejecting results that do not fit a u64.
func grantFor(payment, rate uint64) (uint64, error) {
	granted, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(payment), uint256.NewInt(rate))
	if overflow || !granted.IsUint64() {
		return 0, fmt.Errorf("%w: %d * %d overflows", ErrInvalidAmount, payment, rate)
	}
	return granted.Uint64(), nil
}

// Exchange sells payment*rate units to payer. The payment lamports are held
// by the escrow record until the sale is cancelled. Either both transfers
// happen or neither does.
func (e *Engine) Exchange(ctx context.Context, payer crypto.Address, params ExchangeParams) (receipt *ExchangeReceipt, err error) {
	ctx, span, started := e.start(ctx, opExchange, params.Name)
	defer func() { e.finish(span, opExchange, started, err) }()

	if err := params.normalize(); err != nil {
		return nil, err
	}
	current, err := e.Sale(params.Name)
	if err != nil {
		return nil, err
	}
	holdingAccount, err := e.ledger.TokenAccount(current.Holding)
	if err != nil {
		return nil, ledgerError(err)
	}
	mint := holdingAccount.Mint
	explicit := !params.PayerTokenAccount.IsZero()
	payerToken, err := e.associatedAccount(params.PayerTokenAccount, payer, mint)
	if err != nil {
		return nil, err
	}
	if err := checkCounterparty(payerToken, current); err != nil {
		return nil, err
	}

	inv := runtime.Invocation{
		Program: ProgramID,
		Signers: []crypto.Address{payer},
		Accounts: []runtime.AccountMeta{
			{Address: payer, Writable: true},
			{Address: current.Address, Writable: true},
			{Address: current.Holding, Writable: true},
			{Address: payerToken, Writable: true},
			{Address: mint},
		},
	}
	err = e.ledger.Invoke(ctx, inv, func(c *runtime.Context) error {
		record, err := e.loadRecord(c, current.Address)
		if err != nil {
			return err
		}
		holding, err := c.TokenAccount(record.Holding)
		if err != nil {
			return err
		}
		if holding.Mint != mint {
			return fmt.Errorf("%w: sale %q was replaced", ErrSaleNotFound, params.Name)
		}
		granted, err := grantFor(params.Payment, record.ExchangeRate)
		if err != nil {
			return err
		}
		if granted > record.RemainingSupply {
			return fmt.Errorf("%w: requested %d, remaining %d", ErrInsufficientSupply, granted, record.RemainingSupply)
		}
		if err := checkCounterparty(payerToken, record); err != nil {
			return err
		}
		if err := ensureTokenAccount(c, payerToken, payer, payer, mint, explicit); err != nil {
			return err
		}
		if err := c.TransferLamports(payer, record.Address, params.Payment); err != nil {
			return err
		}
		auth := runtime.Derived{Seeds: e.escrowSeeds(record.Name), Bump: record.Bump}
		if err := c.Transfer(record.Holding, payerToken, auth, granted); err != nil {
			return err
		}
		record.RemainingSupply -= granted
		if err := storeRecord(c, record); err != nil {
			return err
		}
		receipt = &ExchangeReceipt{
			Sale:              record,
			Payer:             payer,
			PayerTokenAccount: payerToken,
			Payment:           params.Payment,
			Granted:           granted,
		}
		return nil
	})
	if err != nil {
		return nil, ledgerError(err)
	}

	e.logger.Info("sale exchange",
		slog.String("name", receipt.Sale.Name),
		slog.String("payer", payer.String()),
		slog.Uint64("payment", receipt.Payment),
		slog.Uint64("granted", receipt.Granted),
		slog.Uint64("remaining", receipt.Sale.RemainingSupply))
	e.metrics.AddGranted(receipt.Granted)
	e.emit(NewExchangedEvent(receipt))
	return receipt, nil
}

// Cancel returns the unsold supply to the admin and closes the holding
// account and the record together. Rent and collected payments are swept to
// the admin.
func (e *Engine) Cancel(ctx context.Context, admin crypto.Address, params CancelParams) (receipt *CancelReceipt, err error) {
	ctx, span, started := e.start(ctx, opCancel, params.Name)
	defer func() { e.finish(span, opCancel, started, err) }()

	if err := params.normalize(); err != nil {
		return nil, err
	}
	current, err := e.Sale(params.Name)
	if err != nil {
		return nil, err
	}
	if current.Admin != admin {
		return nil, fmt.Errorf("%w: %s is not the admin of %q", ErrUnauthorized, admin, params.Name)
	}
	holdingAccount, err := e.ledger.TokenAccount(current.Holding)
	if err != nil {
		return nil, ledgerError(err)
	}
	mint := holdingAccount.Mint
	explicit := !params.AdminTokenAccount.IsZero()
	adminToken, err := e.associatedAccount(params.AdminTokenAccount, admin, mint)
	if err != nil {
		return nil, err
	}
	if err := checkCounterparty(adminToken, current); err != nil {
		return nil, err
	}

	inv := runtime.Invocation{
		Program: ProgramID,
		Signers: []crypto.Address{admin},
		Accounts: []runtime.AccountMeta{
			{Address: admin, Writable: true},
			{Address: current.Address, Writable: true},
			{Address: current.Holding, Writable: true},
			{Address: adminToken, Writable: true},
			{Address: mint},
		},
	}
	err = e.ledger.Invoke(ctx, inv, func(c *runtime.Context) error {
		record, err := e.loadRecord(c, current.Address)
		if err != nil {
			return err
		}
		if record.Admin != admin || !c.IsSigner(admin) {
			return fmt.Errorf("%w: %s is not the admin of %q", ErrUnauthorized, admin, record.Name)
		}
		holding, err := c.TokenAccount(record.Holding)
		if err != nil {
			return err
		}
		if holding.Amount != record.RemainingSupply {
			return fmt.Errorf("%w: holding %d, record %d", errHoldingDiverged, holding.Amount, record.RemainingSupply)
		}
		if err := checkCounterparty(adminToken, record); err != nil {
			return err
		}
		if err := ensureTokenAccount(c, adminToken, admin, admin, holding.Mint, explicit); err != nil {
			return err
		}

		auth := runtime.Derived{Seeds: e.escrowSeeds(record.Name), Bump: record.Bump}
		if record.RemainingSupply > 0 {
			if err := c.Transfer(record.Holding, adminToken, auth, record.RemainingSupply); err != nil {
				return err
			}
		}
		holdingAcc, err := c.Account(record.Holding)
		if err != nil {
			return err
		}
		escrowAcc, err := c.Account(record.Address)
		if err != nil {
			return err
		}
		if err := c.CloseAccount(record.Holding, admin, auth); err != nil {
			return err
		}
		if err := c.CloseAccount(record.Address, admin, auth); err != nil {
			return err
		}
		receipt = &CancelReceipt{
			Name:              record.Name,
			Escrow:            record.Address,
			Admin:             admin,
			AdminTokenAccount: adminToken,
			Returned:          record.RemainingSupply,
			Reclaimed:         holdingAcc.Lamports + escrowAcc.Lamports,
		}
		return nil
	})
	if err != nil {
		return nil, ledgerError(err)
	}

	e.logger.Info("sale cancelled",
		slog.String("name", receipt.Name),
		slog.String("admin", admin.String()),
		slog.Uint64("returned", receipt.Returned),
		slog.Uint64("reclaimed", receipt.Reclaimed))
	e.emit(NewCancelledEvent(receipt))
	e.refreshActiveSales()
	return receipt, nil
}
