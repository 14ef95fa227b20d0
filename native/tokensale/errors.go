package tokensale

import (
	"context"
	"errors"
	"fmt"

	"tokensale/core/runtime"
	"tokensale/crypto"
)

var (
	ErrDerivationFailed     = errors.New("tokensale: escrow address derivation failed")
	ErrInsufficientBalance  = errors.New("tokensale: insufficient balance")
	ErrInsufficientSupply   = fmt.Errorf("%w: remaining supply too low", ErrInsufficientBalance)
	ErrUnauthorized         = errors.New("tokensale: unauthorized")
	ErrAlreadyExists        = errors.New("tokensale: sale already exists")
	ErrSaleNotFound         = errors.New("tokensale: sale not found")
	ErrLedgerTransferFailed = errors.New("tokensale: ledger rejected instruction")
	ErrInvalidParams        = errors.New("tokensale: invalid parameters")
	ErrInvalidAmount        = fmt.Errorf("%w: amount out of range", ErrInvalidParams)
)

// errHoldingDiverged reports a holding balance that no longer matches the
// record. It should be unreachable; the invocation is rolled back.
var errHoldingDiverged = errors.New("tokensale: holding balance diverges from remaining supply")

// ledgerError classifies a runtime failure into the sale's error kinds while
// keeping the runtime cause reachable through errors.Is.
func ledgerError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isSaleError(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, crypto.ErrDerivationFailed):
		return fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	case errors.Is(err, runtime.ErrAccountExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, runtime.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case errors.Is(err, runtime.ErrInsufficientFunds),
		errors.Is(err, runtime.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	default:
		return fmt.Errorf("%w: %w", ErrLedgerTransferFailed, err)
	}
}

func isSaleError(err error) bool {
	for _, target := range []error{
		ErrDerivationFailed,
		ErrInsufficientBalance,
		ErrUnauthorized,
		ErrAlreadyExists,
		ErrSaleNotFound,
		ErrLedgerTransferFailed,
		ErrInvalidParams,
		errHoldingDiverged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorKind returns a stable label for err, used for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientSupply):
		return "insufficient_supply"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDerivationFailed):
		return "derivation_failed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrSaleNotFound):
		return "not_found"
	case errors.Is(err, ErrLedgerTransferFailed):
		return "ledger_rejected"
	case errors.Is(err, ErrInvalidParams):
		return "invalid_params"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
