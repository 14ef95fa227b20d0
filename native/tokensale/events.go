package tokensale

import (
	"strconv"

	"tokensale/core/events"
	"tokensale/core/types"
)

const (
	EventTypeSaleInitialized = "tokensale.initialized"
	EventTypeSaleExchanged   = "tokensale.exchanged"
	EventTypeSaleCancelled   = "tokensale.cancelled"
)

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the underlying payload to subscribers that need attributes.
func (e saleEvent) Event() *types.Event { return e.evt }

func recordAttributes(r *EscrowRecord) map[string]string {
	return map[string]string{
		"name":            r.Name,
		"escrow":          r.Address.String(),
		"admin":           r.Admin.String(),
		"holding":         r.Holding.String(),
		"rate":            strconv.FormatUint(r.ExchangeRate, 10),
		"totalSupply":     strconv.FormatUint(r.TotalSupply, 10),
		"remainingSupply": strconv.FormatUint(r.RemainingSupply, 10),
	}
}

// NewInitializedEvent returns the payload emitted once a sale is funded.
func NewInitializedEvent(r *EscrowRecord) *types.Event {
	return &types.Event{Type: EventTypeSaleInitialized, Attributes: recordAttributes(r)}
}

// NewExchangedEvent returns the payload emitted for a completed exchange.
func NewExchangedEvent(receipt *ExchangeReceipt) *types.Event {
	attrs := recordAttributes(receipt.Sale)
	attrs["payer"] = receipt.Payer.String()
	attrs["payerTokenAccount"] = receipt.PayerTokenAccount.String()
	attrs["payment"] = strconv.FormatUint(receipt.Payment, 10)
	attrs["granted"] = strconv.FormatUint(receipt.Granted, 10)
	return &types.Event{Type: EventTypeSaleExchanged, Attributes: attrs}
}

// NewCancelledEvent returns the payload emitted when a sale is closed.
func NewCancelledEvent(receipt *CancelReceipt) *types.Event {
	return &types.Event{
		Type: EventTypeSaleCancelled,
		Attributes: map[string]string{
			"name":              receipt.Name,
			"escrow":            receipt.Escrow.String(),
			"admin":             receipt.Admin.String(),
			"adminTokenAccount": receipt.AdminTokenAccount.String(),
			"returned":          strconv.FormatUint(receipt.Returned, 10),
			"reclaimedLamports": strconv.FormatUint(receipt.Reclaimed, 10),
		},
	}
}

// EventPayload unwraps events that carry a types.Event payload.
func EventPayload(evt events.Event) (*types.Event, bool) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return nil, false
	}
	payload := carrier.Event()
	return payload, payload != nil
}
