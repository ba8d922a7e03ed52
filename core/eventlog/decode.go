package eventlog

import (
	"encoding/json"
	"fmt"

	"icusdprotocol/core/events"
)

// Decoder turns a stored (type, payload) pair back into a concrete
// events.Event. The protocol package supplies the single production
// Decoder; tests that only care about a subset of event types can build
// their own.
type Decoder interface {
	Decode(eventType string, payload json.RawMessage) (events.Event, error)
}

// ProtocolDecoder decodes every event type defined in core/events.
type ProtocolDecoder struct{}

// Decode implements Decoder.
func (ProtocolDecoder) Decode(eventType string, payload json.RawMessage) (events.Event, error) {
	var event events.Event
	switch eventType {
	case (events.Init{}).EventType():
		event = &events.Init{}
	case (events.Upgrade{}).EventType():
		event = &events.Upgrade{}
	case (events.OpenVault{}).EventType():
		event = &events.OpenVault{}
	case (events.AddMarginToVault{}).EventType():
		event = &events.AddMarginToVault{}
	case (events.BorrowFromVault{}).EventType():
		event = &events.BorrowFromVault{}
	case (events.RepayToVault{}).EventType():
		event = &events.RepayToVault{}
	case (events.CloseVault{}).EventType():
		event = &events.CloseVault{}
	case (events.WithdrawCollateral{}).EventType():
		event = &events.WithdrawCollateral{}
	case (events.WithdrawAndCloseVault{}).EventType():
		event = &events.WithdrawAndCloseVault{}
	case (events.RedemptionOnVaults{}).EventType():
		event = &events.RedemptionOnVaults{}
	case (events.RedemptionTransfered{}).EventType():
		event = &events.RedemptionTransfered{}
	case (events.LiquidateVault{}).EventType():
		event = &events.LiquidateVault{}
	case (events.RedistributeVault{}).EventType():
		event = &events.RedistributeVault{}
	case (events.ProvideLiquidity{}).EventType():
		event = &events.ProvideLiquidity{}
	case (events.WithdrawLiquidity{}).EventType():
		event = &events.WithdrawLiquidity{}
	case (events.ClaimLiquidityReturns{}).EventType():
		event = &events.ClaimLiquidityReturns{}
	case (events.MarginTransfer{}).EventType():
		event = &events.MarginTransfer{}
	default:
		return nil, fmt.Errorf("eventlog: unknown event type %q", eventType)
	}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, err
	}
	return derefEvent(event), nil
}

// derefEvent unwraps the pointer used for json.Unmarshal back into the
// value type events.Event implementations are declared with, keeping the
// decoded event comparable to a freshly constructed one in tests.
func derefEvent(event events.Event) events.Event {
	switch e := event.(type) {
	case *events.Init:
		return *e
	case *events.Upgrade:
		return *e
	case *events.OpenVault:
		return *e
	case *events.AddMarginToVault:
		return *e
	case *events.BorrowFromVault:
		return *e
	case *events.RepayToVault:
		return *e
	case *events.CloseVault:
		return *e
	case *events.WithdrawCollateral:
		return *e
	case *events.WithdrawAndCloseVault:
		return *e
	case *events.RedemptionOnVaults:
		return *e
	case *events.RedemptionTransfered:
		return *e
	case *events.LiquidateVault:
		return *e
	case *events.RedistributeVault:
		return *e
	case *events.ProvideLiquidity:
		return *e
	case *events.WithdrawLiquidity:
		return *e
	case *events.ClaimLiquidityReturns:
		return *e
	case *events.MarginTransfer:
		return *e
	default:
		return event
	}
}

// VaultIDOf extracts the vault id an event pertains to, when applicable.
func VaultIDOf(event events.Event) (uint64, bool) {
	switch e := event.(type) {
	case events.OpenVault:
		return e.VaultID, true
	case events.AddMarginToVault:
		return e.VaultID, true
	case events.BorrowFromVault:
		return e.VaultID, true
	case events.RepayToVault:
		return e.VaultID, true
	case events.CloseVault:
		return e.VaultID, true
	case events.WithdrawCollateral:
		return e.VaultID, true
	case events.WithdrawAndCloseVault:
		return e.VaultID, true
	case events.LiquidateVault:
		return e.VaultID, true
	case events.RedistributeVault:
		return e.VaultID, true
	default:
		return 0, false
	}
}
