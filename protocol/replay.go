package protocol

import (
	"fmt"
	"time"

	"icusdprotocol/core/events"
	"icusdprotocol/mode"
	"icusdprotocol/vault"
)

// applyReplay mutates the registry/pool/mode-override state from a single
// decoded event, re-running the same deterministic state transition the
// live call made. It never touches the ledger or the pending-transfer
// queue — those are outbound side effects the event itself is the
// already-committed record of, not state this process reconstructs by
// replaying them a second time.
func (p *Protocol) applyReplay(event events.Event) error {
	switch e := event.(type) {
	case events.Init:
		return nil
	case events.Upgrade:
		if e.ModeForce == "" {
			p.modeSel.SetOverride(nil)
			return nil
		}
		m := modeFromString(e.ModeForce)
		p.modeSel.SetOverride(&m)
		return nil
	case events.OpenVault:
		p.registry.Insert(vault.Vault{ID: e.VaultID, Owner: e.Owner, CollateralE8s: e.CollateralE8s, DebtE8s: e.DebtE8s})
		return nil
	case events.AddMarginToVault:
		p.registry.AddDebtAndCollateral(e.VaultID, 0, e.CollateralE8s)
		return nil
	case events.BorrowFromVault:
		p.registry.AddDebtAndCollateral(e.VaultID, e.DebtE8s, 0)
		return nil
	case events.RepayToVault:
		p.registry.ReduceDebtAndCollateral(e.VaultID, e.DebtE8s, 0)
		return nil
	case events.CloseVault:
		p.registry.Remove(e.VaultID)
		return nil
	case events.WithdrawAndCloseVault:
		p.registry.Remove(e.VaultID)
		return nil
	case events.WithdrawCollateral:
		p.registry.ReduceDebtAndCollateral(e.VaultID, 0, e.CollateralE8s)
		return nil
	case events.RedemptionOnVaults:
		for i, id := range e.VaultIDs {
			p.registry.ReduceDebtAndCollateral(id, e.DebtReducedE8s[i], e.CollReducedE8s[i])
		}
		p.router.RestoreFeeState(e.BaseBps, time.Unix(0, e.Timestamp))
		return nil
	case events.RedemptionTransfered:
		return nil
	case events.LiquidateVault:
		p.registry.Remove(e.VaultID)
		if e.Absorbed {
			return p.pool.Absorb(e.DebtE8s, e.CollateralE8s)
		}
		return nil
	case events.RedistributeVault:
		return p.liq.Redistribute(e.DebtE8s, e.CollateralE8s)
	case events.ProvideLiquidity:
		_, err := p.pool.Provide(e.Provider, e.AmountE8s)
		return err
	case events.WithdrawLiquidity:
		_, _, err := p.pool.Withdraw(e.Provider, e.AmountE8s)
		return err
	case events.ClaimLiquidityReturns:
		_, err := p.pool.Claim(e.Provider)
		return err
	case events.MarginTransfer:
		p.registry.ReduceDebtAndCollateral(e.FromVaultID, 0, e.CollateralE8s)
		p.registry.AddDebtAndCollateral(e.ToVaultID, 0, e.CollateralE8s)
		return nil
	default:
		return fmt.Errorf("protocol: replay: unhandled event type %T", event)
	}
}

func modeFromString(s string) mode.Mode {
	switch s {
	case mode.Recovery.String():
		return mode.Recovery
	case mode.ReadOnly.String():
		return mode.ReadOnly
	default:
		return mode.GeneralAvailability
	}
}
