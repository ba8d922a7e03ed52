// Package pause implements an operator-controlled pause switch keyed by
// component (vault, redemption, liquidation, stabilitypool), layered in
// front of the mode selector's TCR-driven ReadOnly check so an operator
// can halt one subsystem without forcing the whole protocol read-only.
package pause

import (
	"sync"

	protoerrors "icusdprotocol/core/errors"
)

// Module names the protocol subsystem a pause applies to.
type Module string

const (
	ModuleVault         Module = "vault"
	ModuleRedemption    Module = "redemption"
	ModuleLiquidation   Module = "liquidation"
	ModuleStabilityPool Module = "stabilitypool"
)

// View is consulted by each subsystem's entry guard before every mutating
// operation.
type View interface {
	IsPaused(module Module) bool
}

// Switch is the operator-facing pause registry: a concrete View backed by
// a simple set, toggled through the upgrade argument handler.
type Switch struct {
	mu     sync.RWMutex
	paused map[Module]bool
}

// NewSwitch constructs a Switch with every module initially unpaused.
func NewSwitch() *Switch {
	return &Switch{paused: make(map[Module]bool)}
}

// Set pauses or unpauses a module.
func (s *Switch) Set(module Module, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[module] = paused
}

// IsPaused implements View.
func (s *Switch) IsPaused(module Module) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}

// Guard returns ErrTemporarilyUnavailable if module is paused under v. A
// nil View never pauses anything, so components that don't wire one keep
// working exactly as before.
func Guard(v View, module Module) error {
	if v == nil {
		return nil
	}
	if v.IsPaused(module) {
		return protoerrors.ErrTemporarilyUnavailable
	}
	return nil
}
