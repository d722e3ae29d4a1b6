package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// SetPendingAdmin stages the next market admin.
func (m *Market) SetPendingAdmin(caller, next crypto.Address) error {
	return proposeAdmin(&m.l.admin, m.address, caller, next, m.emitter)
}

// AcceptAdmin completes the handover started by SetPendingAdmin.
func (m *Market) AcceptAdmin(caller crypto.Address) error {
	return acceptAdmin(&m.l.admin, m.address, caller, m.emitter)
}

// adminFresh accrues interest and checks caller is admin of a fresh market.
func (m *Market) adminFresh(caller crypto.Address) error {
	if err := m.AccrueInterest(); err != nil {
		return err
	}
	if !m.l.admin.IsAdmin(caller) {
		return ErrUnauthorized
	}
	return m.checkFresh()
}

// SetComptroller points the market at a new risk engine.
func (m *Market) SetComptroller(caller crypto.Address, controller Controller) error {
	if err := m.adminFresh(caller); err != nil {
		return err
	}
	if controller == nil {
		return fmt.Errorf("%w: risk engine required", ErrInvalidArguments)
	}
	old := m.l.controller
	m.l.controller = controller
	m.emitter.Emit(events.LendingAddressChange{
		Type:   events.TypeLendingNewComptroller,
		Market: m.address,
		Old:    componentAddress(old),
		New:    componentAddress(controller),
	})
	return nil
}

// SetReserveFactor updates the share of interest routed to reserves.
func (m *Market) SetReserveFactor(caller crypto.Address, factor *uint256.Int) error {
	if err := m.adminFresh(caller); err != nil {
		return err
	}
	factor = orZero(factor)
	if factor.Gt(mantissaOne) {
		return ErrInvalidReserveFactor
	}
	old := m.l.reserveFactor
	m.l.reserveFactor = clone(factor)
	m.emitter.Emit(events.LendingParamChange{Type: events.TypeLendingNewReserveFactor, Market: m.address, Old: clone(old), New: clone(factor)})
	return nil
}

// SetProtocolSeizeShare updates the share of seized collateral added to
// reserves instead of going to the liquidator.
func (m *Market) SetProtocolSeizeShare(caller crypto.Address, share *uint256.Int) error {
	if err := m.adminFresh(caller); err != nil {
		return err
	}
	share = orZero(share)
	if share.Gt(mantissaOne) {
		return ErrInvalidProtocolSeizeShare
	}
	old := m.l.protocolSeizeShare
	m.l.protocolSeizeShare = clone(share)
	m.emitter.Emit(events.LendingParamChange{Type: events.TypeLendingNewProtocolSeizeShare, Market: m.address, Old: clone(old), New: clone(share)})
	return nil
}

// SetInterestRateModel swaps the rate model. Interest up to now accrues
// under the old model.
func (m *Market) SetInterestRateModel(caller crypto.Address, model InterestRateModel) error {
	if err := m.adminFresh(caller); err != nil {
		return err
	}
	if model == nil {
		return ErrInvalidRateModel
	}
	old := m.l.rateModel
	m.l.rateModel = model
	m.emitter.Emit(events.LendingRateModelChange{Market: m.address, Old: modelName(old), New: modelName(model)})
	return nil
}

// AddReserves contributes caller's underlying to reserves. Anyone may call.
func (m *Market) AddReserves(caller crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	unlock, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if orZero(amount).IsZero() {
		return nil, ErrInvalidAmount
	}
	if err := m.AccrueInterest(); err != nil {
		return nil, err
	}
	if err := m.checkFresh(); err != nil {
		return nil, err
	}
	actual, err := m.transferIn(caller, amount)
	if err != nil {
		return nil, err
	}
	var a arith
	reserves := a.add(m.l.totalReserves, actual)
	if a.err != nil {
		return nil, a.err
	}
	m.l.totalReserves = reserves
	m.emitter.Emit(events.LendingReservesAdded{Market: m.address, Benefactor: caller, Amount: clone(actual), TotalReserves: clone(reserves)})
	return actual, nil
}

// ReduceReserves withdraws amount of reserves to the admin.
func (m *Market) ReduceReserves(caller crypto.Address, amount *uint256.Int) error {
	unlock, err := m.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if err := m.adminFresh(caller); err != nil {
		return err
	}
	amount = orZero(amount)
	if m.Cash().Lt(amount) {
		return ErrInsufficientCash
	}
	if amount.Gt(m.l.totalReserves) {
		return ErrReduceReservesTooMuch
	}
	reserves := new(uint256.Int).Sub(m.l.totalReserves, amount)
	m.l.totalReserves = reserves
	admin := m.l.admin.Admin()
	if err := m.transferOut(admin, amount); err != nil {
		return err
	}
	m.emitter.Emit(events.LendingReservesReduced{Market: m.address, Admin: admin, Amount: clone(amount), TotalReserves: clone(reserves)})
	return nil
}

func componentAddress(v any) crypto.Address {
	if addressed, ok := v.(interface{ Address() crypto.Address }); ok && addressed != nil {
		return addressed.Address()
	}
	return crypto.Address{}
}
