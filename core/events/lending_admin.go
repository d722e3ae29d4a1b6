package events

import (
	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

const (
	TypeLendingNewPendingAdmin         = "lending.new_pending_admin"
	TypeLendingNewAdmin                = "lending.new_admin"
	TypeLendingNewReserveFactor        = "lending.new_reserve_factor"
	TypeLendingNewProtocolSeizeShare   = "lending.new_protocol_seize_share"
	TypeLendingNewComptroller          = "lending.new_comptroller"
	TypeLendingNewRateModel            = "lending.new_interest_rate_model"
	TypeLendingNewInterestParams       = "lending.new_interest_params"
	TypeLendingMarketListed            = "lending.market_listed"
	TypeLendingMarketEntered           = "lending.market_entered"
	TypeLendingMarketExited            = "lending.market_exited"
	TypeLendingNewCloseFactor          = "lending.new_close_factor"
	TypeLendingNewCollateralFactor     = "lending.new_collateral_factor"
	TypeLendingNewLiquidationIncentive = "lending.new_liquidation_incentive"
	TypeLendingNewPriceOracle          = "lending.new_price_oracle"
	TypeLendingNewBorrowCap            = "lending.new_borrow_cap"
	TypeLendingNewBorrowCapGuardian    = "lending.new_borrow_cap_guardian"
	TypeLendingNewPauseGuardian        = "lending.new_pause_guardian"
	TypeLendingNewTrustedCaller        = "lending.new_trusted_caller"
	TypeLendingActionPaused            = "lending.action_paused"
)

// LendingAdminChange records a step of the two-phase admin handover of a
// protocol component. Pending selects between NewPendingAdmin and NewAdmin.
type LendingAdminChange struct {
	Component crypto.Address
	Old       crypto.Address
	New       crypto.Address
	Pending   bool
}

func (e LendingAdminChange) EventType() string {
	if e.Pending {
		return TypeLendingNewPendingAdmin
	}
	return TypeLendingNewAdmin
}

func (e LendingAdminChange) Event() *types.Event {
	return types.NewEvent(e.EventType()).
		Add("component", formatAddress(e.Component)).
		Add("old", formatAddress(e.Old)).
		Add("new", formatAddress(e.New))
}

// LendingParamChange records a mantissa parameter update. Market is zero for
// risk-engine wide parameters such as the close factor.
type LendingParamChange struct {
	Type   string
	Market crypto.Address
	Old    *uint256.Int
	New    *uint256.Int
}

func (e LendingParamChange) EventType() string { return e.Type }

func (e LendingParamChange) Event() *types.Event {
	evt := types.NewEvent(e.Type)
	if !e.Market.IsZero() {
		evt.Add("market", formatAddress(e.Market))
	}
	return evt.Add("old", formatAmount(e.Old)).Add("new", formatAmount(e.New))
}

// LendingAddressChange records a role or collaborator reassignment, for
// example a new pause guardian, trusted caller or risk engine.
type LendingAddressChange struct {
	Type   string
	Market crypto.Address
	Old    crypto.Address
	New    crypto.Address
}

func (e LendingAddressChange) EventType() string { return e.Type }

func (e LendingAddressChange) Event() *types.Event {
	evt := types.NewEvent(e.Type)
	if !e.Market.IsZero() {
		evt.Add("market", formatAddress(e.Market))
	}
	return evt.Add("old", formatAddress(e.Old)).Add("new", formatAddress(e.New))
}

// LendingRateModelChange records a market switching interest rate models.
type LendingRateModelChange struct {
	Market crypto.Address
	Old    string
	New    string
}

func (LendingRateModelChange) EventType() string { return TypeLendingNewRateModel }

func (e LendingRateModelChange) Event() *types.Event {
	return types.NewEvent(TypeLendingNewRateModel).
		Add("market", formatAddress(e.Market)).
		Add("old", e.Old).
		Add("new", e.New)
}

// LendingInterestParams records per-block parameters of a jump rate model.
type LendingInterestParams struct {
	Model          string
	BaseRate       *uint256.Int
	Multiplier     *uint256.Int
	JumpMultiplier *uint256.Int
	Kink           *uint256.Int
}

func (LendingInterestParams) EventType() string { return TypeLendingNewInterestParams }

func (e LendingInterestParams) Event() *types.Event {
	return types.NewEvent(TypeLendingNewInterestParams).
		Add("model", e.Model).
		Add("baseRatePerBlock", formatAmount(e.BaseRate)).
		Add("multiplierPerBlock", formatAmount(e.Multiplier)).
		Add("jumpMultiplierPerBlock", formatAmount(e.JumpMultiplier)).
		Add("kink", formatAmount(e.Kink))
}

// LendingMembership records an account entering or leaving a market.
type LendingMembership struct {
	Market  crypto.Address
	Account crypto.Address
	Exited  bool
}

func (e LendingMembership) EventType() string {
	if e.Exited {
		return TypeLendingMarketExited
	}
	return TypeLendingMarketEntered
}

func (e LendingMembership) Event() *types.Event {
	return types.NewEvent(e.EventType()).
		Add("market", formatAddress(e.Market)).
		Add("account", formatAddress(e.Account))
}

// LendingMarketListed records a market added to the risk engine registry.
type LendingMarketListed struct {
	Market crypto.Address
	Symbol string
}

func (LendingMarketListed) EventType() string { return TypeLendingMarketListed }

func (e LendingMarketListed) Event() *types.Event {
	return types.NewEvent(TypeLendingMarketListed).
		Add("market", formatAddress(e.Market)).
		Add("symbol", normalizeAsset(e.Symbol))
}

// LendingBorrowCap records a borrow cap update; zero means unlimited.
type LendingBorrowCap struct {
	Market crypto.Address
	Cap    *uint256.Int
}

func (LendingBorrowCap) EventType() string { return TypeLendingNewBorrowCap }

func (e LendingBorrowCap) Event() *types.Event {
	return types.NewEvent(TypeLendingNewBorrowCap).
		Add("market", formatAddress(e.Market)).
		Add("cap", formatAmount(e.Cap))
}

// LendingActionPaused records a pause flag write. It is emitted even when the
// flag already had the requested value.
type LendingActionPaused struct {
	Market crypto.Address
	Action string
	Paused bool
}

func (LendingActionPaused) EventType() string { return TypeLendingActionPaused }

func (e LendingActionPaused) Event() *types.Event {
	evt := types.NewEvent(TypeLendingActionPaused)
	if !e.Market.IsZero() {
		evt.Add("market", formatAddress(e.Market))
	}
	return evt.Add("action", e.Action).Add("paused", formatBool(e.Paused))
}
