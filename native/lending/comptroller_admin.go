package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// SetPendingAdmin stages the next risk engine admin.
func (c *Comptroller) SetPendingAdmin(caller, next crypto.Address) error {
	return proposeAdmin(&c.s.admin, c.address, caller, next, c.emitter)
}

// AcceptAdmin completes the handover started by SetPendingAdmin.
func (c *Comptroller) AcceptAdmin(caller crypto.Address) error {
	return acceptAdmin(&c.s.admin, c.address, caller, c.emitter)
}

func (c *Comptroller) requireAdmin(caller crypto.Address) error {
	if !c.s.admin.IsAdmin(caller) {
		return ErrUnauthorized
	}
	return nil
}

// SupportMarket lists market. Listing is permanent and cannot be repeated.
func (c *Comptroller) SupportMarket(caller crypto.Address, market CollateralMarket) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if market == nil {
		return ErrInvalidArguments
	}
	addr := market.Address()
	if entry, ok := c.s.markets[addr]; ok && entry.listed {
		return ErrMarketAlreadyListed
	}
	if !c.owns(market) {
		return ErrComptrollerMismatch
	}
	for _, existing := range c.s.allMarkets {
		if existing == addr {
			return ErrMarketAlreadyListed
		}
	}
	c.s.markets[addr] = marketEntry{
		market:           market,
		listed:           true,
		collateralFactor: new(uint256.Int),
		borrowCap:        new(uint256.Int),
	}
	c.s.allMarkets = append(c.s.allMarkets, addr)
	c.s.rewards.initMarket(addr, c.clock.BlockHeight())
	c.emitter.Emit(events.LendingMarketListed{Market: addr, Symbol: market.Symbol()})
	return nil
}

// SetCollateralFactor sets the share of a market's collateral value that
// counts towards borrowing power.
func (c *Comptroller) SetCollateralFactor(caller, market crypto.Address, factor *uint256.Int) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	entry, ok := c.s.markets[market]
	if !ok || !entry.listed {
		return ErrMarketNotListed
	}
	factor = orZero(factor)
	if factor.Gt(collateralFactorMax) {
		return ErrInvalidCollateralFactor
	}
	if !factor.IsZero() && c.price(market).IsZero() {
		return ErrNoPriceForCollateral
	}
	old := entry.collateralFactor
	entry.collateralFactor = clone(factor)
	c.s.markets[market] = entry
	c.emitter.Emit(events.LendingParamChange{Type: events.TypeLendingNewCollateralFactor, Market: market, Old: clone(old), New: clone(factor)})
	return nil
}

// SetCloseFactor sets the largest fraction of a debt one liquidation may repay.
func (c *Comptroller) SetCloseFactor(caller crypto.Address, factor *uint256.Int) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	factor = orZero(factor)
	if factor.Lt(closeFactorMin) || factor.Gt(closeFactorMax) {
		return ErrInvalidCloseFactor
	}
	old := c.s.closeFactor
	c.s.closeFactor = clone(factor)
	c.emitter.Emit(events.LendingParamChange{Type: events.TypeLendingNewCloseFactor, Old: clone(old), New: clone(factor)})
	return nil
}

// SetLiquidationIncentive sets the collateral bonus paid to liquidators.
func (c *Comptroller) SetLiquidationIncentive(caller crypto.Address, incentive *uint256.Int) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	incentive = orZero(incentive)
	if incentive.Lt(liquidationIncentiveMin) || incentive.Gt(liquidationIncentiveMax) {
		return ErrInvalidLiquidationIncentive
	}
	old := c.s.liquidationIncentive
	c.s.liquidationIncentive = clone(incentive)
	c.emitter.Emit(events.LendingParamChange{Type: events.TypeLendingNewLiquidationIncentive, Old: clone(old), New: clone(incentive)})
	return nil
}

// SetPriceOracle replaces the price source.
func (c *Comptroller) SetPriceOracle(caller crypto.Address, oracle PriceOracle) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if oracle == nil {
		return ErrInvalidArguments
	}
	old := c.s.oracle
	c.s.oracle = oracle
	c.emitter.Emit(events.LendingAddressChange{Type: events.TypeLendingNewPriceOracle, Old: componentAddress(old), New: componentAddress(oracle)})
	return nil
}

// SetMarketBorrowCaps sets per-market borrow caps; zero removes the cap.
// The admin or the borrow cap guardian may call it.
func (c *Comptroller) SetMarketBorrowCaps(caller crypto.Address, markets []crypto.Address, caps []*uint256.Int) error {
	if !c.s.admin.IsAdmin(caller) && (c.s.borrowCapGuardian.IsZero() || caller != c.s.borrowCapGuardian) {
		return ErrUnauthorized
	}
	if len(markets) == 0 || len(markets) != len(caps) {
		return ErrInvalidArguments
	}
	for _, addr := range markets {
		if entry, ok := c.s.markets[addr]; !ok || !entry.listed {
			return ErrMarketNotListed
		}
	}
	for i, addr := range markets {
		entry := c.s.markets[addr]
		entry.borrowCap = clone(caps[i])
		c.s.markets[addr] = entry
		c.emitter.Emit(events.LendingBorrowCap{Market: addr, Cap: clone(caps[i])})
	}
	return nil
}

// SetBorrowCapGuardian assigns the borrow cap guardian.
func (c *Comptroller) SetBorrowCapGuardian(caller, guardian crypto.Address) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	old := c.s.borrowCapGuardian
	c.s.borrowCapGuardian = guardian
	c.emitter.Emit(events.LendingAddressChange{Type: events.TypeLendingNewBorrowCapGuardian, Old: old, New: guardian})
	return nil
}

// SetPauseGuardian assigns the pause guardian.
func (c *Comptroller) SetPauseGuardian(caller, guardian crypto.Address) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	old := c.s.pauseGuardian
	c.s.pauseGuardian = guardian
	c.emitter.Emit(events.LendingAddressChange{Type: events.TypeLendingNewPauseGuardian, Old: old, New: guardian})
	return nil
}

// SetTrustedCaller assigns the only address allowed to borrow on behalf of
// other accounts.
func (c *Comptroller) SetTrustedCaller(caller, trusted crypto.Address) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	old := c.s.trustedCaller
	c.s.trustedCaller = trusted
	c.emitter.Emit(events.LendingAddressChange{Type: events.TypeLendingNewTrustedCaller, Old: old, New: trusted})
	return nil
}

// pauseAllowed lets the guardian or admin pause, but only the admin unpause.
func (c *Comptroller) pauseAllowed(caller crypto.Address, paused bool) error {
	isAdmin := c.s.admin.IsAdmin(caller)
	isGuardian := !c.s.pauseGuardian.IsZero() && caller == c.s.pauseGuardian
	if !isAdmin && !isGuardian {
		return ErrUnauthorized
	}
	if !paused && !isAdmin {
		return ErrOnlyAdminCanUnpause
	}
	return nil
}

// SetMintPaused toggles minting on market.
func (c *Comptroller) SetMintPaused(caller, market crypto.Address, paused bool) error {
	return c.setMarketPaused(caller, market, ActionMint, paused)
}

// SetBorrowPaused toggles borrowing on market.
func (c *Comptroller) SetBorrowPaused(caller, market crypto.Address, paused bool) error {
	return c.setMarketPaused(caller, market, ActionBorrow, paused)
}

func (c *Comptroller) setMarketPaused(caller, market crypto.Address, action string, paused bool) error {
	entry, ok := c.s.markets[market]
	if !ok || !entry.listed {
		return ErrMarketNotListed
	}
	if err := c.pauseAllowed(caller, paused); err != nil {
		return err
	}
	if action == ActionMint {
		entry.mintPaused = paused
	} else {
		entry.borrowPaused = paused
	}
	c.s.markets[market] = entry
	c.emitter.Emit(events.LendingActionPaused{Market: market, Action: action, Paused: paused})
	return nil
}

// SetTransferPaused toggles share transfers across all markets.
func (c *Comptroller) SetTransferPaused(caller crypto.Address, paused bool) error {
	if err := c.pauseAllowed(caller, paused); err != nil {
		return err
	}
	c.s.transferPaused = paused
	c.emitter.Emit(events.LendingActionPaused{Action: ActionTransfer, Paused: paused})
	return nil
}

// SetSeizePaused toggles collateral seizure across all markets.
func (c *Comptroller) SetSeizePaused(caller crypto.Address, paused bool) error {
	if err := c.pauseAllowed(caller, paused); err != nil {
		return err
	}
	c.s.seizePaused = paused
	c.emitter.Emit(events.LendingActionPaused{Action: ActionSeize, Paused: paused})
	return nil
}
