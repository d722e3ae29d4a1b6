package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

var _ Controller = (*Comptroller)(nil)

// requested confirms the listed market is itself asking for action right
// now. Hooks that move indexes or membership refuse callers that merely hold
// a reference to the market.
func (c *Comptroller) requested(market MarketView, action string) error {
	m, ok := market.(*Market)
	if !ok || m.hook != action {
		return ErrHookNotRequested
	}
	return nil
}

// MintAllowed implements Controller.
func (c *Comptroller) MintAllowed(market MarketView, minter crypto.Address, amount *uint256.Int) error {
	if err := c.guard(ActionMint); err != nil {
		return err
	}
	if market != nil && c.s.markets[market.Address()].mintPaused {
		return ErrMintPaused
	}
	if _, err := c.listedEntry(market); err != nil {
		return err
	}
	if err := c.requested(market, ActionMint); err != nil {
		return err
	}
	if err := c.updateSupplyIndex(market); err != nil {
		return err
	}
	return c.distributeSupplier(market, minter)
}

// RedeemAllowed implements Controller. Accounts that have not entered the
// market are not using it as collateral and skip the liquidity check.
func (c *Comptroller) RedeemAllowed(market MarketView, redeemer crypto.Address, shares *uint256.Int) error {
	if err := c.guard(actionRedeem); err != nil {
		return err
	}
	if err := c.redeemAllowedInternal(market, redeemer, shares); err != nil {
		return err
	}
	if err := c.requested(market, actionRedeem); err != nil {
		return err
	}
	if err := c.updateSupplyIndex(market); err != nil {
		return err
	}
	return c.distributeSupplier(market, redeemer)
}

func (c *Comptroller) redeemAllowedInternal(market MarketView, redeemer crypto.Address, shares *uint256.Int) error {
	if _, err := c.listedEntry(market); err != nil {
		return err
	}
	if !c.s.membership.has(redeemer, market.Address()) {
		return nil
	}
	_, shortfall, err := c.hypotheticalLiquidity(redeemer, market.Address(), shares, nil)
	if err != nil {
		return err
	}
	if !shortfall.IsZero() {
		return ErrInsufficientLiquidity
	}
	return nil
}

// RedeemVerify implements Controller.
func (c *Comptroller) RedeemVerify(_ MarketView, _ crypto.Address, amount, shares *uint256.Int) error {
	if orZero(shares).IsZero() && !orZero(amount).IsZero() {
		return ErrZeroRedeemShares
	}
	return nil
}

// BorrowAllowed implements Controller. A borrower who has not entered the
// market is enrolled, but only while the listed market itself is asking on
// behalf of a borrow.
func (c *Comptroller) BorrowAllowed(market MarketView, borrower crypto.Address, amount *uint256.Int) error {
	if err := c.guard(ActionBorrow); err != nil {
		return err
	}
	if market != nil && c.s.markets[market.Address()].borrowPaused {
		return ErrBorrowPaused
	}
	entry, err := c.listedEntry(market)
	if err != nil {
		return err
	}
	if err := c.requested(market, ActionBorrow); err != nil {
		return err
	}
	addr := market.Address()
	if !c.s.membership.has(borrower, addr) {
		c.addToMarket(borrower, addr)
		if !c.s.membership.has(borrower, addr) {
			return ErrMembershipCorrupt
		}
	}
	if c.price(addr).IsZero() {
		return ErrZeroPrice
	}
	if borrowCap := orZero(entry.borrowCap); !borrowCap.IsZero() {
		var a arith
		next := a.add(market.TotalBorrows(), amount)
		if a.err != nil {
			return a.err
		}
		if !next.Lt(borrowCap) {
			return ErrBorrowCapReached
		}
	}
	_, shortfall, err := c.hypotheticalLiquidity(borrower, addr, nil, amount)
	if err != nil {
		return err
	}
	if !shortfall.IsZero() {
		return ErrInsufficientLiquidity
	}
	if err := c.updateBorrowIndex(market); err != nil {
		return err
	}
	return c.distributeBorrower(market, borrower)
}

// BorrowBehalfAllowed implements Controller. Only the trusted caller may
// borrow on behalf of another account.
func (c *Comptroller) BorrowBehalfAllowed(market MarketView, sender, borrower crypto.Address, amount *uint256.Int) error {
	if c.s.trustedCaller.IsZero() || sender != c.s.trustedCaller {
		return ErrSenderMustBeTrustedCaller
	}
	return c.BorrowAllowed(market, borrower, amount)
}

// RepayBorrowAllowed implements Controller.
func (c *Comptroller) RepayBorrowAllowed(market MarketView, _, borrower crypto.Address, _ *uint256.Int) error {
	if err := c.guard(actionRepay); err != nil {
		return err
	}
	if _, err := c.listedEntry(market); err != nil {
		return err
	}
	if err := c.requested(market, actionRepay); err != nil {
		return err
	}
	if err := c.updateBorrowIndex(market); err != nil {
		return err
	}
	return c.distributeBorrower(market, borrower)
}

// LiquidateBorrowAllowed implements Controller. Deprecated markets allow any
// debt to be repaid in full; otherwise the borrower must be in shortfall and
// the close factor caps the repayment.
func (c *Comptroller) LiquidateBorrowAllowed(borrowed, collateral MarketView, _, borrower crypto.Address, repay *uint256.Int) error {
	if err := c.guard(actionLiquidate); err != nil {
		return err
	}
	entry, err := c.listedEntry(borrowed)
	if err != nil {
		return err
	}
	if _, err := c.listedEntry(collateral); err != nil {
		return err
	}
	borrowBalance, err := borrowed.BorrowBalanceStored(borrower)
	if err != nil {
		return err
	}
	repay = orZero(repay)
	if c.isDeprecated(entry) {
		if repay.Gt(borrowBalance) {
			return ErrTooMuchRepay
		}
		return nil
	}
	_, shortfall, err := c.hypotheticalLiquidity(borrower, crypto.Address{}, nil, nil)
	if err != nil {
		return err
	}
	if shortfall.IsZero() {
		return ErrInsufficientShortfall
	}
	var a arith
	maxClose := a.mulScalarTruncate(c.s.closeFactor, borrowBalance)
	if a.err != nil {
		return a.err
	}
	if repay.Gt(maxClose) {
		return ErrTooMuchRepay
	}
	return nil
}

// SeizeAllowed implements Controller. The seizing market must be listed
// here as the same object, answer to the same risk engine as collateral and
// hold the ticket of a liquidation matching this seize. The ticket is spent.
func (c *Comptroller) SeizeAllowed(collateral, seizer MarketView, liquidator, borrower crypto.Address, shares *uint256.Int) error {
	if err := c.guard(ActionSeize); err != nil {
		return err
	}
	if c.s.seizePaused {
		return ErrSeizePaused
	}
	if _, err := c.listedEntry(collateral); err != nil {
		return err
	}
	if seizer == nil || seizer.RiskEngine() != collateral.RiskEngine() {
		return ErrComptrollerMismatch
	}
	if _, err := c.listedEntry(seizer); err != nil {
		return ErrComptrollerMismatch
	}
	liquidating, ok := seizer.(*Market)
	if !ok || !liquidating.seizing.matches(collateral.Address(), liquidator, borrower, shares) {
		return ErrSeizeNotLiquidation
	}
	liquidating.seizing = nil
	if err := c.updateSupplyIndex(collateral); err != nil {
		return err
	}
	if err := c.distributeSupplier(collateral, borrower); err != nil {
		return err
	}
	return c.distributeSupplier(collateral, liquidator)
}

// TransferAllowed implements Controller. The source must stay solvent as if
// it redeemed the transferred shares.
func (c *Comptroller) TransferAllowed(market MarketView, src, dst crypto.Address, shares *uint256.Int) error {
	if err := c.guard(ActionTransfer); err != nil {
		return err
	}
	if c.s.transferPaused {
		return ErrTransferPaused
	}
	if err := c.redeemAllowedInternal(market, src, shares); err != nil {
		return err
	}
	if err := c.requested(market, ActionTransfer); err != nil {
		return err
	}
	if err := c.updateSupplyIndex(market); err != nil {
		return err
	}
	if err := c.distributeSupplier(market, src); err != nil {
		return err
	}
	return c.distributeSupplier(market, dst)
}
