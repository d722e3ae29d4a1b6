package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// Mint supplies amount of underlying from minter and returns the shares
// issued. Shares are priced on the underlying actually received.
func (m *Market) Mint(minter crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
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
	return m.mintFresh(minter, amount)
}

func (m *Market) mintFresh(minter crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := m.ask(ActionMint, func() error { return m.l.controller.MintAllowed(m, minter, amount) }); err != nil {
		return nil, err
	}
	if err := m.checkFresh(); err != nil {
		return nil, err
	}
	rate, err := m.ExchangeRateStored()
	if err != nil {
		return nil, err
	}
	actual, err := m.transferIn(minter, amount)
	if err != nil {
		return nil, err
	}

	var a arith
	shares := a.divExp(actual, rate)
	totalShares := a.add(m.l.totalShares, shares)
	balance := a.add(orZero(m.l.shares[minter]), shares)
	if a.err != nil {
		return nil, a.err
	}
	m.l.totalShares = totalShares
	m.l.shares[minter] = balance

	m.emitter.Emit(events.LendingMint{
		Market:      m.address,
		Minter:      minter,
		Amount:      actual,
		Shares:      clone(shares),
		TotalShares: clone(totalShares),
	})
	m.emitter.Emit(events.LendingTransfer{Market: m.address, From: m.address, To: minter, Shares: clone(shares)})
	return shares, nil
}

// Redeem burns shares of redeemer and returns the underlying paid out.
func (m *Market) Redeem(redeemer crypto.Address, shares *uint256.Int) (*uint256.Int, error) {
	if orZero(shares).IsZero() {
		return nil, ErrInvalidAmount
	}
	amount, _, err := m.redeem(redeemer, shares, nil)
	return amount, err
}

// RedeemUnderlying burns the shares worth amount of underlying at the stored
// exchange rate and returns the shares burned.
func (m *Market) RedeemUnderlying(redeemer crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	if orZero(amount).IsZero() {
		return nil, ErrInvalidAmount
	}
	_, shares, err := m.redeem(redeemer, nil, amount)
	return shares, err
}

func (m *Market) redeem(redeemer crypto.Address, sharesIn, amountIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	unlock, err := m.enter()
	if err != nil {
		return nil, nil, err
	}
	defer unlock()
	if err := m.AccrueInterest(); err != nil {
		return nil, nil, err
	}
	return m.redeemFresh(redeemer, sharesIn, amountIn)
}

// redeemFresh takes exactly one of sharesIn and amountIn.
func (m *Market) redeemFresh(redeemer crypto.Address, sharesIn, amountIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	rate, err := m.ExchangeRateStored()
	if err != nil {
		return nil, nil, err
	}
	var a arith
	var shares, amount *uint256.Int
	if sharesIn != nil {
		shares = clone(sharesIn)
		amount = a.mulScalarTruncate(rate, sharesIn)
	} else {
		shares = a.divExp(amountIn, rate)
		amount = clone(amountIn)
	}
	if a.err != nil {
		return nil, nil, a.err
	}

	if err := m.ask(actionRedeem, func() error { return m.l.controller.RedeemAllowed(m, redeemer, shares) }); err != nil {
		return nil, nil, err
	}
	if err := m.checkFresh(); err != nil {
		return nil, nil, err
	}
	if m.Cash().Lt(amount) {
		return nil, nil, ErrRedeemTransferOutNotPossible
	}
	if err := m.l.controller.RedeemVerify(m, redeemer, amount, shares); err != nil {
		return nil, nil, err
	}
	balance := orZero(m.l.shares[redeemer])
	if balance.Lt(shares) {
		return nil, nil, ErrInsufficientBalance
	}
	totalShares := a.sub(m.l.totalShares, shares)
	balanceNew := a.sub(balance, shares)
	if a.err != nil {
		return nil, nil, a.err
	}

	m.l.totalShares = totalShares
	m.l.shares[redeemer] = balanceNew
	if err := m.transferOut(redeemer, amount); err != nil {
		return nil, nil, err
	}

	m.emitter.Emit(events.LendingTransfer{Market: m.address, From: redeemer, To: m.address, Shares: clone(shares)})
	m.emitter.Emit(events.LendingRedeem{
		Market:      m.address,
		Redeemer:    redeemer,
		Amount:      clone(amount),
		Shares:      clone(shares),
		TotalShares: clone(totalShares),
	})
	return amount, shares, nil
}

// Borrow records amount of new debt for borrower and pays it out to them.
func (m *Market) Borrow(borrower crypto.Address, amount *uint256.Int) error {
	unlock, err := m.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if orZero(amount).IsZero() {
		return ErrInvalidAmount
	}
	if err := m.AccrueInterest(); err != nil {
		return err
	}
	if err := m.ask(ActionBorrow, func() error { return m.l.controller.BorrowAllowed(m, borrower, amount) }); err != nil {
		return err
	}
	return m.borrowFresh(borrower, borrower, amount)
}

// BorrowBehalf records debt against borrower while paying the underlying to
// sender. Only the risk engine's trusted caller may use it.
func (m *Market) BorrowBehalf(sender, borrower crypto.Address, amount *uint256.Int) error {
	unlock, err := m.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if orZero(amount).IsZero() {
		return ErrInvalidAmount
	}
	if err := m.AccrueInterest(); err != nil {
		return err
	}
	if err := m.ask(ActionBorrow, func() error {
		return m.l.controller.BorrowBehalfAllowed(m, sender, borrower, amount)
	}); err != nil {
		return err
	}
	return m.borrowFresh(borrower, sender, amount)
}

func (m *Market) borrowFresh(borrower, receiver crypto.Address, amount *uint256.Int) error {
	if err := m.checkFresh(); err != nil {
		return err
	}
	if m.Cash().Lt(amount) {
		return ErrBorrowCashNotAvailable
	}
	prev, err := m.BorrowBalanceStored(borrower)
	if err != nil {
		return err
	}
	var a arith
	accountBorrows := a.add(prev, amount)
	totalBorrows := a.add(m.l.totalBorrows, amount)
	if a.err != nil {
		return a.err
	}

	m.l.borrows[borrower] = BorrowSnapshot{Principal: accountBorrows, InterestIndex: m.l.borrowIndex}
	m.l.totalBorrows = totalBorrows
	if err := m.transferOut(receiver, amount); err != nil {
		return err
	}

	m.emitter.Emit(events.LendingBorrow{
		Market:         m.address,
		Borrower:       borrower,
		Receiver:       receiver,
		Amount:         clone(amount),
		AccountBorrows: clone(accountBorrows),
		TotalBorrows:   clone(totalBorrows),
	})
	return nil
}

// RepayBorrow repays the payer's own debt and returns the amount repaid.
func (m *Market) RepayBorrow(payer crypto.Address, amount RepayAmount) (*uint256.Int, error) {
	return m.RepayBorrowBehalf(payer, payer, amount)
}

// RepayBorrowBehalf repays borrower's debt with payer's underlying and
// returns the amount repaid.
func (m *Market) RepayBorrowBehalf(payer, borrower crypto.Address, amount RepayAmount) (*uint256.Int, error) {
	unlock, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !amount.IsFull() && amount.Amount().IsZero() {
		return nil, ErrInvalidAmount
	}
	if err := m.AccrueInterest(); err != nil {
		return nil, err
	}
	return m.repayBorrowFresh(payer, borrower, amount)
}

func (m *Market) repayBorrowFresh(payer, borrower crypto.Address, amount RepayAmount) (*uint256.Int, error) {
	prev, err := m.BorrowBalanceStored(borrower)
	if err != nil {
		return nil, err
	}
	requested := prev
	if !amount.IsFull() {
		requested = amount.Amount()
	}
	if err := m.ask(actionRepay, func() error {
		return m.l.controller.RepayBorrowAllowed(m, payer, borrower, requested)
	}); err != nil {
		return nil, err
	}
	if err := m.checkFresh(); err != nil {
		return nil, err
	}
	if requested.Gt(prev) {
		return nil, ErrTooMuchRepay
	}
	actual, err := m.transferIn(payer, requested)
	if err != nil {
		return nil, err
	}

	var a arith
	accountBorrows := a.sub(prev, actual)
	if a.err != nil {
		return nil, a.err
	}
	// Per-account balances round independently of the total, so the total
	// can trail the sum of account debts by a few units.
	totalBorrows := new(uint256.Int)
	if actual.Lt(m.l.totalBorrows) {
		totalBorrows.Sub(m.l.totalBorrows, actual)
	}

	m.l.borrows[borrower] = BorrowSnapshot{Principal: accountBorrows, InterestIndex: m.l.borrowIndex}
	m.l.totalBorrows = totalBorrows

	m.emitter.Emit(events.LendingRepayBorrow{
		Market:         m.address,
		Payer:          payer,
		Borrower:       borrower,
		Amount:         clone(actual),
		AccountBorrows: clone(accountBorrows),
		TotalBorrows:   clone(totalBorrows),
	})
	return actual, nil
}

// LiquidateBorrow repays part of borrower's debt on liquidator's behalf and
// seizes discounted collateral shares from collateral. It returns the shares
// seized.
func (m *Market) LiquidateBorrow(liquidator, borrower crypto.Address, repay RepayAmount, collateral CollateralMarket) (*uint256.Int, error) {
	unlock, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if collateral == nil {
		return nil, ErrInvalidArguments
	}
	if err := m.AccrueInterest(); err != nil {
		return nil, err
	}
	if !m.isSelf(collateral) {
		if err := collateral.AccrueInterest(); err != nil {
			return nil, err
		}
	}
	return m.liquidateBorrowFresh(liquidator, borrower, repay, collateral)
}

func (m *Market) liquidateBorrowFresh(liquidator, borrower crypto.Address, repay RepayAmount, collateral CollateralMarket) (*uint256.Int, error) {
	if liquidator == borrower {
		return nil, ErrLiquidateSelf
	}
	if repay.IsFull() {
		return nil, ErrLiquidateFullRepay
	}
	amount := repay.Amount()
	if amount.IsZero() {
		return nil, ErrLiquidateZeroRepay
	}
	if err := m.l.controller.LiquidateBorrowAllowed(m, collateral, liquidator, borrower, amount); err != nil {
		return nil, err
	}
	if err := m.checkFresh(); err != nil {
		return nil, err
	}
	if collateral.AccrualHeight() != m.clock.BlockHeight() {
		return nil, ErrCollateralNotFresh
	}

	actual, err := m.repayBorrowFresh(liquidator, borrower, RepayExact(amount))
	if err != nil {
		return nil, err
	}
	seizeShares, err := m.l.controller.LiquidateCalculateSeizeShares(m, collateral, actual)
	if err != nil {
		return nil, err
	}
	if collateral.BalanceOf(borrower).Lt(seizeShares) {
		return nil, ErrLiquidateSeizeTooMuch
	}
	if err := m.seizeFrom(collateral, liquidator, borrower, seizeShares); err != nil {
		return nil, err
	}

	m.emitter.Emit(events.LendingLiquidateBorrow{
		Market:           m.address,
		Liquidator:       liquidator,
		Borrower:         borrower,
		RepayAmount:      clone(actual),
		CollateralMarket: collateral.Address(),
		SeizeShares:      clone(seizeShares),
	})
	return seizeShares, nil
}

// seizeFrom issues the ticket the risk engine checks before collateral gives
// up shares, and withdraws it once the seize returns.
func (m *Market) seizeFrom(collateral CollateralMarket, liquidator, borrower crypto.Address, shares *uint256.Int) error {
	m.seizing = &seizeTicket{
		collateral: collateral.Address(),
		liquidator: liquidator,
		borrower:   borrower,
		shares:     clone(shares),
	}
	defer func() { m.seizing = nil }()
	if m.isSelf(collateral) {
		return m.seizeInternal(m, liquidator, borrower, shares)
	}
	return collateral.Seize(m, liquidator, borrower, shares)
}

// Seize moves shares of borrower to liquidator during a liquidation run by
// seizer. The risk engine confirms seizer is a listed sibling that is
// liquidating borrower for exactly these shares.
func (m *Market) Seize(seizer MarketView, liquidator, borrower crypto.Address, shares *uint256.Int) error {
	unlock, err := m.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if seizer == nil {
		return ErrComptrollerMismatch
	}
	return m.seizeInternal(seizer, liquidator, borrower, shares)
}

func (m *Market) seizeInternal(seizer MarketView, liquidator, borrower crypto.Address, shares *uint256.Int) error {
	if err := m.l.controller.SeizeAllowed(m, seizer, liquidator, borrower, shares); err != nil {
		return err
	}
	if liquidator == borrower {
		return ErrLiquidateSelf
	}
	balance := orZero(m.l.shares[borrower])
	if balance.Lt(shares) {
		return ErrLiquidateSeizeTooMuch
	}
	rate, err := m.ExchangeRateStored()
	if err != nil {
		return err
	}

	var a arith
	protocolShares := a.mulScalarTruncate(m.l.protocolSeizeShare, shares)
	liquidatorShares := a.sub(shares, protocolShares)
	protocolAmount := a.mulScalarTruncate(rate, protocolShares)
	reserves := a.add(m.l.totalReserves, protocolAmount)
	totalShares := a.sub(m.l.totalShares, protocolShares)
	borrowerShares := a.sub(balance, shares)
	liquidatorBalance := a.add(orZero(m.l.shares[liquidator]), liquidatorShares)
	if a.err != nil {
		return a.err
	}

	m.l.totalReserves = reserves
	m.l.totalShares = totalShares
	m.l.shares[borrower] = borrowerShares
	m.l.shares[liquidator] = liquidatorBalance

	m.emitter.Emit(events.LendingTransfer{Market: m.address, From: borrower, To: liquidator, Shares: clone(liquidatorShares)})
	if !protocolShares.IsZero() {
		m.emitter.Emit(events.LendingTransfer{Market: m.address, From: borrower, To: m.address, Shares: clone(protocolShares)})
		m.emitter.Emit(events.LendingReservesAdded{
			Market:        m.address,
			Benefactor:    m.address,
			Amount:        clone(protocolAmount),
			TotalReserves: clone(reserves),
		})
	}
	return nil
}

func (m *Market) isSelf(other MarketView) bool {
	self, ok := other.(*Market)
	return ok && self == m
}
