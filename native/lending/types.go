package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

const moduleName = "lending"

// Clock exposes the host ledger height used for interest and reward accrual.
type Clock interface {
	BlockHeight() uint64
}

// Token is the underlying asset ledger a market custodies. Transfers move
// balances between addresses; fee-charging assets may credit the recipient
// with less than amount.
type Token interface {
	Symbol() string
	BalanceOf(account crypto.Address) *uint256.Int
	Transfer(from, to crypto.Address, amount *uint256.Int) error
}

// PriceOracle returns the 1e18-scaled price of a market's underlying asset.
// A zero price means the price is unavailable.
type PriceOracle interface {
	UnderlyingPrice(market crypto.Address) *uint256.Int
}

// MarketView is the read-only capability the risk engine holds on each
// listed market.
type MarketView interface {
	Address() crypto.Address
	Symbol() string
	RiskEngine() Controller
	AccountSnapshot(account crypto.Address) (shares, borrowBalance, exchangeRate *uint256.Int, err error)
	BalanceOf(account crypto.Address) *uint256.Int
	BorrowBalanceStored(account crypto.Address) (*uint256.Int, error)
	ExchangeRateStored() (*uint256.Int, error)
	BorrowIndex() *uint256.Int
	TotalBorrows() *uint256.Int
	TotalShares() *uint256.Int
	ReserveFactor() *uint256.Int
}

// CollateralMarket extends MarketView with the entry points a sibling market
// needs during liquidation. Seize is the only mutation the risk engine or a
// sibling can request.
type CollateralMarket interface {
	MarketView
	AccrueInterest() error
	AccrualHeight() uint64
	Seize(seizer MarketView, liquidator, borrower crypto.Address, shares *uint256.Int) error
}

// Controller is the policy surface a market consults before every balance
// change. Each hook receives the calling market itself so the implementation
// can verify the caller rather than trusting an address argument.
type Controller interface {
	MintAllowed(market MarketView, minter crypto.Address, amount *uint256.Int) error
	RedeemAllowed(market MarketView, redeemer crypto.Address, shares *uint256.Int) error
	RedeemVerify(market MarketView, redeemer crypto.Address, amount, shares *uint256.Int) error
	BorrowAllowed(market MarketView, borrower crypto.Address, amount *uint256.Int) error
	BorrowBehalfAllowed(market MarketView, sender, borrower crypto.Address, amount *uint256.Int) error
	RepayBorrowAllowed(market MarketView, payer, borrower crypto.Address, amount *uint256.Int) error
	LiquidateBorrowAllowed(borrowed, collateral MarketView, liquidator, borrower crypto.Address, repay *uint256.Int) error
	LiquidateCalculateSeizeShares(borrowed, collateral MarketView, repay *uint256.Int) (*uint256.Int, error)
	SeizeAllowed(collateral, borrowed MarketView, liquidator, borrower crypto.Address, shares *uint256.Int) error
	TransferAllowed(market MarketView, src, dst crypto.Address, shares *uint256.Int) error
}

// BorrowSnapshot records an account's principal and the market borrow index
// at its last debt change.
type BorrowSnapshot struct {
	Principal     *uint256.Int
	InterestIndex *uint256.Int
}

// RepayAmount selects either an exact repayment or the full current debt.
type RepayAmount struct {
	amount *uint256.Int
	full   bool
}

// RepayExact repays exactly amount.
func RepayExact(amount *uint256.Int) RepayAmount {
	return RepayAmount{amount: clone(amount)}
}

// RepayFull repays the borrower's entire current debt.
func RepayFull() RepayAmount { return RepayAmount{full: true} }

// IsFull reports whether the option requests the entire debt.
func (r RepayAmount) IsFull() bool { return r.full }

// Amount returns the exact amount, or nil for RepayFull.
func (r RepayAmount) Amount() *uint256.Int {
	if r.full {
		return nil
	}
	return orZero(r.amount)
}

// Revertible components can snapshot their mutable state. The returned
// function restores the snapshot.
type Revertible interface {
	Checkpoint() func()
}
