package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

// AccountLiquidity returns the surplus or shortfall of account across every
// entered market. At most one of the two is nonzero.
func (c *Comptroller) AccountLiquidity(account crypto.Address) (*uint256.Int, *uint256.Int, error) {
	return c.hypotheticalLiquidity(account, crypto.Address{}, nil, nil)
}

// HypotheticalAccountLiquidity evaluates account as if it redeemed
// redeemShares of modify and borrowed borrowAmount more from it.
func (c *Comptroller) HypotheticalAccountLiquidity(account, modify crypto.Address, redeemShares, borrowAmount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	return c.hypotheticalLiquidity(account, modify, redeemShares, borrowAmount)
}

func (c *Comptroller) hypotheticalLiquidity(account, modify crypto.Address, redeemShares, borrowAmount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	var a arith
	sumCollateral := new(uint256.Int)
	sumBorrow := new(uint256.Int)

	for _, addr := range c.s.membership.list(account) {
		entry, ok := c.s.markets[addr]
		if !ok || entry.market == nil {
			return nil, nil, ErrMembershipCorrupt
		}
		shares, borrow, rate, err := entry.market.AccountSnapshot(account)
		if err != nil {
			return nil, nil, err
		}
		price := c.price(addr)
		if price.IsZero() {
			return nil, nil, ErrZeroPrice
		}
		tokensToDenom := a.mulExp(a.mulExp(orZero(entry.collateralFactor), rate), price)
		sumCollateral = a.mulScalarTruncateAdd(tokensToDenom, shares, sumCollateral)
		sumBorrow = a.mulScalarTruncateAdd(price, borrow, sumBorrow)
		if addr == modify && !modify.IsZero() {
			sumBorrow = a.mulScalarTruncateAdd(tokensToDenom, orZero(redeemShares), sumBorrow)
			sumBorrow = a.mulScalarTruncateAdd(price, orZero(borrowAmount), sumBorrow)
		}
	}
	if a.err != nil {
		return nil, nil, a.err
	}
	if sumCollateral.Gt(sumBorrow) {
		return new(uint256.Int).Sub(sumCollateral, sumBorrow), new(uint256.Int), nil
	}
	return new(uint256.Int), new(uint256.Int).Sub(sumBorrow, sumCollateral), nil
}

// LiquidateCalculateSeizeShares converts a repayment in borrowed into shares
// of collateral including the liquidation incentive. A missing price is an
// error rather than a zero seize.
func (c *Comptroller) LiquidateCalculateSeizeShares(borrowed, collateral MarketView, repay *uint256.Int) (*uint256.Int, error) {
	if borrowed == nil || collateral == nil {
		return nil, ErrMarketNotListed
	}
	priceBorrowed := c.price(borrowed.Address())
	priceCollateral := c.price(collateral.Address())
	if priceBorrowed.IsZero() || priceCollateral.IsZero() {
		return nil, ErrZeroPrice
	}
	rate, err := collateral.ExchangeRateStored()
	if err != nil {
		return nil, err
	}
	var a arith
	numerator := a.mulExp(c.s.liquidationIncentive, priceBorrowed)
	denominator := a.mulExp(priceCollateral, rate)
	ratio := a.divExp(numerator, denominator)
	shares := a.mulScalarTruncate(ratio, orZero(repay))
	if a.err != nil {
		return nil, a.err
	}
	return shares, nil
}
