package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// initialIndex is the starting reward index of every market side. Accounts
// first seen with a zero index are treated as having started here.
var initialIndex = clone(doubleScale)

const (
	SideSupply = "supply"
	SideBorrow = "borrow"
)

type indexState struct {
	index  *uint256.Int
	height uint64
}

type rewardKey struct {
	market  crypto.Address
	account crypto.Address
}

// flywheel holds reward distribution state. Indices are 1e36 scaled.
type flywheel struct {
	supplySpeeds  map[crypto.Address]*uint256.Int
	borrowSpeeds  map[crypto.Address]*uint256.Int
	supplyState   map[crypto.Address]indexState
	borrowState   map[crypto.Address]indexState
	supplierIndex map[rewardKey]*uint256.Int
	borrowerIndex map[rewardKey]*uint256.Int
	accrued       map[crypto.Address]*uint256.Int
}

func newFlywheel() flywheel {
	return flywheel{
		supplySpeeds:  make(map[crypto.Address]*uint256.Int),
		borrowSpeeds:  make(map[crypto.Address]*uint256.Int),
		supplyState:   make(map[crypto.Address]indexState),
		borrowState:   make(map[crypto.Address]indexState),
		supplierIndex: make(map[rewardKey]*uint256.Int),
		borrowerIndex: make(map[rewardKey]*uint256.Int),
		accrued:       make(map[crypto.Address]*uint256.Int),
	}
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	out := make(map[K]V, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (f flywheel) clone() flywheel {
	return flywheel{
		supplySpeeds:  copyMap(f.supplySpeeds),
		borrowSpeeds:  copyMap(f.borrowSpeeds),
		supplyState:   copyMap(f.supplyState),
		borrowState:   copyMap(f.borrowState),
		supplierIndex: copyMap(f.supplierIndex),
		borrowerIndex: copyMap(f.borrowerIndex),
		accrued:       copyMap(f.accrued),
	}
}

func (f flywheel) initMarket(market crypto.Address, height uint64) {
	for _, states := range []map[crypto.Address]indexState{f.supplyState, f.borrowState} {
		st := states[market]
		if orZero(st.index).IsZero() {
			st.index = clone(initialIndex)
		}
		st.height = height
		states[market] = st
	}
}

// advance adds speed*elapsed/weight to the index. The checkpoint always moves
// to height even when nothing is added.
func advance(st indexState, speed, weight *uint256.Int, height uint64) (indexState, error) {
	if height < st.height {
		return st, ErrHeightRegressed
	}
	elapsed := height - st.height
	if elapsed == 0 {
		return st, nil
	}
	if !orZero(speed).IsZero() {
		var a arith
		accrued := a.mul(u(elapsed), speed)
		ratio := new(uint256.Int)
		if !weight.IsZero() {
			ratio = a.fraction(accrued, weight)
		}
		index := a.add(orZero(st.index), ratio)
		if a.err != nil {
			return st, a.err
		}
		st.index = index
	}
	st.height = height
	return st, nil
}

func (c *Comptroller) updateSupplyIndex(market MarketView) error {
	addr := market.Address()
	st, err := advance(c.s.rewards.supplyState[addr], c.s.rewards.supplySpeeds[addr], market.TotalShares(), c.clock.BlockHeight())
	if err != nil {
		return err
	}
	c.s.rewards.supplyState[addr] = st
	return nil
}

func (c *Comptroller) updateBorrowIndex(market MarketView) error {
	addr := market.Address()
	var a arith
	weight := a.divExp(market.TotalBorrows(), market.BorrowIndex())
	if a.err != nil {
		return a.err
	}
	st, err := advance(c.s.rewards.borrowState[addr], c.s.rewards.borrowSpeeds[addr], weight, c.clock.BlockHeight())
	if err != nil {
		return err
	}
	c.s.rewards.borrowState[addr] = st
	return nil
}

// credit moves an account's index up to marketIndex and adds the reward for
// weight over the gap to its accrued balance.
func (c *Comptroller) credit(indices map[rewardKey]*uint256.Int, side string, market, account crypto.Address, marketIndex, weight *uint256.Int) error {
	key := rewardKey{market: market, account: account}
	accountIndex := orZero(indices[key])
	if accountIndex.IsZero() && !marketIndex.Lt(initialIndex) {
		accountIndex = initialIndex
	}
	var a arith
	delta := a.mulDouble(weight, a.sub(marketIndex, accountIndex))
	total := a.add(orZero(c.s.rewards.accrued[account]), delta)
	if a.err != nil {
		return a.err
	}
	indices[key] = clone(marketIndex)
	c.s.rewards.accrued[account] = total
	if !delta.IsZero() {
		c.emitter.Emit(events.RewardDistributed{Market: market, Side: side, Account: account, Delta: delta, Index: clone(marketIndex)})
	}
	return nil
}

func (c *Comptroller) distributeSupplier(market MarketView, supplier crypto.Address) error {
	addr := market.Address()
	st := c.s.rewards.supplyState[addr]
	return c.credit(c.s.rewards.supplierIndex, SideSupply, addr, supplier, orZero(st.index), market.BalanceOf(supplier))
}

func (c *Comptroller) distributeBorrower(market MarketView, borrower crypto.Address) error {
	addr := market.Address()
	st := c.s.rewards.borrowState[addr]
	borrow, err := market.BorrowBalanceStored(borrower)
	if err != nil {
		return err
	}
	var a arith
	weight := a.divExp(borrow, market.BorrowIndex())
	if a.err != nil {
		return a.err
	}
	return c.credit(c.s.rewards.borrowerIndex, SideBorrow, addr, borrower, orZero(st.index), weight)
}

// SetRewardSpeeds sets per-block reward emission for each market side. The
// affected index is brought current before the speed changes.
func (c *Comptroller) SetRewardSpeeds(caller crypto.Address, markets []crypto.Address, supplySpeeds, borrowSpeeds []*uint256.Int) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if len(markets) == 0 || len(markets) != len(supplySpeeds) || len(markets) != len(borrowSpeeds) {
		return ErrInvalidArguments
	}
	for i, addr := range markets {
		entry, ok := c.s.markets[addr]
		if !ok || !entry.listed {
			return ErrMarketNotListed
		}
		supply, borrow := orZero(supplySpeeds[i]), orZero(borrowSpeeds[i])
		if !supply.Eq(orZero(c.s.rewards.supplySpeeds[addr])) {
			if err := c.updateSupplyIndex(entry.market); err != nil {
				return err
			}
			c.s.rewards.supplySpeeds[addr] = clone(supply)
			c.emitter.Emit(events.RewardSpeedUpdated{Market: addr, Side: SideSupply, Speed: clone(supply)})
		}
		if !borrow.Eq(orZero(c.s.rewards.borrowSpeeds[addr])) {
			if err := c.updateBorrowIndex(entry.market); err != nil {
				return err
			}
			c.s.rewards.borrowSpeeds[addr] = clone(borrow)
			c.emitter.Emit(events.RewardSpeedUpdated{Market: addr, Side: SideBorrow, Speed: clone(borrow)})
		}
	}
	return nil
}

// RewardAccrued returns the unclaimed reward balance of account.
func (c *Comptroller) RewardAccrued(account crypto.Address) *uint256.Int {
	return clone(c.s.rewards.accrued[account])
}

// RewardIndex returns the current index and checkpoint height of one side of
// a market.
func (c *Comptroller) RewardIndex(market crypto.Address, side string) (*uint256.Int, uint64) {
	states := c.s.rewards.supplyState
	if side == SideBorrow {
		states = c.s.rewards.borrowState
	}
	st := states[market]
	return clone(st.index), st.height
}

// ClaimRewards distributes holder's rewards in every market and pays out the
// accrued balance if the risk engine holds enough. It returns the amount paid.
func (c *Comptroller) ClaimRewards(holder crypto.Address) (*uint256.Int, error) {
	paid, err := c.claim([]crypto.Address{holder}, c.s.allMarkets, true, true)
	if err != nil {
		return nil, err
	}
	return orZero(paid[holder]), nil
}

// ClaimRewardsIn distributes the selected sides of markets to holders and
// pays out each holder's accrued balance where holdings allow.
func (c *Comptroller) ClaimRewardsIn(holders, markets []crypto.Address, borrowers, suppliers bool) error {
	_, err := c.claim(holders, markets, borrowers, suppliers)
	return err
}

func (c *Comptroller) claim(holders, markets []crypto.Address, borrowers, suppliers bool) (map[crypto.Address]*uint256.Int, error) {
	for _, addr := range markets {
		entry, ok := c.s.markets[addr]
		if !ok || !entry.listed {
			return nil, ErrMarketNotListed
		}
		if borrowers {
			if err := c.updateBorrowIndex(entry.market); err != nil {
				return nil, err
			}
			for _, holder := range holders {
				if err := c.distributeBorrower(entry.market, holder); err != nil {
					return nil, err
				}
			}
		}
		if suppliers {
			if err := c.updateSupplyIndex(entry.market); err != nil {
				return nil, err
			}
			for _, holder := range holders {
				if err := c.distributeSupplier(entry.market, holder); err != nil {
					return nil, err
				}
			}
		}
	}
	paid := make(map[crypto.Address]*uint256.Int, len(holders))
	for _, holder := range holders {
		owed := orZero(c.s.rewards.accrued[holder])
		remaining, err := c.grant(holder, owed)
		if err != nil {
			return nil, err
		}
		c.s.rewards.accrued[holder] = remaining
		paid[holder] = new(uint256.Int).Sub(owed, remaining)
	}
	return paid, nil
}

// grant pays amount to recipient from the risk engine's reward holdings. When
// holdings fall short nothing moves and the whole amount is returned as
// unfulfilled.
func (c *Comptroller) grant(recipient crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	if c.rewardToken == nil {
		return clone(amount), nil
	}
	holdings := orZero(c.rewardToken.BalanceOf(c.address))
	if amount.Gt(holdings) {
		return clone(amount), nil
	}
	if err := c.rewardToken.Transfer(c.address, recipient, amount); err != nil {
		return nil, err
	}
	return new(uint256.Int), nil
}

// GrantReward pays amount of reward tokens to recipient outside the
// flywheel. It fails when holdings cannot cover the full amount.
func (c *Comptroller) GrantReward(caller, recipient crypto.Address, amount *uint256.Int) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	remaining, err := c.grant(recipient, orZero(amount))
	if err != nil {
		return err
	}
	if !remaining.IsZero() {
		return ErrInsufficientRewards
	}
	c.emitter.Emit(events.RewardGranted{Recipient: recipient, Amount: clone(amount)})
	return nil
}
