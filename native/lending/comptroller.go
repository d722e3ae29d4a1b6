package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

var (
	closeFactorMin          = Mantissa(5, 100)
	closeFactorMax          = Mantissa(9, 10)
	collateralFactorMax     = Mantissa(9, 10)
	liquidationIncentiveMin = clone(mantissaOne)
	liquidationIncentiveMax = Mantissa(15, 10)

	defaultCloseFactor          = Mantissa(5, 10)
	defaultLiquidationIncentive = Mantissa(108, 100)
)

// Pause action labels used in audit records and module guard keys.
const (
	ActionMint      = "Mint"
	ActionBorrow    = "Borrow"
	ActionTransfer  = "Transfer"
	ActionSeize     = "Seize"
	actionRedeem    = "Redeem"
	actionRepay     = "Repay"
	actionLiquidate = "Liquidate"
)

// ComptrollerParams configures a risk engine.
type ComptrollerParams struct {
	// Address defaults to the module address "comptroller".
	Address              crypto.Address
	Admin                crypto.Address
	Oracle               PriceOracle
	CloseFactor          *uint256.Int
	LiquidationIncentive *uint256.Int
	// RewardToken is paid out of the risk engine's own balance.
	RewardToken Token

	Clock   Clock
	Emitter events.Emitter
	Pauses  nativecommon.PauseView
}

type marketEntry struct {
	market           CollateralMarket
	listed           bool
	collateralFactor *uint256.Int
	borrowCap        *uint256.Int
	mintPaused       bool
	borrowPaused     bool
}

type comptrollerState struct {
	admin                AdminHandover
	oracle               PriceOracle
	closeFactor          *uint256.Int
	liquidationIncentive *uint256.Int
	pauseGuardian        crypto.Address
	borrowCapGuardian    crypto.Address
	trustedCaller        crypto.Address
	transferPaused       bool
	seizePaused          bool

	markets    map[crypto.Address]marketEntry
	allMarkets []crypto.Address
	membership membershipIndex

	rewards flywheel
}

func (s *comptrollerState) clone() *comptrollerState {
	out := *s
	out.markets = make(map[crypto.Address]marketEntry, len(s.markets))
	for k, v := range s.markets {
		out.markets[k] = v
	}
	out.allMarkets = append([]crypto.Address(nil), s.allMarkets...)
	out.membership = s.membership.clone()
	out.rewards = s.rewards.clone()
	return &out
}

// Comptroller is the cross-market risk engine. Like Market it relies on the
// Protocol host for serialisation.
type Comptroller struct {
	address     crypto.Address
	clock       Clock
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	rewardToken Token

	s *comptrollerState
}

// NewComptroller constructs a risk engine with no listed markets.
func NewComptroller(params ComptrollerParams) (*Comptroller, error) {
	if params.Clock == nil {
		return nil, ErrInvalidArguments
	}
	addr := params.Address
	if addr.IsZero() {
		addr = crypto.DeriveModuleAddress("comptroller")
	}
	closeFactor := params.CloseFactor
	if closeFactor == nil {
		closeFactor = defaultCloseFactor
	}
	if closeFactor.Lt(closeFactorMin) || closeFactor.Gt(closeFactorMax) {
		return nil, ErrInvalidCloseFactor
	}
	incentive := params.LiquidationIncentive
	if incentive == nil {
		incentive = defaultLiquidationIncentive
	}
	if incentive.Lt(liquidationIncentiveMin) || incentive.Gt(liquidationIncentiveMax) {
		return nil, ErrInvalidLiquidationIncentive
	}
	emitter := params.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Comptroller{
		address:     addr,
		clock:       params.Clock,
		emitter:     emitter,
		pauses:      params.Pauses,
		rewardToken: params.RewardToken,
		s: &comptrollerState{
			admin:                NewAdminHandover(params.Admin),
			oracle:               params.Oracle,
			closeFactor:          clone(closeFactor),
			liquidationIncentive: clone(incentive),
			markets:              make(map[crypto.Address]marketEntry),
			membership:           newMembershipIndex(),
			rewards:              newFlywheel(),
		},
	}, nil
}

// Checkpoint implements Revertible.
func (c *Comptroller) Checkpoint() func() {
	saved := c.s.clone()
	return func() { c.s = saved }
}

// Address returns the risk engine's module address, which also holds the
// reward token balance.
func (c *Comptroller) Address() crypto.Address {
	if c == nil {
		return crypto.Address{}
	}
	return c.address
}

func (c *Comptroller) Admin() AdminHandover               { return c.s.admin }
func (c *Comptroller) Oracle() PriceOracle                { return c.s.oracle }
func (c *Comptroller) CloseFactor() *uint256.Int          { return clone(c.s.closeFactor) }
func (c *Comptroller) LiquidationIncentive() *uint256.Int { return clone(c.s.liquidationIncentive) }
func (c *Comptroller) PauseGuardian() crypto.Address      { return c.s.pauseGuardian }
func (c *Comptroller) BorrowCapGuardian() crypto.Address  { return c.s.borrowCapGuardian }
func (c *Comptroller) TrustedCaller() crypto.Address      { return c.s.trustedCaller }
func (c *Comptroller) TransferPaused() bool               { return c.s.transferPaused }
func (c *Comptroller) SeizePaused() bool                  { return c.s.seizePaused }
func (c *Comptroller) RewardToken() Token                 { return c.rewardToken }

// MarketConfig is the risk engine's view of one market.
type MarketConfig struct {
	Address          crypto.Address
	Listed           bool
	CollateralFactor *uint256.Int
	BorrowCap        *uint256.Int
	MintPaused       bool
	BorrowPaused     bool
	SupplySpeed      *uint256.Int
	BorrowSpeed      *uint256.Int
	Deprecated       bool
}

// Markets returns every listed market address in listing order.
func (c *Comptroller) Markets() []crypto.Address {
	return append([]crypto.Address(nil), c.s.allMarkets...)
}

// Market returns the listed market at addr.
func (c *Comptroller) Market(addr crypto.Address) (CollateralMarket, bool) {
	entry, ok := c.s.markets[addr]
	if !ok || !entry.listed {
		return nil, false
	}
	return entry.market, true
}

// MarketConfig returns the configuration of addr.
func (c *Comptroller) MarketConfig(addr crypto.Address) (MarketConfig, bool) {
	entry, ok := c.s.markets[addr]
	if !ok {
		return MarketConfig{}, false
	}
	return MarketConfig{
		Address:          addr,
		Listed:           entry.listed,
		CollateralFactor: clone(entry.collateralFactor),
		BorrowCap:        clone(entry.borrowCap),
		MintPaused:       entry.mintPaused,
		BorrowPaused:     entry.borrowPaused,
		SupplySpeed:      clone(c.s.rewards.supplySpeeds[addr]),
		BorrowSpeed:      clone(c.s.rewards.borrowSpeeds[addr]),
		Deprecated:       c.isDeprecated(entry),
	}, true
}

// IsDeprecated reports whether addr is configured for unconditional
// liquidation: zero collateral factor, borrowing paused and a 100% reserve
// factor.
func (c *Comptroller) IsDeprecated(addr crypto.Address) bool {
	entry, ok := c.s.markets[addr]
	return ok && c.isDeprecated(entry)
}

func (c *Comptroller) isDeprecated(entry marketEntry) bool {
	if entry.market == nil {
		return false
	}
	return orZero(entry.collateralFactor).IsZero() &&
		entry.borrowPaused &&
		entry.market.ReserveFactor().Eq(mantissaOne)
}

// listedEntry returns the entry for market after confirming the caller is the
// exact object listed under its address and answers to this risk engine.
func (c *Comptroller) listedEntry(market MarketView) (marketEntry, error) {
	if market == nil {
		return marketEntry{}, ErrMarketNotListed
	}
	entry, ok := c.s.markets[market.Address()]
	if !ok || !entry.listed {
		return marketEntry{}, ErrMarketNotListed
	}
	if MarketView(entry.market) != market {
		return marketEntry{}, ErrMarketIdentity
	}
	if !c.owns(market) {
		return marketEntry{}, ErrComptrollerMismatch
	}
	return entry, nil
}

func (c *Comptroller) owns(market MarketView) bool {
	engine, ok := market.RiskEngine().(*Comptroller)
	return ok && engine == c
}

func (c *Comptroller) price(market crypto.Address) *uint256.Int {
	if c.s.oracle == nil {
		return new(uint256.Int)
	}
	return orZero(c.s.oracle.UnderlyingPrice(market))
}

func (c *Comptroller) guard(action string) error {
	if err := nativecommon.GuardAction(c.pauses, moduleName, action); err != nil {
		return ErrModulePaused
	}
	return nil
}

// AssetsIn returns the markets account has entered.
func (c *Comptroller) AssetsIn(account crypto.Address) []crypto.Address {
	return c.s.membership.list(account)
}

// CheckMembership reports whether account has entered market.
func (c *Comptroller) CheckMembership(account, market crypto.Address) bool {
	return c.s.membership.has(account, market)
}

// EnterMarkets adds each market to account's collateral set. Entering a
// market twice is a no-op.
func (c *Comptroller) EnterMarkets(account crypto.Address, markets []crypto.Address) error {
	for _, addr := range markets {
		entry, ok := c.s.markets[addr]
		if !ok || !entry.listed {
			return ErrMarketNotListed
		}
	}
	for _, addr := range markets {
		c.addToMarket(account, addr)
	}
	return nil
}

func (c *Comptroller) addToMarket(account, market crypto.Address) {
	if c.s.membership.add(account, market) {
		c.emitter.Emit(events.LendingMembership{Market: market, Account: account})
	}
}

// ExitMarket removes market from account's collateral set. The account must
// have no debt there and must remain solvent without the collateral.
func (c *Comptroller) ExitMarket(account, market crypto.Address) error {
	entry, ok := c.s.markets[market]
	if !ok || !entry.listed {
		return ErrMarketNotListed
	}
	shares, borrow, _, err := entry.market.AccountSnapshot(account)
	if err != nil {
		return err
	}
	if !borrow.IsZero() {
		return ErrNonzeroBorrowBalance
	}
	if err := c.redeemAllowedInternal(entry.market, account, shares); err != nil {
		return err
	}
	removed, err := c.s.membership.remove(account, market)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if err := c.s.membership.verify(account); err != nil {
		return err
	}
	c.emitter.Emit(events.LendingMembership{Market: market, Account: account, Exited: true})
	return nil
}
