package lending

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// borrowRateMax caps the per-block borrow rate (0.0005% per block).
var borrowRateMax = uint256.NewInt(5_000_000_000_000)

// MarketParams configures a new Market.
type MarketParams struct {
	Name     string
	Symbol   string
	Decimals uint8
	// Address defaults to the module address derived from the symbol.
	Address crypto.Address

	Underlying          Token
	Controller          Controller
	RateModel           InterestRateModel
	InitialExchangeRate *uint256.Int
	ReserveFactor       *uint256.Int
	Admin               crypto.Address

	Clock   Clock
	Emitter events.Emitter
}

type allowanceKey struct {
	owner   crypto.Address
	spender crypto.Address
}

// marketLedger is the mutable state of a Market. Stored *uint256.Int values
// are never mutated in place, so a shallow copy of the maps is a snapshot.
type marketLedger struct {
	totalShares        *uint256.Int
	totalBorrows       *uint256.Int
	totalReserves      *uint256.Int
	borrowIndex        *uint256.Int
	accrualHeight      uint64
	reserveFactor      *uint256.Int
	protocolSeizeShare *uint256.Int

	shares     map[crypto.Address]*uint256.Int
	borrows    map[crypto.Address]BorrowSnapshot
	allowances map[allowanceKey]*uint256.Int

	admin      AdminHandover
	controller Controller
	rateModel  InterestRateModel
}

func (l *marketLedger) clone() *marketLedger {
	out := *l
	out.shares = make(map[crypto.Address]*uint256.Int, len(l.shares))
	for k, v := range l.shares {
		out.shares[k] = v
	}
	out.borrows = make(map[crypto.Address]BorrowSnapshot, len(l.borrows))
	for k, v := range l.borrows {
		out.borrows[k] = v
	}
	out.allowances = make(map[allowanceKey]*uint256.Int, len(l.allowances))
	for k, v := range l.allowances {
		out.allowances[k] = v
	}
	return &out
}

// Market is the ledger and action surface of one listed asset. A Market is
// not safe for concurrent use; the Protocol host serialises access.
type Market struct {
	address             crypto.Address
	name                string
	symbol              string
	decimals            uint8
	underlying          Token
	initialExchangeRate *uint256.Int

	clock   Clock
	emitter events.Emitter

	entered bool
	// hook is the policy check the market is asking its risk engine for
	// while that call is in flight. seizing is the seize a liquidation run
	// by this market expects from its collateral market.
	hook    string
	seizing *seizeTicket
	l       *marketLedger
}

// seizeTicket authorizes exactly one seize of shares from borrower to
// liquidator in the collateral market.
type seizeTicket struct {
	collateral crypto.Address
	liquidator crypto.Address
	borrower   crypto.Address
	shares     *uint256.Int
}

func (t *seizeTicket) matches(collateral, liquidator, borrower crypto.Address, shares *uint256.Int) bool {
	return t != nil && t.collateral == collateral && t.liquidator == liquidator &&
		t.borrower == borrower && orZero(shares).Eq(t.shares)
}

// MarketAddress returns the address a market listed under symbol receives
// when none is configured.
func MarketAddress(symbol string) crypto.Address {
	return crypto.DeriveModuleAddress("market/" + strings.TrimSpace(symbol))
}

// NewMarket constructs a market with its immutable underlying asset and
// initial exchange rate. Accrual starts at the current clock height.
func NewMarket(params MarketParams) (*Market, error) {
	symbol := strings.TrimSpace(params.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: market symbol required", ErrInvalidArguments)
	}
	if params.Underlying == nil || params.Clock == nil || params.RateModel == nil || params.Controller == nil {
		return nil, fmt.Errorf("%w: underlying, clock, rate model and risk engine required", ErrInvalidArguments)
	}
	if orZero(params.InitialExchangeRate).IsZero() {
		return nil, ErrInvalidExchangeRate
	}
	reserveFactor := orZero(params.ReserveFactor)
	if reserveFactor.Gt(mantissaOne) {
		return nil, ErrInvalidReserveFactor
	}
	addr := params.Address
	if addr.IsZero() {
		addr = MarketAddress(symbol)
	}
	emitter := params.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = symbol
	}
	return &Market{
		address:             addr,
		name:                name,
		symbol:              symbol,
		decimals:            params.Decimals,
		underlying:          params.Underlying,
		initialExchangeRate: clone(params.InitialExchangeRate),
		clock:               params.Clock,
		emitter:             emitter,
		l: &marketLedger{
			totalShares:        new(uint256.Int),
			totalBorrows:       new(uint256.Int),
			totalReserves:      new(uint256.Int),
			borrowIndex:        clone(mantissaOne),
			accrualHeight:      params.Clock.BlockHeight(),
			reserveFactor:      clone(reserveFactor),
			protocolSeizeShare: new(uint256.Int),
			shares:             make(map[crypto.Address]*uint256.Int),
			borrows:            make(map[crypto.Address]BorrowSnapshot),
			allowances:         make(map[allowanceKey]*uint256.Int),
			admin:              NewAdminHandover(params.Admin),
			controller:         params.Controller,
			rateModel:          params.RateModel,
		},
	}, nil
}

// Checkpoint implements Revertible.
func (m *Market) Checkpoint() func() {
	saved := m.l.clone()
	return func() {
		m.l = saved
		m.entered = false
	}
}

// enter guards against a nested call into the same market.
func (m *Market) enter() (func(), error) {
	if m.entered {
		return func() {}, ErrReentered
	}
	m.entered = true
	return func() { m.entered = false }, nil
}

// ask runs check with the market marked as requesting action from its risk
// engine.
func (m *Market) ask(action string, check func() error) error {
	prev := m.hook
	m.hook = action
	defer func() { m.hook = prev }()
	return check()
}

func (m *Market) checkFresh() error {
	if m.l.accrualHeight != m.clock.BlockHeight() {
		return ErrMarketNotFresh
	}
	return nil
}

func (m *Market) Address() crypto.Address           { return m.address }
func (m *Market) Name() string                      { return m.name }
func (m *Market) Symbol() string                    { return m.symbol }
func (m *Market) Decimals() uint8                   { return m.decimals }
func (m *Market) Underlying() Token                 { return m.underlying }
func (m *Market) RiskEngine() Controller            { return m.l.controller }
func (m *Market) RateModel() InterestRateModel      { return m.l.rateModel }
func (m *Market) Admin() AdminHandover              { return m.l.admin }
func (m *Market) AccrualHeight() uint64             { return m.l.accrualHeight }
func (m *Market) InitialExchangeRate() *uint256.Int { return clone(m.initialExchangeRate) }
func (m *Market) BorrowIndex() *uint256.Int         { return clone(m.l.borrowIndex) }
func (m *Market) TotalBorrows() *uint256.Int        { return clone(m.l.totalBorrows) }
func (m *Market) TotalShares() *uint256.Int         { return clone(m.l.totalShares) }
func (m *Market) TotalReserves() *uint256.Int       { return clone(m.l.totalReserves) }
func (m *Market) ReserveFactor() *uint256.Int       { return clone(m.l.reserveFactor) }
func (m *Market) ProtocolSeizeShare() *uint256.Int  { return clone(m.l.protocolSeizeShare) }

// Cash returns the underlying held by the market.
func (m *Market) Cash() *uint256.Int {
	return orZero(m.underlying.BalanceOf(m.address))
}

// BalanceOf returns the share balance of account.
func (m *Market) BalanceOf(account crypto.Address) *uint256.Int {
	return clone(m.l.shares[account])
}

// Allowance returns the shares spender may move on behalf of owner.
func (m *Market) Allowance(owner, spender crypto.Address) *uint256.Int {
	return clone(m.l.allowances[allowanceKey{owner: owner, spender: spender}])
}

// BorrowSnapshot returns the raw debt record of account.
func (m *Market) BorrowSnapshot(account crypto.Address) BorrowSnapshot {
	snap := m.l.borrows[account]
	return BorrowSnapshot{Principal: clone(snap.Principal), InterestIndex: clone(snap.InterestIndex)}
}

// BorrowBalanceStored returns the debt of account at the last accrual.
func (m *Market) BorrowBalanceStored(account crypto.Address) (*uint256.Int, error) {
	snap, ok := m.l.borrows[account]
	if !ok || orZero(snap.Principal).IsZero() {
		return new(uint256.Int), nil
	}
	var a arith
	balance := a.div(a.mul(snap.Principal, m.l.borrowIndex), snap.InterestIndex)
	if a.err != nil {
		return nil, a.err
	}
	return balance, nil
}

// ExchangeRateStored returns the share to underlying rate at the last accrual.
func (m *Market) ExchangeRateStored() (*uint256.Int, error) {
	if m.l.totalShares.IsZero() {
		return clone(m.initialExchangeRate), nil
	}
	var a arith
	backing := a.sub(a.add(m.Cash(), m.l.totalBorrows), m.l.totalReserves)
	rate := a.divExp(backing, m.l.totalShares)
	if a.err != nil {
		return nil, a.err
	}
	return rate, nil
}

// AccountSnapshot returns the shares, stored borrow balance and stored
// exchange rate the risk engine uses for liquidity.
func (m *Market) AccountSnapshot(account crypto.Address) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	borrow, err := m.BorrowBalanceStored(account)
	if err != nil {
		return nil, nil, nil, err
	}
	rate, err := m.ExchangeRateStored()
	if err != nil {
		return nil, nil, nil, err
	}
	return m.BalanceOf(account), borrow, rate, nil
}

// ExchangeRateCurrent accrues interest and returns the exchange rate.
func (m *Market) ExchangeRateCurrent() (*uint256.Int, error) {
	if err := m.AccrueInterest(); err != nil {
		return nil, err
	}
	return m.ExchangeRateStored()
}

// BorrowBalanceCurrent accrues interest and returns the debt of account.
func (m *Market) BorrowBalanceCurrent(account crypto.Address) (*uint256.Int, error) {
	if err := m.AccrueInterest(); err != nil {
		return nil, err
	}
	return m.BorrowBalanceStored(account)
}

// TotalBorrowsCurrent accrues interest and returns total borrows.
func (m *Market) TotalBorrowsCurrent() (*uint256.Int, error) {
	if err := m.AccrueInterest(); err != nil {
		return nil, err
	}
	return m.TotalBorrows(), nil
}

// BalanceOfUnderlying accrues interest and returns the underlying value of
// the shares held by account.
func (m *Market) BalanceOfUnderlying(account crypto.Address) (*uint256.Int, error) {
	rate, err := m.ExchangeRateCurrent()
	if err != nil {
		return nil, err
	}
	var a arith
	value := a.mulScalarTruncate(rate, m.BalanceOf(account))
	if a.err != nil {
		return nil, a.err
	}
	return value, nil
}

// BorrowRatePerBlock returns the current per-block borrow rate.
func (m *Market) BorrowRatePerBlock() (*uint256.Int, error) {
	return m.l.rateModel.BorrowRate(m.Cash(), m.l.totalBorrows, m.l.totalReserves)
}

// SupplyRatePerBlock returns the current per-block supply rate.
func (m *Market) SupplyRatePerBlock() (*uint256.Int, error) {
	return m.l.rateModel.SupplyRate(m.Cash(), m.l.totalBorrows, m.l.totalReserves, m.l.reserveFactor)
}

// AccrueInterest applies simple interest from the last checkpoint to the
// current height. It is a no-op when already current.
func (m *Market) AccrueInterest() error {
	current := m.clock.BlockHeight()
	prior := m.l.accrualHeight
	if current == prior {
		return nil
	}
	if current < prior {
		return ErrHeightRegressed
	}
	cash := m.Cash()
	borrowsPrior := m.l.totalBorrows
	reservesPrior := m.l.totalReserves
	indexPrior := m.l.borrowIndex

	borrowRate, err := m.l.rateModel.BorrowRate(cash, borrowsPrior, reservesPrior)
	if err != nil {
		return fmt.Errorf("borrow rate: %w", err)
	}
	if borrowRate.Gt(borrowRateMax) {
		return ErrRateTooHigh
	}

	var a arith
	factor := a.mul(borrowRate, u(current-prior))
	interest := a.mulScalarTruncate(factor, borrowsPrior)
	borrowsNew := a.add(interest, borrowsPrior)
	reservesNew := a.mulScalarTruncateAdd(m.l.reserveFactor, interest, reservesPrior)
	indexNew := a.mulScalarTruncateAdd(factor, indexPrior, indexPrior)
	if a.err != nil {
		return a.err
	}

	m.l.accrualHeight = current
	m.l.borrowIndex = indexNew
	m.l.totalBorrows = borrowsNew
	m.l.totalReserves = reservesNew

	m.emitter.Emit(events.LendingAccrueInterest{
		Market:              m.address,
		CashPrior:           cash,
		InterestAccumulated: interest,
		BorrowIndex:         clone(indexNew),
		TotalBorrows:        clone(borrowsNew),
		Height:              current,
	})
	return nil
}

// transferIn pulls amount from the sender and returns what actually arrived,
// which is less than amount for fee-charging assets.
func (m *Market) transferIn(from crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	before := m.Cash()
	if err := m.underlying.Transfer(from, m.address, amount); err != nil {
		return nil, fmt.Errorf("transfer in: %w", err)
	}
	after := m.Cash()
	if after.Lt(before) {
		return nil, ErrTokenAccounting
	}
	return new(uint256.Int).Sub(after, before), nil
}

func (m *Market) transferOut(to crypto.Address, amount *uint256.Int) error {
	if err := m.underlying.Transfer(m.address, to, amount); err != nil {
		return fmt.Errorf("transfer out: %w", err)
	}
	return nil
}
