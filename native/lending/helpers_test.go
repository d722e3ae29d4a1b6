package lending

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func n(v uint64) *uint256.Int { return uint256.NewInt(v) }

// e18 returns v whole units at 1e18 scale.
func e18(v uint64) *uint256.Int { return new(uint256.Int).Mul(n(v), expScale) }

var errMockTransfer = errors.New("mock token: insufficient balance")

// mockToken is an in-memory asset ledger with an optional transfer fee.
type mockToken struct {
	symbol     string
	feeBps     uint64
	balances   map[crypto.Address]*uint256.Int
	onTransfer func() error
}

func newMockToken(symbol string) *mockToken {
	return &mockToken{symbol: symbol, balances: make(map[crypto.Address]*uint256.Int)}
}

func (t *mockToken) Symbol() string { return t.symbol }

func (t *mockToken) BalanceOf(account crypto.Address) *uint256.Int {
	return clone(t.balances[account])
}

func (t *mockToken) Transfer(from, to crypto.Address, amount *uint256.Int) error {
	if t.onTransfer != nil {
		if err := t.onTransfer(); err != nil {
			return err
		}
	}
	balance := orZero(t.balances[from])
	if balance.Lt(amount) {
		return errMockTransfer
	}
	fee := new(uint256.Int).Div(new(uint256.Int).Mul(amount, n(t.feeBps)), n(10_000))
	t.balances[from] = new(uint256.Int).Sub(balance, amount)
	t.balances[to] = new(uint256.Int).Add(orZero(t.balances[to]), new(uint256.Int).Sub(amount, fee))
	return nil
}

func (t *mockToken) mint(to crypto.Address, amount *uint256.Int) {
	t.balances[to] = new(uint256.Int).Add(orZero(t.balances[to]), amount)
}

func (t *mockToken) Checkpoint() func() {
	saved := make(map[crypto.Address]*uint256.Int, len(t.balances))
	for k, v := range t.balances {
		saved[k] = v
	}
	return func() { t.balances = saved }
}

type mockOracle struct {
	prices map[crypto.Address]*uint256.Int
}

func newMockOracle() *mockOracle {
	return &mockOracle{prices: make(map[crypto.Address]*uint256.Int)}
}

func (o *mockOracle) UnderlyingPrice(market crypto.Address) *uint256.Int {
	return clone(o.prices[market])
}

func (o *mockOracle) set(market crypto.Address, price *uint256.Int) {
	o.prices[market] = clone(price)
}

// manualClock is a Clock for tests that drive markets without a Protocol.
type manualClock struct{ height uint64 }

func (c *manualClock) BlockHeight() uint64 { return c.height }

type testEnv struct {
	t       *testing.T
	p       *Protocol
	c       *Comptroller
	oracle  *mockOracle
	reward  *mockToken
	sink    *events.Buffer
	admin   crypto.Address
	markets map[string]*Market
	tokens  map[string]*mockToken
}

type marketSetup struct {
	symbol           string
	price            *uint256.Int
	collateralFactor *uint256.Int
	reserveFactor    *uint256.Int
	rate             JumpRateParams
}

// flatRate is a zero-interest model so balances stay put across blocks.
func flatRate() JumpRateParams {
	return JumpRateParams{Kink: Mantissa(8, 10), BlocksPerYear: 1}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:       t,
		oracle:  newMockOracle(),
		reward:  newMockToken("RWD"),
		sink:    &events.Buffer{},
		admin:   makeAddress(crypto.AccountPrefix, 0xAD),
		markets: make(map[string]*Market),
		tokens:  make(map[string]*mockToken),
	}
	env.p = NewProtocol(ProtocolOptions{Height: 100, Sink: env.sink})
	env.p.Register(env.reward)
	env.mustExec(func() error {
		c, err := env.p.NewComptroller(ComptrollerParams{Admin: env.admin, Oracle: env.oracle, RewardToken: env.reward})
		env.c = c
		return err
	})
	return env
}

func (env *testEnv) exec(fn func() error) error {
	return env.p.Execute(fn)
}

func (env *testEnv) mustExec(fn func() error) {
	env.t.Helper()
	if err := env.p.Execute(fn); err != nil {
		env.t.Fatalf("execute: %v", err)
	}
}

func (env *testEnv) addMarket(setup marketSetup) *Market {
	env.t.Helper()
	token := newMockToken(setup.symbol)
	env.p.Register(token)
	var m *Market
	env.mustExec(func() error {
		model, err := env.p.NewRateModel(setup.symbol, env.admin, setup.rate)
		if err != nil {
			return err
		}
		m, err = env.p.NewMarket(MarketParams{
			Symbol:              setup.symbol,
			Underlying:          token,
			RateModel:           model,
			InitialExchangeRate: clone(mantissaOne),
			ReserveFactor:       setup.reserveFactor,
			Admin:               env.admin,
		})
		if err != nil {
			return err
		}
		if err := env.c.SupportMarket(env.admin, m); err != nil {
			return err
		}
		if setup.price != nil {
			env.oracle.set(m.Address(), setup.price)
		}
		if setup.collateralFactor != nil {
			return env.c.SetCollateralFactor(env.admin, m.Address(), setup.collateralFactor)
		}
		return nil
	})
	env.markets[setup.symbol] = m
	env.tokens[setup.symbol] = token
	return m
}

func (env *testEnv) advance(blocks uint64) {
	env.t.Helper()
	if err := env.p.SetBlockHeight(env.p.BlockHeight() + blocks); err != nil {
		env.t.Fatalf("advance: %v", err)
	}
}

func (env *testEnv) supply(symbol string, account crypto.Address, amount *uint256.Int) {
	env.t.Helper()
	env.tokens[symbol].mint(account, amount)
	env.mustExec(func() error {
		_, err := env.markets[symbol].Mint(account, amount)
		return err
	})
}

func (env *testEnv) enter(account crypto.Address, symbols ...string) {
	env.t.Helper()
	addrs := make([]crypto.Address, len(symbols))
	for i, symbol := range symbols {
		addrs[i] = env.markets[symbol].Address()
	}
	env.mustExec(func() error { return env.c.EnterMarkets(account, addrs) })
}

// twoMarketEnv lists a collateral market A (cf 0.8, price 1) and a debt
// market B (price 1) with 1000 units of B liquidity.
func twoMarketEnv(t *testing.T) (*testEnv, *Market, *Market) {
	t.Helper()
	env := newTestEnv(t)
	a := env.addMarket(marketSetup{symbol: "A", price: mantissaOne, collateralFactor: Mantissa(8, 10), rate: flatRate()})
	b := env.addMarket(marketSetup{symbol: "B", price: mantissaOne, collateralFactor: Mantissa(5, 10), rate: flatRate()})
	env.supply("B", makeAddress(crypto.AccountPrefix, 0x50), n(1000))
	return env, a, b
}

func requireErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func requireEq(t *testing.T, label string, got, want *uint256.Int) {
	t.Helper()
	if !orZero(got).Eq(want) {
		t.Fatalf("%s: expected %s, got %s", label, want.Dec(), orZero(got).Dec())
	}
}

func committed(env *testEnv, eventType string) []events.Event {
	var out []events.Event
	for _, evt := range env.sink.Drain() {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}
