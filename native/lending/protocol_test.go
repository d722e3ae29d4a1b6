package lending

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

func TestExecuteRollsBackOnError(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	minter := makeAddress(crypto.AccountPrefix, 0x80)
	env.tokens["A"].mint(minter, n(100))
	env.sink.Drain()
	abort := errors.New("abort")

	err := env.exec(func() error {
		if _, err := a.Mint(minter, n(100)); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort, got %v", err)
	}
	requireEq(t, "shares", a.BalanceOf(minter), n(0))
	requireEq(t, "total shares", a.TotalShares(), n(0))
	requireEq(t, "minter underlying", env.tokens["A"].BalanceOf(minter), n(100))
	if got := env.sink.Drain(); len(got) != 0 {
		t.Fatalf("rolled back operation leaked %d records", len(got))
	}
	if env.p.Halted() != nil {
		t.Fatalf("caller error must not halt the host")
	}
}

func TestExecuteForgetsRolledBackMarkets(t *testing.T) {
	env, _, _ := twoMarketEnv(t)
	before := len(env.p.Markets())

	err := env.exec(func() error {
		model, err := env.p.NewRateModel("C", env.admin, flatRate())
		if err != nil {
			return err
		}
		if _, err := env.p.NewMarket(MarketParams{
			Symbol:              "C",
			Underlying:          newMockToken("C"),
			RateModel:           model,
			InitialExchangeRate: mantissaOne,
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatalf("expected abort")
	}
	if got := len(env.p.Markets()); got != before {
		t.Fatalf("expected %d markets, got %d", before, got)
	}
	if _, err := env.p.MarketBySymbol("C"); !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("rolled back market still registered: %v", err)
	}
	if _, ok := env.p.RateModel("C"); ok {
		t.Fatalf("rolled back rate model still registered")
	}
}

func TestFatalErrorHaltsHost(t *testing.T) {
	env, _, _ := twoMarketEnv(t)
	err := env.exec(func() error { return fmt.Errorf("accrue: %w", ErrMathOverflow) })
	requireErr(t, err, ErrMathOverflow)
	requireErr(t, env.p.Halted(), ErrMathOverflow)

	err = env.exec(func() error { return nil })
	requireErr(t, err, ErrHalted)
}

func TestPanicHaltsHost(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	minter := makeAddress(crypto.AccountPrefix, 0x81)
	env.tokens["A"].mint(minter, n(10))

	err := env.exec(func() error {
		if _, err := a.Mint(minter, n(10)); err != nil {
			return err
		}
		panic("boom")
	})
	requireErr(t, err, ErrHalted)
	requireEq(t, "shares", a.BalanceOf(minter), n(0))
	if !IsFatal(env.p.Halted()) {
		t.Fatalf("expected fatal halt, got %v", env.p.Halted())
	}
}

func TestBlockHeightNeverRegresses(t *testing.T) {
	p := NewProtocol(ProtocolOptions{Height: 10})
	if err := p.SetBlockHeight(12); err != nil {
		t.Fatalf("advance: %v", err)
	}
	requireErr(t, p.SetBlockHeight(11), ErrHeightRegressed)
	if p.BlockHeight() != 12 {
		t.Fatalf("height %d", p.BlockHeight())
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("market A: %w", ErrBorrowCapReached)
	if KindOf(wrapped) != KindLiquidity || CodeOf(wrapped) != "BorrowCapReached" {
		t.Fatalf("unexpected classification %s/%s", KindOf(wrapped), CodeOf(wrapped))
	}
	if KindOf(errors.New("other")) != KindUnknown || CodeOf(nil) != "" {
		t.Fatalf("foreign errors should be unknown")
	}
	if !IsFatal(ErrMembershipCorrupt) || IsFatal(ErrMintPaused) {
		t.Fatalf("fatal classification wrong")
	}
}

func populated(t *testing.T) *testEnv {
	t.Helper()
	env, a, b := rewardEnv(t, 10, 5)
	borrower := makeAddress(crypto.AccountPrefix, 0x82)
	spender := makeAddress(crypto.AccountPrefix, 0x83)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")
	env.mustExec(func() error { return b.Borrow(borrower, n(60)) })
	env.mustExec(func() error { return a.Approve(borrower, spender, n(7)) })
	env.mustExec(func() error { return env.c.SetPauseGuardian(env.admin, spender) })
	env.mustExec(func() error { return env.c.SetMintPaused(env.admin, b.Address(), true) })
	env.advance(6)
	claim(env, borrower)
	return env
}

func TestStateExportImport(t *testing.T) {
	source := populated(t)
	state, err := source.p.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(state.Markets) != 2 || len(state.RateModels) != 2 {
		t.Fatalf("unexpected state shape: %d markets, %d models", len(state.Markets), len(state.RateModels))
	}

	target, _, _ := twoMarketEnv(t)
	if err := target.p.Import(state); err != nil {
		t.Fatalf("import: %v", err)
	}
	again, err := target.p.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if want, got := fmt.Sprintf("%+v", state), fmt.Sprintf("%+v", again); want != got {
		t.Fatalf("state changed across import:\nwant %s\ngot  %s", want, got)
	}

	borrower := makeAddress(crypto.AccountPrefix, 0x82)
	b, _ := target.p.MarketBySymbol("B")
	debt, _ := b.BorrowBalanceStored(borrower)
	requireEq(t, "debt", debt, n(60))
	if !target.c.CheckMembership(borrower, b.Address()) {
		t.Fatalf("membership not restored")
	}
	requireEq(t, "accrued", target.c.RewardAccrued(borrower), source.c.RewardAccrued(borrower))
	if target.p.BlockHeight() != source.p.BlockHeight() {
		t.Fatalf("height not restored")
	}
}

func TestImportRejectsInconsistentShares(t *testing.T) {
	source := populated(t)
	state, err := source.p.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	state.Markets[0].TotalShares = uint256.NewInt(1).ToBig()

	target, a, _ := twoMarketEnv(t)
	before := a.TotalShares()
	err = target.p.Import(state)
	requireErr(t, err, ErrTokenAccounting)
	requireEq(t, "total shares", a.TotalShares(), before)
	if target.p.BlockHeight() != 100 {
		t.Fatalf("height moved on failed import")
	}
}

func TestImportRejectsUnknownMarket(t *testing.T) {
	source := populated(t)
	state, err := source.p.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	state.Markets[0].Address = crypto.DeriveModuleAddress("market/ghost").String()

	target, _, _ := twoMarketEnv(t)
	requireErr(t, target.p.Import(state), ErrUnknownMarket)
}

const genesisTemplate = `
Admin = "%s"
CloseFactor = "0.5"
LiquidationIncentive = "1.08"
TrustedCaller = "%s"
RewardAsset = "RWD"

[[market]]
Symbol = "mUSD"
Name = "Money Market USD"
Decimals = 8
Underlying = "USD"
InitialExchangeRate = "0.02"
ReserveFactor = "0.1"
ProtocolSeizeShare = "0.028"
CollateralFactor = "0.75"
BorrowCap = "1000000"
SupplySpeed = "5"

  [market.rate_model]
  Name = "stable"
  BaseRatePerYear = "0.02"
  MultiplierPerYear = "0.1"
  JumpMultiplierPerYear = "2"
  Kink = "0.8"
  BlocksPerYear = 100

[[market]]
Symbol = "mEUR"
Underlying = "EUR"
InitialExchangeRate = "1"
CollateralFactor = "0.6"
BorrowSpeed = "3"

  [market.rate_model]
  Name = "stable"
`

func genesisDeps(t *testing.T) (Dependencies, map[string]*mockToken) {
	t.Helper()
	tokens := map[string]*mockToken{
		"USD": newMockToken("USD"),
		"EUR": newMockToken("EUR"),
		"RWD": newMockToken("RWD"),
	}
	oracle := newMockOracle()
	oracle.set(crypto.DeriveModuleAddress("market/mUSD"), mantissaOne)
	oracle.set(crypto.DeriveModuleAddress("market/mEUR"), Mantissa(11, 10))
	participants := make([]Revertible, 0, len(tokens))
	for _, token := range tokens {
		participants = append(participants, token)
	}
	deps := Dependencies{
		Assets: func(symbol string) (Token, error) {
			token, ok := tokens[strings.ToUpper(symbol)]
			if !ok {
				return nil, fmt.Errorf("unknown asset %s", symbol)
			}
			return token, nil
		},
		Oracle:       oracle,
		Sink:         &events.Buffer{},
		Height:       1,
		Participants: participants,
	}
	return deps, tokens
}

func TestBuildFromGenesis(t *testing.T) {
	admin := makeAddress(crypto.AccountPrefix, 0x90)
	trusted := makeAddress(crypto.AccountPrefix, 0x91)
	cfg, err := ParseConfig([]byte(fmt.Sprintf(genesisTemplate, admin, trusted)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	deps, tokens := genesisDeps(t)
	p, err := Build(cfg, deps)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	c := p.Comptroller()
	if c.Admin().Admin() != admin || c.TrustedCaller() != trusted {
		t.Fatalf("admin or trusted caller not applied")
	}
	requireEq(t, "close factor", c.CloseFactor(), Mantissa(5, 10))
	if c.RewardToken() != Token(tokens["RWD"]) {
		t.Fatalf("reward token not resolved")
	}

	usd, err := p.MarketBySymbol("mUSD")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if usd.Name() != "Money Market USD" || usd.Decimals() != 8 || usd.Underlying() != Token(tokens["USD"]) {
		t.Fatalf("unexpected market metadata %s/%d", usd.Name(), usd.Decimals())
	}
	requireEq(t, "initial rate", usd.InitialExchangeRate(), Mantissa(2, 100))
	requireEq(t, "reserve factor", usd.ReserveFactor(), Mantissa(1, 10))
	requireEq(t, "seize share", usd.ProtocolSeizeShare(), Mantissa(28, 1000))
	cfgUSD, ok := c.MarketConfig(usd.Address())
	if !ok || !cfgUSD.Listed {
		t.Fatalf("mUSD not listed")
	}
	requireEq(t, "collateral factor", cfgUSD.CollateralFactor, Mantissa(75, 100))
	requireEq(t, "borrow cap", cfgUSD.BorrowCap, n(1_000_000))
	requireEq(t, "supply speed", cfgUSD.SupplySpeed, n(5))

	eur, err := p.MarketBySymbol("meur")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if eur.RateModel() != usd.RateModel() {
		t.Fatalf("markets naming the same model should share it")
	}
	cfgEUR, _ := c.MarketConfig(eur.Address())
	requireEq(t, "borrow speed", cfgEUR.BorrowSpeed, n(3))

	model, ok := p.RateModel("stable")
	if !ok {
		t.Fatalf("rate model not registered")
	}
	base, multiplier, jump, _, _ := model.Params()
	requireEq(t, "base", base, n(200_000_000_000_000))
	requireEq(t, "multiplier", multiplier, n(1_000_000_000_000_000))
	requireEq(t, "jump", jump, n(20_000_000_000_000_000))
}

func TestBuildFailsAtomically(t *testing.T) {
	admin := makeAddress(crypto.AccountPrefix, 0x90)
	cfg, err := ParseConfig([]byte(fmt.Sprintf(genesisTemplate, admin, admin)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg.Markets[1].CollateralFactor = "0.95"
	deps, _ := genesisDeps(t)
	_, err = Build(cfg, deps)
	requireErr(t, err, ErrInvalidCollateralFactor)
	if !strings.Contains(err.Error(), "mEUR") {
		t.Fatalf("error should name the market: %v", err)
	}
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("Admin = \"x\"\nColateralFactor = \"0.5\"\n"))
	if err == nil || !strings.Contains(err.Error(), "ColateralFactor") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestParseMantissa(t *testing.T) {
	cases := []struct {
		in   string
		want *uint256.Int
	}{
		{in: "", want: n(0)},
		{in: "1", want: mantissaOne},
		{in: "0.75", want: Mantissa(75, 100)},
		{in: "0.0000000000000000019", want: n(1)},
	}
	for _, tc := range cases {
		got, err := ParseMantissa(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		requireEq(t, tc.in, got, tc.want)
	}
	for _, bad := range []string{"-1", "abc"} {
		if _, err := ParseMantissa(bad); !errors.Is(err, ErrInvalidArguments) {
			t.Fatalf("parse %q: expected invalid arguments, got %v", bad, err)
		}
	}
	if _, err := ParseAmount("1.5"); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("fractional amount accepted: %v", err)
	}
}
