package lending

import (
	"testing"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

func TestMintIntoEmptyMarket(t *testing.T) {
	env := newTestEnv(t)
	a := env.addMarket(marketSetup{symbol: "A", price: mantissaOne, rate: flatRate()})
	minter := makeAddress(crypto.AccountPrefix, 0x01)

	env.supply("A", minter, n(100))

	requireEq(t, "total shares", a.TotalShares(), n(100))
	requireEq(t, "minter shares", a.BalanceOf(minter), n(100))
	requireEq(t, "cash", a.Cash(), n(100))
	mints := committed(env, events.TypeLendingMint)
	if len(mints) != 1 {
		t.Fatalf("expected one mint record, got %d", len(mints))
	}
}

func TestRedeemBeyondCashThenFull(t *testing.T) {
	env := newTestEnv(t)
	a := env.addMarket(marketSetup{symbol: "A", price: mantissaOne, rate: flatRate()})
	minter := makeAddress(crypto.AccountPrefix, 0x01)
	env.supply("A", minter, n(100))

	err := env.exec(func() error {
		_, err := a.Redeem(minter, n(101))
		return err
	})
	requireErr(t, err, ErrRedeemTransferOutNotPossible)

	var paid *uint256.Int
	env.mustExec(func() error {
		var err error
		paid, err = a.Redeem(minter, n(100))
		return err
	})
	requireEq(t, "paid", paid, n(100))
	requireEq(t, "cash", a.Cash(), n(0))
	requireEq(t, "total shares", a.TotalShares(), n(0))
	requireEq(t, "minter underlying", env.tokens["A"].BalanceOf(minter), n(100))
}

func TestMintRedeemRoundTrip(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	minter := makeAddress(crypto.AccountPrefix, 0x02)
	env.supply("B", minter, n(250))
	shares := b.BalanceOf(minter)

	var paid *uint256.Int
	env.mustExec(func() error {
		var err error
		paid, err = b.Redeem(minter, shares)
		return err
	})
	requireEq(t, "round trip", paid, n(250))
}

func TestRedeemUnderlyingBurnsShares(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	minter := makeAddress(crypto.AccountPrefix, 0x02)
	env.supply("B", minter, n(300))

	var burned *uint256.Int
	env.mustExec(func() error {
		var err error
		burned, err = b.RedeemUnderlying(minter, n(120))
		return err
	})
	requireEq(t, "burned", burned, n(120))
	requireEq(t, "remaining", b.BalanceOf(minter), n(180))
}

func TestMintRejectsZero(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	err := env.exec(func() error {
		_, err := a.Mint(makeAddress(crypto.AccountPrefix, 0x03), n(0))
		return err
	})
	requireErr(t, err, ErrInvalidAmount)
}

func TestMintPricesFeeOnTransferByReceivedAmount(t *testing.T) {
	env := newTestEnv(t)
	a := env.addMarket(marketSetup{symbol: "A", price: mantissaOne, rate: flatRate()})
	env.tokens["A"].feeBps = 100
	minter := makeAddress(crypto.AccountPrefix, 0x04)
	env.sink.Drain()

	env.supply("A", minter, n(1000))

	requireEq(t, "shares", a.BalanceOf(minter), n(990))
	requireEq(t, "cash", a.Cash(), n(990))
	mints := committed(env, events.TypeLendingMint)
	if len(mints) != 1 {
		t.Fatalf("expected one mint record, got %d", len(mints))
	}
	if got := mints[0].(events.LendingMint).Amount; !got.Eq(n(990)) {
		t.Fatalf("mint record amount: expected 990, got %s", got.Dec())
	}
}

func TestAccrueInterestAppliesSimpleInterest(t *testing.T) {
	env := newTestEnv(t)
	env.addMarket(marketSetup{symbol: "C", price: mantissaOne, collateralFactor: Mantissa(9, 10), rate: flatRate()})
	d := env.addMarket(marketSetup{
		symbol:        "D",
		price:         mantissaOne,
		reserveFactor: Mantissa(1, 10),
		rate: JumpRateParams{
			BaseRatePerYear: n(1_000_000_000_000),
			Kink:            Mantissa(8, 10),
			BlocksPerYear:   1,
		},
	})
	supplier := makeAddress(crypto.AccountPrefix, 0x05)
	borrower := makeAddress(crypto.AccountPrefix, 0x06)
	env.supply("D", supplier, e18(10))
	env.supply("C", borrower, e18(2))
	env.enter(borrower, "C")
	env.mustExec(func() error { return d.Borrow(borrower, e18(1)) })

	env.advance(10)
	env.mustExec(d.AccrueInterest)

	interest := n(10_000_000_000_000)
	requireEq(t, "total borrows", d.TotalBorrows(), new(uint256.Int).Add(e18(1), interest))
	requireEq(t, "reserves", d.TotalReserves(), n(1_000_000_000_000))
	requireEq(t, "borrow index", d.BorrowIndex(), new(uint256.Int).Add(mantissaOne, interest))
	balance, err := d.BorrowBalanceStored(borrower)
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	requireEq(t, "borrow balance", balance, new(uint256.Int).Add(e18(1), interest))
	rate, err := d.ExchangeRateStored()
	if err != nil {
		t.Fatalf("exchange rate: %v", err)
	}
	requireEq(t, "exchange rate", rate, new(uint256.Int).Add(mantissaOne, n(900_000_000_000)))
	if d.AccrualHeight() != env.p.BlockHeight() {
		t.Fatalf("accrual height %d, want %d", d.AccrualHeight(), env.p.BlockHeight())
	}
}

func TestAccrueInterestIsIdempotentWithinHeight(t *testing.T) {
	env := newTestEnv(t)
	env.addMarket(marketSetup{symbol: "C", price: mantissaOne, collateralFactor: Mantissa(9, 10), rate: flatRate()})
	d := env.addMarket(marketSetup{
		symbol: "D",
		price:  mantissaOne,
		rate:   JumpRateParams{BaseRatePerYear: n(1_000_000_000_000), Kink: Mantissa(8, 10), BlocksPerYear: 1},
	})
	borrower := makeAddress(crypto.AccountPrefix, 0x06)
	env.supply("D", makeAddress(crypto.AccountPrefix, 0x05), e18(10))
	env.supply("C", borrower, e18(2))
	env.enter(borrower, "C")
	env.mustExec(func() error { return d.Borrow(borrower, e18(1)) })
	env.advance(3)
	env.mustExec(d.AccrueInterest)
	env.sink.Drain()

	borrows, reserves, index := d.TotalBorrows(), d.TotalReserves(), d.BorrowIndex()
	env.mustExec(d.AccrueInterest)

	requireEq(t, "total borrows", d.TotalBorrows(), borrows)
	requireEq(t, "reserves", d.TotalReserves(), reserves)
	requireEq(t, "borrow index", d.BorrowIndex(), index)
	if got := committed(env, events.TypeLendingAccrueInterest); len(got) != 0 {
		t.Fatalf("expected no accrual record for second call, got %d", len(got))
	}
}

func TestAccrueInterestRejectsExcessiveRate(t *testing.T) {
	env := newTestEnv(t)
	r := env.addMarket(marketSetup{
		symbol: "R",
		price:  mantissaOne,
		rate:   JumpRateParams{BaseRatePerYear: e18(1000), Kink: Mantissa(8, 10), BlocksPerYear: 1},
	})
	supplier := makeAddress(crypto.AccountPrefix, 0x07)
	env.supply("R", supplier, n(500))
	env.sink.Drain()

	height, index := r.AccrualHeight(), r.BorrowIndex()
	borrows, reserves, shares := r.TotalBorrows(), r.TotalReserves(), r.TotalShares()
	env.advance(1)

	requireErr(t, env.exec(r.AccrueInterest), ErrRateTooHigh)
	env.tokens["R"].mint(supplier, n(10))
	err := env.exec(func() error {
		_, err := r.Mint(supplier, n(10))
		return err
	})
	requireErr(t, err, ErrRateTooHigh)

	if r.AccrualHeight() != height {
		t.Fatalf("accrual height moved to %d, want %d", r.AccrualHeight(), height)
	}
	requireEq(t, "borrow index", r.BorrowIndex(), index)
	requireEq(t, "total borrows", r.TotalBorrows(), borrows)
	requireEq(t, "reserves", r.TotalReserves(), reserves)
	requireEq(t, "total shares", r.TotalShares(), shares)
	requireEq(t, "cash", r.Cash(), n(500))
	if got := len(env.sink.Drain()); got != 0 {
		t.Fatalf("failed accrual committed %d events", got)
	}
	if env.p.Halted() != nil {
		t.Fatalf("excessive rate must not halt the protocol")
	}
}

func TestIndexAndExchangeRateNeverDecrease(t *testing.T) {
	env := newTestEnv(t)
	env.addMarket(marketSetup{symbol: "C", price: mantissaOne, collateralFactor: Mantissa(9, 10), rate: flatRate()})
	d := env.addMarket(marketSetup{
		symbol:        "D",
		price:         mantissaOne,
		reserveFactor: Mantissa(2, 10),
		rate: JumpRateParams{
			BaseRatePerYear:       n(500_000_000_000),
			MultiplierPerYear:     n(4_000_000_000_000),
			JumpMultiplierPerYear: n(4_000_000_000_000),
			Kink:                  Mantissa(5, 10),
			BlocksPerYear:         1,
		},
	})
	borrower := makeAddress(crypto.AccountPrefix, 0x06)
	env.supply("D", makeAddress(crypto.AccountPrefix, 0x05), e18(10))
	env.supply("C", borrower, e18(20))
	env.enter(borrower, "C")
	env.mustExec(func() error { return d.Borrow(borrower, e18(7)) })

	prevIndex := d.BorrowIndex()
	prevRate, _ := d.ExchangeRateStored()
	for i := 0; i < 5; i++ {
		env.advance(uint64(i + 1))
		env.mustExec(d.AccrueInterest)
		index := d.BorrowIndex()
		rate, err := d.ExchangeRateStored()
		if err != nil {
			t.Fatalf("exchange rate: %v", err)
		}
		if index.Lt(prevIndex) {
			t.Fatalf("borrow index decreased: %s -> %s", prevIndex.Dec(), index.Dec())
		}
		if rate.Lt(prevRate) {
			t.Fatalf("exchange rate decreased: %s -> %s", prevRate.Dec(), rate.Dec())
		}
		prevIndex, prevRate = index, rate
	}
	if !prevIndex.Gt(mantissaOne) {
		t.Fatalf("expected interest to accrue, index %s", prevIndex.Dec())
	}
}

func TestRepayFullClearsDebt(t *testing.T) {
	env, a, b := twoMarketEnv(t)
	_ = a
	borrower := makeAddress(crypto.AccountPrefix, 0x07)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")
	env.mustExec(func() error { return b.Borrow(borrower, n(80)) })

	err := env.exec(func() error {
		_, err := b.RepayBorrow(borrower, RepayExact(n(81)))
		return err
	})
	requireErr(t, err, ErrTooMuchRepay)

	var repaid *uint256.Int
	env.mustExec(func() error {
		var err error
		repaid, err = b.RepayBorrow(borrower, RepayFull())
		return err
	})
	requireEq(t, "repaid", repaid, n(80))
	balance, _ := b.BorrowBalanceStored(borrower)
	requireEq(t, "borrow balance", balance, n(0))
	requireEq(t, "total borrows", b.TotalBorrows(), n(0))
}

func TestRepayBorrowBehalf(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x07)
	payer := makeAddress(crypto.AccountPrefix, 0x08)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")
	env.mustExec(func() error { return b.Borrow(borrower, n(50)) })
	env.tokens["B"].mint(payer, n(20))

	env.mustExec(func() error {
		_, err := b.RepayBorrowBehalf(payer, borrower, RepayExact(n(20)))
		return err
	})
	balance, _ := b.BorrowBalanceStored(borrower)
	requireEq(t, "borrow balance", balance, n(30))
	requireEq(t, "payer underlying", env.tokens["B"].BalanceOf(payer), n(0))
	requireEq(t, "borrower underlying", env.tokens["B"].BalanceOf(borrower), n(50))
}

func TestBorrowChecks(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x09)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")

	err := env.exec(func() error { return b.Borrow(borrower, n(81)) })
	requireErr(t, err, ErrInsufficientLiquidity)

	whale := makeAddress(crypto.AccountPrefix, 0x0A)
	env.supply("A", whale, n(5000))
	env.enter(whale, "A")
	err = env.exec(func() error { return b.Borrow(whale, n(1001)) })
	requireErr(t, err, ErrBorrowCashNotAvailable)

	env.mustExec(func() error { return b.Borrow(borrower, n(80)) })
	if !env.c.CheckMembership(borrower, b.Address()) {
		t.Fatalf("borrower should be enrolled in the borrowed market")
	}
	requireEq(t, "borrower underlying", env.tokens["B"].BalanceOf(borrower), n(80))
}

func TestRedeemBlockedByShortfall(t *testing.T) {
	env, a, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x0B)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")
	env.mustExec(func() error { return b.Borrow(borrower, n(80)) })

	err := env.exec(func() error {
		_, err := a.Redeem(borrower, n(10))
		return err
	})
	requireErr(t, err, ErrInsufficientLiquidity)
	requireEq(t, "shares untouched", a.BalanceOf(borrower), n(100))
}

func TestRedeemRoundingToZeroSharesRejected(t *testing.T) {
	clock := &manualClock{height: 1}
	token := newMockToken("X")
	model, err := NewJumpRateModel("x", crypto.Address{}, flatRate(), nil)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	m, err := NewMarket(MarketParams{
		Symbol:              "X",
		Underlying:          token,
		Controller:          allowAll{},
		RateModel:           model,
		InitialExchangeRate: e18(2),
		Clock:               clock,
	})
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	minter := makeAddress(crypto.AccountPrefix, 0x0C)
	token.mint(minter, n(10))
	if _, err := m.Mint(minter, n(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err = m.RedeemUnderlying(minter, n(1))
	requireErr(t, err, ErrZeroRedeemShares)
}

func TestTransferAndAllowance(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	owner := makeAddress(crypto.AccountPrefix, 0x0D)
	spender := makeAddress(crypto.AccountPrefix, 0x0E)
	dst := makeAddress(crypto.AccountPrefix, 0x0F)
	env.supply("A", owner, n(100))

	env.mustExec(func() error { return a.Transfer(owner, dst, n(10)) })
	requireEq(t, "dst shares", a.BalanceOf(dst), n(10))

	err := env.exec(func() error { return a.Transfer(owner, owner, n(1)) })
	requireErr(t, err, ErrSelfTransfer)

	err = env.exec(func() error { return a.TransferFrom(spender, owner, dst, n(5)) })
	requireErr(t, err, ErrInsufficientAllowance)

	env.mustExec(func() error { return a.Approve(owner, spender, n(30)) })
	env.mustExec(func() error { return a.TransferFrom(spender, owner, dst, n(20)) })
	requireEq(t, "allowance", a.Allowance(owner, spender), n(10))
	requireEq(t, "owner shares", a.BalanceOf(owner), n(70))

	env.mustExec(func() error { return a.Approve(owner, owner, n(1)) })
	requireEq(t, "self allowance", a.Allowance(owner, owner), n(1))
	env.mustExec(func() error { return a.TransferFrom(owner, owner, dst, n(5)) })
	requireEq(t, "self allowance after own transfer", a.Allowance(owner, owner), n(1))
}

func TestTransferBlockedByShortfall(t *testing.T) {
	env, a, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x10)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")
	env.mustExec(func() error { return b.Borrow(borrower, n(80)) })

	err := env.exec(func() error { return a.Transfer(borrower, makeAddress(crypto.AccountPrefix, 0x11), n(10)) })
	requireErr(t, err, ErrInsufficientLiquidity)
}

func TestMarketAdminOperations(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	stranger := makeAddress(crypto.AccountPrefix, 0x12)

	err := env.exec(func() error { return a.SetReserveFactor(stranger, Mantissa(1, 10)) })
	requireErr(t, err, ErrUnauthorized)
	err = env.exec(func() error { return a.SetReserveFactor(env.admin, e18(2)) })
	requireErr(t, err, ErrInvalidReserveFactor)
	env.mustExec(func() error { return a.SetReserveFactor(env.admin, Mantissa(1, 10)) })
	requireEq(t, "reserve factor", a.ReserveFactor(), Mantissa(1, 10))

	err = env.exec(func() error { return a.SetProtocolSeizeShare(env.admin, e18(2)) })
	requireErr(t, err, ErrInvalidProtocolSeizeShare)

	env.tokens["A"].mint(stranger, n(40))
	env.mustExec(func() error {
		_, err := a.AddReserves(stranger, n(40))
		return err
	})
	requireEq(t, "reserves", a.TotalReserves(), n(40))

	err = env.exec(func() error { return a.ReduceReserves(stranger, n(1)) })
	requireErr(t, err, ErrUnauthorized)
	err = env.exec(func() error { return a.ReduceReserves(env.admin, n(41)) })
	requireErr(t, err, ErrInsufficientCash)
	env.supply("A", stranger, n(100))
	err = env.exec(func() error { return a.ReduceReserves(env.admin, n(41)) })
	requireErr(t, err, ErrReduceReservesTooMuch)
	env.mustExec(func() error { return a.ReduceReserves(env.admin, n(15)) })
	requireEq(t, "reserves", a.TotalReserves(), n(25))
	requireEq(t, "admin underlying", env.tokens["A"].BalanceOf(env.admin), n(15))
}

func TestMarketAdminHandover(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	next := makeAddress(crypto.AccountPrefix, 0x13)
	other := makeAddress(crypto.AccountPrefix, 0x14)

	err := env.exec(func() error { return a.SetPendingAdmin(other, next) })
	requireErr(t, err, ErrUnauthorized)
	env.mustExec(func() error { return a.SetPendingAdmin(env.admin, next) })
	if a.Admin().State() != PendingAdminSet || a.Admin().Pending() != next {
		t.Fatalf("unexpected handover state %s", a.Admin().State())
	}
	err = env.exec(func() error { return a.AcceptAdmin(other) })
	requireErr(t, err, ErrNotPendingAdmin)
	env.mustExec(func() error { return a.AcceptAdmin(next) })
	if a.Admin().Admin() != next || a.Admin().State() != AdminAccepted || !a.Admin().Pending().IsZero() {
		t.Fatalf("handover not completed: %+v", a.Admin())
	}
	err = env.exec(func() error { return a.SetReserveFactor(env.admin, n(0)) })
	requireErr(t, err, ErrUnauthorized)
}

func TestSetInterestRateModelAccruesUnderOldModel(t *testing.T) {
	env := newTestEnv(t)
	env.addMarket(marketSetup{symbol: "C", price: mantissaOne, collateralFactor: Mantissa(9, 10), rate: flatRate()})
	d := env.addMarket(marketSetup{
		symbol: "D",
		price:  mantissaOne,
		rate:   JumpRateParams{BaseRatePerYear: n(1_000_000_000_000), Kink: Mantissa(8, 10), BlocksPerYear: 1},
	})
	borrower := makeAddress(crypto.AccountPrefix, 0x06)
	env.supply("D", makeAddress(crypto.AccountPrefix, 0x05), e18(10))
	env.supply("C", borrower, e18(2))
	env.enter(borrower, "C")
	env.mustExec(func() error { return d.Borrow(borrower, e18(1)) })
	env.advance(10)

	flat, _ := env.p.RateModel("C")
	env.mustExec(func() error { return d.SetInterestRateModel(env.admin, flat) })
	requireEq(t, "total borrows", d.TotalBorrows(), new(uint256.Int).Add(e18(1), n(10_000_000_000_000)))
	if d.RateModel() != InterestRateModel(flat) {
		t.Fatalf("rate model not replaced")
	}
}

func TestFreshnessRecheckAfterHook(t *testing.T) {
	clock := &manualClock{height: 1}
	token := newMockToken("X")
	model, err := NewJumpRateModel("x", crypto.Address{}, flatRate(), nil)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	m, err := NewMarket(MarketParams{
		Symbol:              "X",
		Underlying:          token,
		Controller:          allowAll{onHook: func() { clock.height++ }},
		RateModel:           model,
		InitialExchangeRate: mantissaOne,
		Clock:               clock,
	})
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	minter := makeAddress(crypto.AccountPrefix, 0x15)
	token.mint(minter, n(10))
	_, err = m.Mint(minter, n(10))
	requireErr(t, err, ErrMarketNotFresh)
}

func TestNestedCallIntoSameMarketRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.addMarket(marketSetup{symbol: "A", price: mantissaOne, rate: flatRate()})
	minter := makeAddress(crypto.AccountPrefix, 0x16)
	token := env.tokens["A"]
	token.mint(minter, n(10))
	token.onTransfer = func() error {
		_, err := a.Mint(minter, n(1))
		return err
	}

	err := env.exec(func() error {
		_, err := a.Mint(minter, n(5))
		return err
	})
	requireErr(t, err, ErrReentered)
	requireEq(t, "shares", a.BalanceOf(minter), n(0))
}

// allowAll approves every hook. onHook runs inside MintAllowed.
type allowAll struct {
	onHook func()
}

func (h allowAll) MintAllowed(MarketView, crypto.Address, *uint256.Int) error {
	if h.onHook != nil {
		h.onHook()
	}
	return nil
}
func (allowAll) RedeemAllowed(MarketView, crypto.Address, *uint256.Int) error { return nil }
func (allowAll) RedeemVerify(_ MarketView, _ crypto.Address, amount, shares *uint256.Int) error {
	if shares.IsZero() && !amount.IsZero() {
		return ErrZeroRedeemShares
	}
	return nil
}
func (allowAll) BorrowAllowed(MarketView, crypto.Address, *uint256.Int) error { return nil }
func (allowAll) BorrowBehalfAllowed(MarketView, crypto.Address, crypto.Address, *uint256.Int) error {
	return nil
}
func (allowAll) RepayBorrowAllowed(MarketView, crypto.Address, crypto.Address, *uint256.Int) error {
	return nil
}
func (allowAll) LiquidateBorrowAllowed(MarketView, MarketView, crypto.Address, crypto.Address, *uint256.Int) error {
	return nil
}
func (allowAll) LiquidateCalculateSeizeShares(MarketView, MarketView, *uint256.Int) (*uint256.Int, error) {
	return new(uint256.Int), nil
}
func (allowAll) SeizeAllowed(MarketView, MarketView, crypto.Address, crypto.Address, *uint256.Int) error {
	return nil
}
func (allowAll) TransferAllowed(MarketView, crypto.Address, crypto.Address, *uint256.Int) error {
	return nil
}
