package lending

import (
	"testing"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

func TestHypotheticalLiquidityAtBoundary(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x20)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A", "B")

	liquidity, shortfall, err := env.c.HypotheticalAccountLiquidity(borrower, b.Address(), n(0), n(80))
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	requireEq(t, "liquidity", liquidity, n(0))
	requireEq(t, "shortfall", shortfall, n(0))

	liquidity, shortfall, err = env.c.HypotheticalAccountLiquidity(borrower, b.Address(), n(0), n(81))
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	requireEq(t, "liquidity", liquidity, n(0))
	requireEq(t, "shortfall", shortfall, n(1))

	liquidity, shortfall, err = env.c.AccountLiquidity(borrower)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	requireEq(t, "liquidity", liquidity, n(80))
	requireEq(t, "shortfall", shortfall, n(0))
}

func TestLiquidityExcludesMarketsNotEntered(t *testing.T) {
	env, _, _ := twoMarketEnv(t)
	account := makeAddress(crypto.AccountPrefix, 0x21)
	env.supply("A", account, n(100))

	liquidity, shortfall, err := env.c.AccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if !liquidity.IsZero() || !shortfall.IsZero() {
		t.Fatalf("expected no liquidity outside entered markets, got %s/%s", liquidity.Dec(), shortfall.Dec())
	}
}

func TestBorrowBehalfRequiresTrustedCaller(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x22)
	trusted := makeAddress(crypto.AccountPrefix, 0x23)
	stranger := makeAddress(crypto.AccountPrefix, 0x24)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")

	err := env.exec(func() error { return b.BorrowBehalf(stranger, borrower, n(10)) })
	requireErr(t, err, ErrSenderMustBeTrustedCaller)

	env.mustExec(func() error { return env.c.SetTrustedCaller(env.admin, trusted) })
	err = env.exec(func() error { return b.BorrowBehalf(stranger, borrower, n(10)) })
	requireErr(t, err, ErrSenderMustBeTrustedCaller)

	env.mustExec(func() error { return b.BorrowBehalf(trusted, borrower, n(10)) })
	debt, _ := b.BorrowBalanceStored(borrower)
	requireEq(t, "borrower debt", debt, n(10))
	requireEq(t, "trusted caller underlying", env.tokens["B"].BalanceOf(trusted), n(10))
	requireEq(t, "borrower underlying", env.tokens["B"].BalanceOf(borrower), n(0))
}

func TestEnterMarketsIsAllOrNothing(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	account := makeAddress(crypto.AccountPrefix, 0x25)
	unlisted := crypto.DeriveModuleAddress("market/none")

	err := env.exec(func() error {
		return env.c.EnterMarkets(account, []crypto.Address{a.Address(), unlisted})
	})
	requireErr(t, err, ErrMarketNotListed)
	if env.c.CheckMembership(account, a.Address()) {
		t.Fatalf("partial enter must not be recorded")
	}

	env.enter(account, "A", "A")
	if got := env.c.AssetsIn(account); len(got) != 1 {
		t.Fatalf("expected a single membership, got %d", len(got))
	}
}

func TestExitMarketChecks(t *testing.T) {
	env, a, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x26)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")
	env.mustExec(func() error { return b.Borrow(borrower, n(40)) })

	err := env.exec(func() error { return env.c.ExitMarket(borrower, b.Address()) })
	requireErr(t, err, ErrNonzeroBorrowBalance)
	err = env.exec(func() error { return env.c.ExitMarket(borrower, a.Address()) })
	requireErr(t, err, ErrInsufficientLiquidity)

	env.mustExec(func() error {
		_, err := b.RepayBorrow(borrower, RepayFull())
		return err
	})
	env.mustExec(func() error { return env.c.ExitMarket(borrower, a.Address()) })
	if env.c.CheckMembership(borrower, a.Address()) {
		t.Fatalf("borrower still a member of A")
	}
	got := env.c.AssetsIn(borrower)
	if len(got) != 1 || got[0] != b.Address() {
		t.Fatalf("unexpected memberships %v", got)
	}
	env.mustExec(func() error { return env.c.ExitMarket(borrower, a.Address()) })
}

func TestMembershipSwapRemove(t *testing.T) {
	ix := newMembershipIndex()
	account := makeAddress(crypto.AccountPrefix, 0x27)
	m1 := makeAddress(crypto.ModulePrefix, 0x01)
	m2 := makeAddress(crypto.ModulePrefix, 0x02)
	m3 := makeAddress(crypto.ModulePrefix, 0x03)
	for _, m := range []crypto.Address{m1, m2, m3} {
		if !ix.add(account, m) {
			t.Fatalf("add %s reported existing", m)
		}
	}
	if ix.add(account, m2) {
		t.Fatalf("duplicate add should report existing")
	}

	removed, err := ix.remove(account, m1)
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	got := ix.list(account)
	if len(got) != 2 || got[0] != m3 || got[1] != m2 {
		t.Fatalf("expected [m3 m2] after swap-remove, got %v", got)
	}
	if err := ix.verify(account); err != nil {
		t.Fatalf("verify: %v", err)
	}

	ix.position[account][m2] = 0
	if _, err := ix.remove(account, m2); err != ErrMembershipCorrupt {
		t.Fatalf("expected corruption, got %v", err)
	}
	if err := ix.verify(account); err != ErrMembershipCorrupt {
		t.Fatalf("expected verify failure, got %v", err)
	}
}

func TestPauseGuardianPowers(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	guardian := makeAddress(crypto.AccountPrefix, 0x28)
	stranger := makeAddress(crypto.AccountPrefix, 0x29)
	minter := makeAddress(crypto.AccountPrefix, 0x2A)
	env.mustExec(func() error { return env.c.SetPauseGuardian(env.admin, guardian) })

	err := env.exec(func() error { return env.c.SetMintPaused(stranger, a.Address(), true) })
	requireErr(t, err, ErrUnauthorized)
	env.mustExec(func() error { return env.c.SetMintPaused(guardian, a.Address(), true) })

	env.tokens["A"].mint(minter, n(10))
	err = env.exec(func() error {
		_, err := a.Mint(minter, n(10))
		return err
	})
	requireErr(t, err, ErrMintPaused)

	err = env.exec(func() error { return env.c.SetMintPaused(guardian, a.Address(), false) })
	requireErr(t, err, ErrOnlyAdminCanUnpause)
	env.sink.Drain()
	env.mustExec(func() error { return env.c.SetMintPaused(env.admin, a.Address(), false) })
	env.mustExec(func() error { return env.c.SetMintPaused(env.admin, a.Address(), false) })
	if got := committed(env, events.TypeLendingActionPaused); len(got) != 2 {
		t.Fatalf("expected a record for every toggle, got %d", len(got))
	}
	env.mustExec(func() error {
		_, err := a.Mint(minter, n(10))
		return err
	})
}

func TestGlobalPauses(t *testing.T) {
	env, a, b := twoMarketEnv(t)
	holder := makeAddress(crypto.AccountPrefix, 0x2B)
	env.supply("A", holder, n(100))

	env.mustExec(func() error { return env.c.SetTransferPaused(env.admin, true) })
	err := env.exec(func() error { return a.Transfer(holder, makeAddress(crypto.AccountPrefix, 0x2C), n(1)) })
	requireErr(t, err, ErrTransferPaused)

	env.mustExec(func() error { return env.c.SetBorrowPaused(env.admin, b.Address(), true) })
	env.enter(holder, "A")
	err = env.exec(func() error { return b.Borrow(holder, n(1)) })
	requireErr(t, err, ErrBorrowPaused)
}

func TestModuleKillSwitch(t *testing.T) {
	env, a, b := twoMarketEnv(t)
	pauses := nativecommon.NewPauses("lending.mint")
	env.c.pauses = pauses
	minter := makeAddress(crypto.AccountPrefix, 0x2D)
	env.tokens["A"].mint(minter, n(10))

	err := env.exec(func() error {
		_, err := a.Mint(minter, n(10))
		return err
	})
	requireErr(t, err, ErrModulePaused)

	pauses.Set("lending.mint", false)
	pauses.Set("lending", true)
	env.enter(minter, "A")
	err = env.exec(func() error { return b.Borrow(minter, n(1)) })
	requireErr(t, err, ErrModulePaused)

	pauses.Set("lending", false)
	env.mustExec(func() error {
		_, err := a.Mint(minter, n(10))
		return err
	})
}

func TestBorrowCapIsStrict(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	guardian := makeAddress(crypto.AccountPrefix, 0x2E)
	borrower := makeAddress(crypto.AccountPrefix, 0x2F)
	env.supply("A", borrower, n(1000))
	env.enter(borrower, "A")

	err := env.exec(func() error {
		return env.c.SetMarketBorrowCaps(guardian, []crypto.Address{b.Address()}, []*uint256.Int{n(100)})
	})
	requireErr(t, err, ErrUnauthorized)
	env.mustExec(func() error { return env.c.SetBorrowCapGuardian(env.admin, guardian) })
	env.mustExec(func() error {
		return env.c.SetMarketBorrowCaps(guardian, []crypto.Address{b.Address()}, []*uint256.Int{n(100)})
	})

	err = env.exec(func() error { return b.Borrow(borrower, n(100)) })
	requireErr(t, err, ErrBorrowCapReached)
	env.mustExec(func() error { return b.Borrow(borrower, n(99)) })
	err = env.exec(func() error { return b.Borrow(borrower, n(1)) })
	requireErr(t, err, ErrBorrowCapReached)

	env.mustExec(func() error {
		return env.c.SetMarketBorrowCaps(env.admin, []crypto.Address{b.Address()}, []*uint256.Int{n(0)})
	})
	env.mustExec(func() error { return b.Borrow(borrower, n(1)) })
}

func TestBorrowRequiresPrice(t *testing.T) {
	env, _, b := twoMarketEnv(t)
	borrower := makeAddress(crypto.AccountPrefix, 0x30)
	env.supply("A", borrower, n(100))
	env.enter(borrower, "A")
	env.oracle.set(b.Address(), n(0))

	err := env.exec(func() error { return b.Borrow(borrower, n(1)) })
	requireErr(t, err, ErrZeroPrice)
}

func TestComptrollerParameterBounds(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	stranger := makeAddress(crypto.AccountPrefix, 0x31)

	err := env.exec(func() error { return env.c.SetCloseFactor(stranger, Mantissa(5, 10)) })
	requireErr(t, err, ErrUnauthorized)
	err = env.exec(func() error { return env.c.SetCloseFactor(env.admin, Mantissa(4, 100)) })
	requireErr(t, err, ErrInvalidCloseFactor)
	err = env.exec(func() error { return env.c.SetCloseFactor(env.admin, Mantissa(91, 100)) })
	requireErr(t, err, ErrInvalidCloseFactor)
	err = env.exec(func() error { return env.c.SetCollateralFactor(env.admin, a.Address(), Mantissa(91, 100)) })
	requireErr(t, err, ErrInvalidCollateralFactor)
	err = env.exec(func() error { return env.c.SetLiquidationIncentive(env.admin, Mantissa(99, 100)) })
	requireErr(t, err, ErrInvalidLiquidationIncentive)

	env.oracle.set(a.Address(), n(0))
	err = env.exec(func() error { return env.c.SetCollateralFactor(env.admin, a.Address(), Mantissa(5, 10)) })
	requireErr(t, err, ErrNoPriceForCollateral)
	env.mustExec(func() error { return env.c.SetCollateralFactor(env.admin, a.Address(), n(0)) })

	err = env.exec(func() error { return env.c.SupportMarket(env.admin, a) })
	requireErr(t, err, ErrMarketAlreadyListed)
}

func TestComptrollerAdminHandover(t *testing.T) {
	env, _, _ := twoMarketEnv(t)
	next := makeAddress(crypto.AccountPrefix, 0x32)

	env.mustExec(func() error { return env.c.SetPendingAdmin(env.admin, next) })
	err := env.exec(func() error { return env.c.AcceptAdmin(env.admin) })
	requireErr(t, err, ErrNotPendingAdmin)
	env.mustExec(func() error { return env.c.AcceptAdmin(next) })
	if env.c.Admin().Admin() != next {
		t.Fatalf("admin not handed over")
	}
	err = env.exec(func() error { return env.c.SetCloseFactor(env.admin, Mantissa(5, 10)) })
	requireErr(t, err, ErrUnauthorized)
	env.mustExec(func() error { return env.c.SetCloseFactor(next, Mantissa(6, 10)) })
}

func TestAdminHandoverValue(t *testing.T) {
	admin := makeAddress(crypto.AccountPrefix, 0x01)
	next := makeAddress(crypto.AccountPrefix, 0x02)
	h := NewAdminHandover(admin)

	if _, err := h.Propose(next, next); err != ErrUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	staged, err := h.Propose(admin, next)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if h.State() != NoPendingAdmin {
		t.Fatalf("propose must not mutate the receiver")
	}
	cleared, err := staged.Propose(admin, crypto.Address{})
	if err != nil || cleared.State() != NoPendingAdmin {
		t.Fatalf("clearing pending admin: %v %s", err, cleared.State())
	}
	if _, err := cleared.Accept(crypto.Address{}); err != ErrNotPendingAdmin {
		t.Fatalf("zero pending must not be acceptable, got %v", err)
	}
	accepted, err := staged.Accept(next)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Admin() != next || accepted.State() != AdminAccepted {
		t.Fatalf("unexpected handover %s/%s", accepted.Admin(), accepted.State())
	}
}

func TestImpostorMarketIsRejected(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	impostor, err := NewMarket(MarketParams{
		Symbol:              "A",
		Address:             a.Address(),
		Underlying:          env.tokens["A"],
		Controller:          env.c,
		RateModel:           a.RateModel(),
		InitialExchangeRate: mantissaOne,
		Clock:               env.p,
	})
	if err != nil {
		t.Fatalf("impostor: %v", err)
	}
	minter := makeAddress(crypto.AccountPrefix, 0x33)
	env.tokens["A"].mint(minter, n(10))

	err = env.exec(func() error {
		_, err := impostor.Mint(minter, n(10))
		return err
	})
	requireErr(t, err, ErrMarketIdentity)

	holder := makeAddress(crypto.AccountPrefix, 0x34)
	env.supply("A", holder, n(50))
	err = env.exec(func() error { return a.Seize(impostor, minter, holder, n(10)) })
	requireErr(t, err, ErrComptrollerMismatch)
	requireEq(t, "holder shares", a.BalanceOf(holder), n(50))
}

func TestSeizeFromForeignRiskEngineRejected(t *testing.T) {
	env, a, _ := twoMarketEnv(t)
	var foreign *Market
	env.mustExec(func() error {
		other, err := NewComptroller(ComptrollerParams{
			Address: crypto.DeriveModuleAddress("comptroller/other"),
			Admin:   env.admin,
			Oracle:  env.oracle,
			Clock:   env.p,
		})
		if err != nil {
			return err
		}
		foreign, err = NewMarket(MarketParams{
			Symbol:              "F",
			Underlying:          newMockToken("F"),
			Controller:          other,
			RateModel:           a.RateModel(),
			InitialExchangeRate: mantissaOne,
			Clock:               env.p,
		})
		if err != nil {
			return err
		}
		return other.SupportMarket(env.admin, foreign)
	})
	holder := makeAddress(crypto.AccountPrefix, 0x35)
	env.supply("A", holder, n(50))

	err := env.exec(func() error { return a.Seize(foreign, makeAddress(crypto.AccountPrefix, 0x36), holder, n(10)) })
	requireErr(t, err, ErrComptrollerMismatch)

	err = env.exec(func() error { return env.c.SupportMarket(env.admin, foreign) })
	requireErr(t, err, ErrComptrollerMismatch)
}

func TestHooksRejectCallsNotFromMarket(t *testing.T) {
	env, a, b := twoMarketEnv(t)
	victim := makeAddress(crypto.AccountPrefix, 0x37)
	other := makeAddress(crypto.AccountPrefix, 0x38)
	env.supply("A", victim, n(100))
	env.enter(victim, "A")
	env.sink.Drain()

	calls := map[string]func() error{
		"borrow":   func() error { return env.c.BorrowAllowed(b, victim, n(0)) },
		"mint":     func() error { return env.c.MintAllowed(a, victim, n(1)) },
		"redeem":   func() error { return env.c.RedeemAllowed(a, victim, n(1)) },
		"repay":    func() error { return env.c.RepayBorrowAllowed(b, victim, victim, n(0)) },
		"transfer": func() error { return env.c.TransferAllowed(a, victim, other, n(1)) },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			requireErr(t, env.exec(call), ErrHookNotRequested)
		})
	}
	if env.c.CheckMembership(victim, b.Address()) {
		t.Fatalf("victim must not be enrolled in B")
	}
	if got := len(env.sink.Drain()); got != 0 {
		t.Fatalf("rejected hooks committed %d events", got)
	}

	// The same borrow through the market still enrols the borrower.
	env.mustExec(func() error { return b.Borrow(victim, n(10)) })
	if !env.c.CheckMembership(victim, b.Address()) {
		t.Fatalf("borrow through the market should enrol the borrower")
	}
}
