package server

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"moneymarket/crypto"
	"moneymarket/native/lending"
)

// Amounts are rendered as base unit integers, mantissas as human decimals.

type marketView struct {
	Address            string `json:"address"`
	Symbol             string `json:"symbol"`
	Name               string `json:"name"`
	Underlying         string `json:"underlying"`
	Decimals           uint8  `json:"decimals"`
	AccrualHeight      uint64 `json:"accrualHeight"`
	Cash               string `json:"cash"`
	TotalBorrows       string `json:"totalBorrows"`
	TotalReserves      string `json:"totalReserves"`
	TotalShares        string `json:"totalShares"`
	BorrowIndex        string `json:"borrowIndex"`
	ExchangeRate       string `json:"exchangeRate"`
	Utilization        string `json:"utilization"`
	BorrowRatePerBlock string `json:"borrowRatePerBlock"`
	SupplyRatePerBlock string `json:"supplyRatePerBlock"`
	ReserveFactor      string `json:"reserveFactor"`
	ProtocolSeizeShare string `json:"protocolSeizeShare"`
	CollateralFactor   string `json:"collateralFactor"`
	BorrowCap          string `json:"borrowCap"`
	SupplyRewardSpeed  string `json:"supplyRewardSpeed"`
	BorrowRewardSpeed  string `json:"borrowRewardSpeed"`
	Price              string `json:"price"`
	MintPaused         bool   `json:"mintPaused"`
	BorrowPaused       bool   `json:"borrowPaused"`
	Deprecated         bool   `json:"deprecated"`
}

type positionView struct {
	Market        string `json:"market"`
	Symbol        string `json:"symbol"`
	Shares        string `json:"shares"`
	Underlying    string `json:"underlying"`
	BorrowBalance string `json:"borrowBalance"`
	Collateral    bool   `json:"collateral"`
}

type accountView struct {
	Address       string         `json:"address"`
	Height        uint64         `json:"height"`
	Liquidity     string         `json:"liquidity"`
	Shortfall     string         `json:"shortfall"`
	RewardAccrued string         `json:"rewardAccrued"`
	Positions     []positionView `json:"positions"`

	// LiquidityError is set when the risk engine cannot value the account,
	// typically because a price is unavailable.
	LiquidityError string `json:"liquidityError,omitempty"`
}

type protocolView struct {
	Height               uint64   `json:"height"`
	Comptroller          string   `json:"comptroller"`
	Admin                string   `json:"admin"`
	PendingAdmin         string   `json:"pendingAdmin,omitempty"`
	CloseFactor          string   `json:"closeFactor"`
	LiquidationIncentive string   `json:"liquidationIncentive"`
	PauseGuardian        string   `json:"pauseGuardian,omitempty"`
	BorrowCapGuardian    string   `json:"borrowCapGuardian,omitempty"`
	TrustedCaller        string   `json:"trustedCaller,omitempty"`
	TransferPaused       bool     `json:"transferPaused"`
	SeizePaused          bool     `json:"seizePaused"`
	Markets              []string `json:"markets"`
	Halted               bool     `json:"halted"`
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func mantissa(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -18).String()
}

func bigAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigMantissa(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -18).String()
}

func address(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

// marketSnapshot reads stored values only. Callers hold the protocol view
// lock.
func marketSnapshot(p *lending.Protocol, m *lending.Market) (marketView, error) {
	rate, err := m.ExchangeRateStored()
	if err != nil {
		return marketView{}, err
	}
	util, err := lending.Utilization(m.Cash(), m.TotalBorrows(), m.TotalReserves())
	if err != nil {
		return marketView{}, err
	}
	borrowRate, err := m.BorrowRatePerBlock()
	if err != nil {
		return marketView{}, err
	}
	supplyRate, err := m.SupplyRatePerBlock()
	if err != nil {
		return marketView{}, err
	}
	view := marketView{
		Address:            m.Address().String(),
		Symbol:             m.Symbol(),
		Name:               m.Name(),
		Underlying:         m.Underlying().Symbol(),
		Decimals:           m.Decimals(),
		AccrualHeight:      m.AccrualHeight(),
		Cash:               amount(m.Cash()),
		TotalBorrows:       amount(m.TotalBorrows()),
		TotalReserves:      amount(m.TotalReserves()),
		TotalShares:        amount(m.TotalShares()),
		BorrowIndex:        mantissa(m.BorrowIndex()),
		ExchangeRate:       mantissa(rate),
		Utilization:        mantissa(util),
		BorrowRatePerBlock: mantissa(borrowRate),
		SupplyRatePerBlock: mantissa(supplyRate),
		ReserveFactor:      mantissa(m.ReserveFactor()),
		ProtocolSeizeShare: mantissa(m.ProtocolSeizeShare()),
		CollateralFactor:   "0",
		BorrowCap:          "0",
		SupplyRewardSpeed:  "0",
		BorrowRewardSpeed:  "0",
		Price:              "0",
	}
	c := p.Comptroller()
	if c == nil {
		return view, nil
	}
	if cfg, ok := c.MarketConfig(m.Address()); ok {
		view.CollateralFactor = mantissa(cfg.CollateralFactor)
		view.BorrowCap = amount(cfg.BorrowCap)
		view.SupplyRewardSpeed = amount(cfg.SupplySpeed)
		view.BorrowRewardSpeed = amount(cfg.BorrowSpeed)
		view.MintPaused = cfg.MintPaused
		view.BorrowPaused = cfg.BorrowPaused
		view.Deprecated = cfg.Deprecated
	}
	if oracle := c.Oracle(); oracle != nil {
		view.Price = mantissa(oracle.UnderlyingPrice(m.Address()))
	}
	return view, nil
}

func accountSnapshot(p *lending.Protocol, account crypto.Address) (accountView, error) {
	view := accountView{
		Address:       account.String(),
		Height:        p.BlockHeight(),
		Liquidity:     "0",
		Shortfall:     "0",
		RewardAccrued: "0",
		Positions:     []positionView{},
	}
	c := p.Comptroller()
	for _, m := range p.Markets() {
		shares := m.BalanceOf(account)
		borrow, err := m.BorrowBalanceStored(account)
		if err != nil {
			return accountView{}, err
		}
		rate, err := m.ExchangeRateStored()
		if err != nil {
			return accountView{}, err
		}
		underlying, overflow := new(uint256.Int).MulDivOverflow(shares, rate, uint256.NewInt(1e18))
		if overflow {
			return accountView{}, lending.ErrMathOverflow
		}
		member := c != nil && c.CheckMembership(account, m.Address())
		if shares.IsZero() && borrow.IsZero() && !member {
			continue
		}
		view.Positions = append(view.Positions, positionView{
			Market:        m.Address().String(),
			Symbol:        m.Symbol(),
			Shares:        amount(shares),
			Underlying:    amount(underlying),
			BorrowBalance: amount(borrow),
			Collateral:    member,
		})
	}
	if c == nil {
		return view, nil
	}
	view.RewardAccrued = amount(c.RewardAccrued(account))
	liquidity, shortfall, err := c.AccountLiquidity(account)
	if err != nil {
		if lending.IsFatal(err) {
			return accountView{}, err
		}
		view.LiquidityError = lending.CodeOf(err)
		return view, nil
	}
	view.Liquidity = amount(liquidity)
	view.Shortfall = amount(shortfall)
	return view, nil
}

// protocolSnapshot leaves Halted unset; Protocol.Halted takes the host lock.
func protocolSnapshot(p *lending.Protocol) protocolView {
	view := protocolView{
		Height:  p.BlockHeight(),
		Markets: []string{},
	}
	for _, m := range p.Markets() {
		view.Markets = append(view.Markets, m.Symbol())
	}
	c := p.Comptroller()
	if c == nil {
		return view
	}
	admin := c.Admin()
	view.Comptroller = c.Address().String()
	view.Admin = address(admin.Admin())
	view.PendingAdmin = address(admin.Pending())
	view.CloseFactor = mantissa(c.CloseFactor())
	view.LiquidationIncentive = mantissa(c.LiquidationIncentive())
	view.PauseGuardian = address(c.PauseGuardian())
	view.BorrowCapGuardian = address(c.BorrowCapGuardian())
	view.TrustedCaller = address(c.TrustedCaller())
	view.TransferPaused = c.TransferPaused()
	view.SeizePaused = c.SeizePaused()
	return view
}
