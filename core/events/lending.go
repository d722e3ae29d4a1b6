package events

import (
	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

const (
	TypeLendingMint            = "lending.mint"
	TypeLendingRedeem          = "lending.redeem"
	TypeLendingBorrow          = "lending.borrow"
	TypeLendingRepayBorrow     = "lending.repay_borrow"
	TypeLendingLiquidateBorrow = "lending.liquidate_borrow"
	TypeLendingTransfer        = "lending.transfer"
	TypeLendingApproval        = "lending.approval"
	TypeLendingAccrueInterest  = "lending.accrue_interest"
	TypeLendingReservesAdded   = "lending.reserves_added"
	TypeLendingReservesReduced = "lending.reserves_reduced"
)

// LendingMint records a supply of underlying in exchange for market shares.
type LendingMint struct {
	Market      crypto.Address
	Minter      crypto.Address
	Amount      *uint256.Int
	Shares      *uint256.Int
	TotalShares *uint256.Int
}

func (LendingMint) EventType() string { return TypeLendingMint }

func (e LendingMint) Event() *types.Event {
	return types.NewEvent(TypeLendingMint).
		Add("market", formatAddress(e.Market)).
		Add("minter", formatAddress(e.Minter)).
		Add("amount", formatAmount(e.Amount)).
		Add("shares", formatAmount(e.Shares)).
		Add("totalShares", formatAmount(e.TotalShares))
}

// LendingRedeem records shares burned for underlying.
type LendingRedeem struct {
	Market      crypto.Address
	Redeemer    crypto.Address
	Amount      *uint256.Int
	Shares      *uint256.Int
	TotalShares *uint256.Int
}

func (LendingRedeem) EventType() string { return TypeLendingRedeem }

func (e LendingRedeem) Event() *types.Event {
	return types.NewEvent(TypeLendingRedeem).
		Add("market", formatAddress(e.Market)).
		Add("redeemer", formatAddress(e.Redeemer)).
		Add("amount", formatAmount(e.Amount)).
		Add("shares", formatAmount(e.Shares)).
		Add("totalShares", formatAmount(e.TotalShares))
}

// LendingBorrow records new debt. Receiver differs from Borrower on the
// on-behalf path.
type LendingBorrow struct {
	Market         crypto.Address
	Borrower       crypto.Address
	Receiver       crypto.Address
	Amount         *uint256.Int
	AccountBorrows *uint256.Int
	TotalBorrows   *uint256.Int
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Event() *types.Event {
	return types.NewEvent(TypeLendingBorrow).
		Add("market", formatAddress(e.Market)).
		Add("borrower", formatAddress(e.Borrower)).
		Add("receiver", formatAddress(e.Receiver)).
		Add("amount", formatAmount(e.Amount)).
		Add("accountBorrows", formatAmount(e.AccountBorrows)).
		Add("totalBorrows", formatAmount(e.TotalBorrows))
}

// LendingRepayBorrow records debt repaid by Payer on behalf of Borrower.
type LendingRepayBorrow struct {
	Market         crypto.Address
	Payer          crypto.Address
	Borrower       crypto.Address
	Amount         *uint256.Int
	AccountBorrows *uint256.Int
	TotalBorrows   *uint256.Int
}

func (LendingRepayBorrow) EventType() string { return TypeLendingRepayBorrow }

func (e LendingRepayBorrow) Event() *types.Event {
	return types.NewEvent(TypeLendingRepayBorrow).
		Add("market", formatAddress(e.Market)).
		Add("payer", formatAddress(e.Payer)).
		Add("borrower", formatAddress(e.Borrower)).
		Add("amount", formatAmount(e.Amount)).
		Add("accountBorrows", formatAmount(e.AccountBorrows)).
		Add("totalBorrows", formatAmount(e.TotalBorrows))
}

// LendingLiquidateBorrow records a completed liquidation.
type LendingLiquidateBorrow struct {
	Market           crypto.Address
	Liquidator       crypto.Address
	Borrower         crypto.Address
	RepayAmount      *uint256.Int
	CollateralMarket crypto.Address
	SeizeShares      *uint256.Int
}

func (LendingLiquidateBorrow) EventType() string { return TypeLendingLiquidateBorrow }

func (e LendingLiquidateBorrow) Event() *types.Event {
	return types.NewEvent(TypeLendingLiquidateBorrow).
		Add("market", formatAddress(e.Market)).
		Add("liquidator", formatAddress(e.Liquidator)).
		Add("borrower", formatAddress(e.Borrower)).
		Add("repayAmount", formatAmount(e.RepayAmount)).
		Add("collateralMarket", formatAddress(e.CollateralMarket)).
		Add("seizeShares", formatAmount(e.SeizeShares))
}

// LendingTransfer records a share movement, including mint (From zero),
// redeem (To zero) and seize transfers.
type LendingTransfer struct {
	Market crypto.Address
	From   crypto.Address
	To     crypto.Address
	Shares *uint256.Int
}

func (LendingTransfer) EventType() string { return TypeLendingTransfer }

func (e LendingTransfer) Event() *types.Event {
	return types.NewEvent(TypeLendingTransfer).
		Add("market", formatAddress(e.Market)).
		Add("from", formatAddress(e.From)).
		Add("to", formatAddress(e.To)).
		Add("shares", formatAmount(e.Shares))
}

// LendingApproval records a share allowance change.
type LendingApproval struct {
	Market  crypto.Address
	Owner   crypto.Address
	Spender crypto.Address
	Shares  *uint256.Int
}

func (LendingApproval) EventType() string { return TypeLendingApproval }

func (e LendingApproval) Event() *types.Event {
	return types.NewEvent(TypeLendingApproval).
		Add("market", formatAddress(e.Market)).
		Add("owner", formatAddress(e.Owner)).
		Add("spender", formatAddress(e.Spender)).
		Add("shares", formatAmount(e.Shares))
}

// LendingAccrueInterest records an interest accrual step.
type LendingAccrueInterest struct {
	Market              crypto.Address
	CashPrior           *uint256.Int
	InterestAccumulated *uint256.Int
	BorrowIndex         *uint256.Int
	TotalBorrows        *uint256.Int
	Height              uint64
}

func (LendingAccrueInterest) EventType() string { return TypeLendingAccrueInterest }

func (e LendingAccrueInterest) Event() *types.Event {
	return types.NewEvent(TypeLendingAccrueInterest).
		Add("market", formatAddress(e.Market)).
		Add("cashPrior", formatAmount(e.CashPrior)).
		Add("interestAccumulated", formatAmount(e.InterestAccumulated)).
		Add("borrowIndex", formatAmount(e.BorrowIndex)).
		Add("totalBorrows", formatAmount(e.TotalBorrows)).
		Add("height", formatHeight(e.Height))
}

// LendingReservesAdded records underlying contributed to reserves.
type LendingReservesAdded struct {
	Market        crypto.Address
	Benefactor    crypto.Address
	Amount        *uint256.Int
	TotalReserves *uint256.Int
}

func (LendingReservesAdded) EventType() string { return TypeLendingReservesAdded }

func (e LendingReservesAdded) Event() *types.Event {
	return types.NewEvent(TypeLendingReservesAdded).
		Add("market", formatAddress(e.Market)).
		Add("benefactor", formatAddress(e.Benefactor)).
		Add("amount", formatAmount(e.Amount)).
		Add("totalReserves", formatAmount(e.TotalReserves))
}

// LendingReservesReduced records reserves withdrawn by the admin.
type LendingReservesReduced struct {
	Market        crypto.Address
	Admin         crypto.Address
	Amount        *uint256.Int
	TotalReserves *uint256.Int
}

func (LendingReservesReduced) EventType() string { return TypeLendingReservesReduced }

func (e LendingReservesReduced) Event() *types.Event {
	return types.NewEvent(TypeLendingReservesReduced).
		Add("market", formatAddress(e.Market)).
		Add("admin", formatAddress(e.Admin)).
		Add("amount", formatAmount(e.Amount)).
		Add("totalReserves", formatAmount(e.TotalReserves))
}
