package lending

import "errors"

// Kind classifies a lending failure. Everything except KindFatal is a caller
// error that aborts the in-flight operation with no effect.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindPaused
	KindListing
	KindFreshness
	KindBounds
	KindLiquidity
	KindResource
	KindConsistency
	KindFatal
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindAuthorization: "authorization",
	KindPaused:        "paused",
	KindListing:       "listing",
	KindFreshness:     "freshness",
	KindBounds:        "bounds",
	KindLiquidity:     "liquidity",
	KindResource:      "resource",
	KindConsistency:   "consistency",
	KindFatal:         "fatal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a classified lending failure. Code is stable and suitable for API
// responses.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

func (e *Error) Error() string { return "lending: " + e.msg }

// KindOf returns the classification of err, or KindUnknown when err does not
// wrap an *Error.
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindUnknown
}

// CodeOf returns the stable code of err, or "" when err does not wrap an *Error.
func CodeOf(err error) string {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return ""
}

// IsFatal reports whether err signals an internal inconsistency.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }

var (
	ErrUnauthorized              = newError(KindAuthorization, "Unauthorized", "caller is not authorized")
	ErrNotPendingAdmin           = newError(KindAuthorization, "NotPendingAdmin", "caller is not the pending admin")
	ErrSenderMustBeTrustedCaller = newError(KindAuthorization, "SenderMustBeTrustedCaller", "sender must be the trusted caller")
	ErrOnlyAdminCanUnpause       = newError(KindAuthorization, "OnlyAdminCanUnpause", "only admin can unpause")
	ErrHookNotRequested          = newError(KindAuthorization, "HookNotRequested", "market did not request this check")
	ErrSeizeNotLiquidation       = newError(KindAuthorization, "SeizeNotLiquidation", "seize not requested by a liquidation")

	ErrMintPaused     = newError(KindPaused, "MintPaused", "mint is paused")
	ErrBorrowPaused   = newError(KindPaused, "BorrowPaused", "borrow is paused")
	ErrTransferPaused = newError(KindPaused, "TransferPaused", "transfer is paused")
	ErrSeizePaused    = newError(KindPaused, "SeizePaused", "seize is paused")
	ErrModulePaused   = newError(KindPaused, "ModulePaused", "lending module is paused")

	ErrMarketNotListed     = newError(KindListing, "MarketNotListed", "market not listed")
	ErrMarketAlreadyListed = newError(KindListing, "AlreadyListed", "market already listed")

	ErrMarketNotFresh     = newError(KindFreshness, "MarketNotFresh", "market interest not accrued at current height")
	ErrCollateralNotFresh = newError(KindFreshness, "CollateralNotFresh", "collateral market interest not accrued at current height")

	ErrInvalidAmount               = newError(KindBounds, "InvalidAmount", "amount must be positive")
	ErrInvalidCloseFactor          = newError(KindBounds, "InvalidCloseFactor", "close factor out of bounds")
	ErrInvalidCollateralFactor     = newError(KindBounds, "InvalidCollateralFactor", "collateral factor out of bounds")
	ErrInvalidLiquidationIncentive = newError(KindBounds, "InvalidLiquidationIncentive", "liquidation incentive out of bounds")
	ErrInvalidReserveFactor        = newError(KindBounds, "InvalidReserveFactor", "reserve factor out of bounds")
	ErrInvalidProtocolSeizeShare   = newError(KindBounds, "InvalidProtocolSeizeShare", "protocol seize share out of bounds")
	ErrInvalidExchangeRate         = newError(KindBounds, "InvalidExchangeRate", "initial exchange rate must be positive")
	ErrInvalidRateModel            = newError(KindBounds, "InvalidRateModel", "interest rate model parameters invalid")
	ErrNoPriceForCollateral        = newError(KindBounds, "NoPriceForCollateral", "collateral factor requires a price")
	ErrRateTooHigh                 = newError(KindBounds, "RateTooHigh", "borrow rate is absurdly high")
	ErrReduceReservesTooMuch       = newError(KindBounds, "ReduceReservesTooMuch", "reduce amount exceeds reserves")
	ErrSelfTransfer                = newError(KindBounds, "SelfTransfer", "source and destination are the same")
	ErrLiquidateSelf               = newError(KindBounds, "LiquidatorIsBorrower", "liquidator is borrower")
	ErrLiquidateZeroRepay          = newError(KindBounds, "LiquidateCloseAmountIsZero", "liquidate repay amount is zero")
	ErrLiquidateFullRepay          = newError(KindBounds, "LiquidateCloseAmountIsFull", "liquidate repay amount must be exact")
	ErrZeroRedeemShares            = newError(KindBounds, "ZeroRedeemShares", "redeem amount rounds to zero shares")
	ErrInvalidArguments            = newError(KindBounds, "InvalidArguments", "invalid arguments")

	ErrInsufficientLiquidity = newError(KindLiquidity, "InsufficientLiquidity", "insufficient liquidity")
	ErrInsufficientShortfall = newError(KindLiquidity, "InsufficientShortfall", "borrower has no shortfall")
	ErrTooMuchRepay          = newError(KindLiquidity, "TooMuchRepay", "repay amount exceeds allowed maximum")
	ErrBorrowCapReached      = newError(KindLiquidity, "BorrowCapReached", "market borrow cap reached")
	ErrNonzeroBorrowBalance  = newError(KindLiquidity, "NonzeroBorrowBalance", "cannot exit market with outstanding debt")
	ErrZeroPrice             = newError(KindLiquidity, "ZeroPrice", "price unavailable")

	ErrRedeemTransferOutNotPossible = newError(KindResource, "RedeemTransferOutNotPossible", "insufficient cash to redeem")
	ErrBorrowCashNotAvailable       = newError(KindResource, "BorrowCashNotAvailable", "insufficient cash to borrow")
	ErrInsufficientCash             = newError(KindResource, "InsufficientCash", "insufficient cash")
	ErrInsufficientBalance          = newError(KindResource, "InsufficientBalance", "insufficient share balance")
	ErrInsufficientAllowance        = newError(KindResource, "InsufficientAllowance", "insufficient allowance")
	ErrLiquidateSeizeTooMuch        = newError(KindResource, "LiquidateSeizeTooMuch", "borrower collateral insufficient for seize")
	ErrInsufficientRewards          = newError(KindResource, "InsufficientRewards", "insufficient reward holdings for grant")

	ErrComptrollerMismatch = newError(KindConsistency, "ComptrollerMismatch", "markets use different risk engines")
	ErrMarketIdentity      = newError(KindConsistency, "MarketIdentityMismatch", "caller is not the listed market")
	ErrReentered           = newError(KindConsistency, "Reentered", "market re-entered")
	ErrUnknownMarket       = newError(KindConsistency, "UnknownMarket", "market not registered")

	ErrMathOverflow      = newError(KindFatal, "MathError", "arithmetic overflow")
	ErrMembershipCorrupt = newError(KindFatal, "MembershipCorrupt", "membership index out of sync")
	ErrHeightRegressed   = newError(KindFatal, "HeightRegressed", "accrual checkpoint ahead of current height")
	ErrTokenAccounting   = newError(KindFatal, "TokenAccounting", "underlying balance moved unexpectedly")
	ErrHalted            = newError(KindFatal, "Halted", "protocol halted after fatal error")
)
