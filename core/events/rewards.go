package events

import (
	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

const (
	TypeRewardSpeedUpdated = "lending.reward_speed_updated"
	TypeRewardDistributed  = "lending.reward_distributed"
	TypeRewardGranted      = "lending.reward_granted"
)

// RewardSpeedUpdated records a new per-block emission speed for one side of
// a market.
type RewardSpeedUpdated struct {
	Market crypto.Address
	Side   string
	Speed  *uint256.Int
}

func (RewardSpeedUpdated) EventType() string { return TypeRewardSpeedUpdated }

func (e RewardSpeedUpdated) Event() *types.Event {
	return types.NewEvent(TypeRewardSpeedUpdated).
		Add("market", formatAddress(e.Market)).
		Add("side", e.Side).
		Add("speed", formatAmount(e.Speed))
}

// RewardDistributed records reward credited to an account's accrued balance.
type RewardDistributed struct {
	Market  crypto.Address
	Side    string
	Account crypto.Address
	Delta   *uint256.Int
	Index   *uint256.Int
}

func (RewardDistributed) EventType() string { return TypeRewardDistributed }

func (e RewardDistributed) Event() *types.Event {
	return types.NewEvent(TypeRewardDistributed).
		Add("market", formatAddress(e.Market)).
		Add("side", e.Side).
		Add("account", formatAddress(e.Account)).
		Add("delta", formatAmount(e.Delta)).
		Add("index", formatAmount(e.Index))
}

// RewardGranted records an admin grant of reward tokens.
type RewardGranted struct {
	Recipient crypto.Address
	Amount    *uint256.Int
}

func (RewardGranted) EventType() string { return TypeRewardGranted }

func (e RewardGranted) Event() *types.Event {
	return types.NewEvent(TypeRewardGranted).
		Add("recipient", formatAddress(e.Recipient)).
		Add("amount", formatAmount(e.Amount))
}
