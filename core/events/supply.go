package events

import (
	"github.com/holiman/uint256"

	"moneymarket/core/types"
)

const (
	// TypeTokenSupply is emitted whenever an underlying asset supply changes.
	TypeTokenSupply = "token.supply"

	// SupplyReasonMint identifies faucet and genesis driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonFee identifies supply removed by transfer fees.
	SupplyReasonFee = "fee"
)

// TokenSupply captures a supply delta for a fungible asset.
type TokenSupply struct {
	Token  string
	Total  *uint256.Int
	Delta  *uint256.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the structured supply change event for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	token := normalizeAsset(e.Token)
	if token == "" {
		token = "UNKNOWN"
	}
	evt := types.NewEvent(TypeTokenSupply).
		Add("token", token).
		Add("total", formatAmount(e.Total))
	if e.Delta != nil {
		evt.Add("delta", formatAmount(e.Delta))
	}
	if e.Reason != "" {
		evt.Add("reason", e.Reason)
	}
	return evt
}
