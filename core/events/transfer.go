package events

import (
	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

const (
	// TypeTransfer is emitted for underlying asset balance movements.
	TypeTransfer = "transfer.asset"
)

// Transfer records an underlying asset movement. Fee is the amount withheld
// by fee-on-transfer assets and never reached To.
type Transfer struct {
	Asset  string
	From   crypto.Address
	To     crypto.Address
	Amount *uint256.Int
	Fee    *uint256.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	evt := types.NewEvent(TypeTransfer)
	if asset := normalizeAsset(e.Asset); asset != "" {
		evt.Add("asset", asset)
	}
	evt.Add("from", formatAddress(e.From)).
		Add("to", formatAddress(e.To)).
		Add("amount", formatAmount(e.Amount))
	if e.Fee != nil && !e.Fee.IsZero() {
		evt.Add("fee", formatAmount(e.Fee))
	}
	return evt
}
