package events

import (
	"strconv"

	"moneymarket/core/types"
)

// TypeBlock is emitted after a block height is committed and persisted.
const TypeBlock = "block.committed"

type Block struct {
	Height  uint64
	Markets int
}

func (Block) EventType() string { return TypeBlock }

func (e Block) Event() *types.Event {
	return types.NewEvent(TypeBlock).
		Add("height", formatHeight(e.Height)).
		Add("markets", strconv.Itoa(e.Markets))
}
