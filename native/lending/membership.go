package lending

import "moneymarket/crypto"

// membershipIndex tracks which markets each account has entered. The ordered
// list drives liquidity enumeration; the position map answers membership in
// constant time and locates entries for swap-remove.
type membershipIndex struct {
	assets   map[crypto.Address][]crypto.Address
	position map[crypto.Address]map[crypto.Address]int
}

func newMembershipIndex() membershipIndex {
	return membershipIndex{
		assets:   make(map[crypto.Address][]crypto.Address),
		position: make(map[crypto.Address]map[crypto.Address]int),
	}
}

func (ix membershipIndex) has(account, market crypto.Address) bool {
	_, ok := ix.position[account][market]
	return ok
}

// add returns false when the account was already a member.
func (ix membershipIndex) add(account, market crypto.Address) bool {
	if ix.has(account, market) {
		return false
	}
	positions := ix.position[account]
	if positions == nil {
		positions = make(map[crypto.Address]int)
		ix.position[account] = positions
	}
	positions[market] = len(ix.assets[account])
	ix.assets[account] = append(ix.assets[account], market)
	return true
}

// remove swap-removes market from the account's list. A position that does
// not point back at market means the index is corrupt.
func (ix membershipIndex) remove(account, market crypto.Address) (bool, error) {
	positions := ix.position[account]
	pos, ok := positions[market]
	if !ok {
		return false, nil
	}
	list := ix.assets[account]
	if pos < 0 || pos >= len(list) || list[pos] != market {
		return false, ErrMembershipCorrupt
	}
	last := len(list) - 1
	if pos != last {
		moved := list[last]
		list[pos] = moved
		positions[moved] = pos
	}
	list[last] = crypto.Address{}
	list = list[:last]
	delete(positions, market)
	if len(list) == 0 {
		delete(ix.assets, account)
		delete(ix.position, account)
	} else {
		ix.assets[account] = list
	}
	return true, nil
}

// list returns a copy of the markets entered by account in entry order,
// as perturbed by swap-removes.
func (ix membershipIndex) list(account crypto.Address) []crypto.Address {
	src := ix.assets[account]
	out := make([]crypto.Address, len(src))
	copy(out, src)
	return out
}

// verify checks that the list and the position map agree for account.
func (ix membershipIndex) verify(account crypto.Address) error {
	list := ix.assets[account]
	positions := ix.position[account]
	if len(list) != len(positions) {
		return ErrMembershipCorrupt
	}
	for i, market := range list {
		if pos, ok := positions[market]; !ok || pos != i {
			return ErrMembershipCorrupt
		}
	}
	return nil
}

func (ix membershipIndex) clone() membershipIndex {
	out := membershipIndex{
		assets:   make(map[crypto.Address][]crypto.Address, len(ix.assets)),
		position: make(map[crypto.Address]map[crypto.Address]int, len(ix.position)),
	}
	for account, list := range ix.assets {
		out.assets[account] = append([]crypto.Address(nil), list...)
	}
	for account, positions := range ix.position {
		copied := make(map[crypto.Address]int, len(positions))
		for market, pos := range positions {
			copied[market] = pos
		}
		out.position[account] = copied
	}
	return out
}
