package lending

import (
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// Transfer moves shares from caller to dst.
func (m *Market) Transfer(caller, dst crypto.Address, shares *uint256.Int) error {
	return m.transferShares(caller, caller, dst, shares)
}

// TransferFrom moves shares from src to dst using spender's allowance.
func (m *Market) TransferFrom(spender, src, dst crypto.Address, shares *uint256.Int) error {
	return m.transferShares(spender, src, dst, shares)
}

// Approve sets the shares spender may transfer on behalf of owner. An owner
// may approve itself; its own transfers never consume the allowance.
func (m *Market) Approve(owner, spender crypto.Address, shares *uint256.Int) error {
	key := allowanceKey{owner: owner, spender: spender}
	if orZero(shares).IsZero() {
		delete(m.l.allowances, key)
	} else {
		m.l.allowances[key] = clone(shares)
	}
	m.emitter.Emit(events.LendingApproval{Market: m.address, Owner: owner, Spender: spender, Shares: clone(shares)})
	return nil
}

func (m *Market) transferShares(spender, src, dst crypto.Address, shares *uint256.Int) error {
	unlock, err := m.enter()
	if err != nil {
		return err
	}
	defer unlock()
	shares = orZero(shares)
	if err := m.ask(ActionTransfer, func() error { return m.l.controller.TransferAllowed(m, src, dst, shares) }); err != nil {
		return err
	}
	if src == dst {
		return ErrSelfTransfer
	}
	key := allowanceKey{owner: src, spender: spender}
	var allowanceNew *uint256.Int
	if spender != src {
		allowance := orZero(m.l.allowances[key])
		if allowance.Lt(shares) {
			return ErrInsufficientAllowance
		}
		allowanceNew = new(uint256.Int).Sub(allowance, shares)
	}
	srcBalance := orZero(m.l.shares[src])
	if srcBalance.Lt(shares) {
		return ErrInsufficientBalance
	}
	var a arith
	srcNew := a.sub(srcBalance, shares)
	dstNew := a.add(orZero(m.l.shares[dst]), shares)
	if a.err != nil {
		return a.err
	}

	m.l.shares[src] = srcNew
	m.l.shares[dst] = dstNew
	if allowanceNew != nil {
		if allowanceNew.IsZero() {
			delete(m.l.allowances, key)
		} else {
			m.l.allowances[key] = allowanceNew
		}
	}
	m.emitter.Emit(events.LendingTransfer{Market: m.address, From: src, To: dst, Shares: clone(shares)})
	return nil
}
