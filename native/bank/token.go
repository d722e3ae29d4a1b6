package bank

import (
	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

// Token is a single-asset view of a Ledger, usable as a market's underlying.
type Token struct {
	ledger *Ledger
	symbol string
}

// Token returns the view of symbol.
func (l *Ledger) Token(symbol string) (*Token, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return &Token{ledger: l, symbol: a.symbol}, nil
}

func (t *Token) Symbol() string { return t.symbol }

func (t *Token) BalanceOf(account crypto.Address) *uint256.Int {
	return t.ledger.BalanceOf(t.symbol, account)
}

func (t *Token) Transfer(from, to crypto.Address, amount *uint256.Int) error {
	return t.ledger.Transfer(t.symbol, from, to, amount)
}
