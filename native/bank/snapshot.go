package bank

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

// Snapshot is the persistable form of a Ledger.
type Snapshot struct {
	Assets []AssetRecord
}

// AssetRecord captures one asset. Balances are sorted by account.
type AssetRecord struct {
	Symbol   string
	FeeBps   uint64
	Supply   *big.Int
	Balances []BalanceRecord
}

type BalanceRecord struct {
	Account string
	Amount  *big.Int
}

// Export returns the ledger contents. Zero balances are omitted.
func (l *Ledger) Export() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	symbols := make([]string, 0, len(l.assets))
	for symbol := range l.assets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var snap Snapshot
	for _, symbol := range symbols {
		a := l.assets[symbol]
		rec := AssetRecord{Symbol: a.symbol, FeeBps: a.feeBps, Supply: a.supply.ToBig()}
		for account, balance := range a.balances {
			if balance.IsZero() {
				continue
			}
			rec.Balances = append(rec.Balances, BalanceRecord{Account: account.String(), Amount: balance.ToBig()})
		}
		sort.Slice(rec.Balances, func(i, j int) bool { return rec.Balances[i].Account < rec.Balances[j].Account })
		snap.Assets = append(snap.Assets, rec)
	}
	return snap
}

// Import replaces the ledger contents with snap. Balances of each asset must
// sum to its supply.
func (l *Ledger) Import(snap Snapshot) error {
	assets := make(map[string]*asset, len(snap.Assets))
	for _, rec := range snap.Assets {
		symbol := normalizeSymbol(rec.Symbol)
		if symbol == "" {
			return fmt.Errorf("bank: asset symbol required")
		}
		if _, dup := assets[symbol]; dup {
			return fmt.Errorf("%w: %s", ErrAssetExists, symbol)
		}
		if rec.FeeBps > MaxFeeBps {
			return fmt.Errorf("%w: %s charges %d bps", ErrInvalidFee, symbol, rec.FeeBps)
		}
		supply, err := fromBig(rec.Supply)
		if err != nil {
			return fmt.Errorf("bank: %s supply: %w", symbol, err)
		}
		a := &asset{symbol: symbol, feeBps: rec.FeeBps, supply: supply, balances: make(map[crypto.Address]*uint256.Int, len(rec.Balances))}
		sum := new(uint256.Int)
		for _, row := range rec.Balances {
			account, err := crypto.DecodeAddress(row.Account)
			if err != nil {
				return fmt.Errorf("bank: %s balance account: %w", symbol, err)
			}
			amount, err := fromBig(row.Amount)
			if err != nil {
				return fmt.Errorf("bank: %s balance of %s: %w", symbol, row.Account, err)
			}
			a.balances[account] = amount
			sum = new(uint256.Int).Add(sum, amount)
		}
		if !sum.Eq(supply) {
			return fmt.Errorf("bank: %s balances sum to %s, supply is %s", symbol, sum.Dec(), supply.Dec())
		}
		assets[symbol] = a
	}
	l.mu.Lock()
	l.assets = assets
	l.mu.Unlock()
	return nil
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", v)
	}
	return out, nil
}
