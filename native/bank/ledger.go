package bank

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

// MaxFeeBps bounds the transfer fee of an asset at 10%.
const MaxFeeBps = 1_000

var (
	ErrUnknownAsset        = errors.New("bank: unknown asset")
	ErrAssetExists         = errors.New("bank: asset already registered")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidFee          = errors.New("bank: transfer fee out of bounds")
)

type asset struct {
	symbol   string
	feeBps   uint64
	supply   *uint256.Int
	balances map[crypto.Address]*uint256.Int
}

func (a *asset) clone() *asset {
	out := *a
	out.balances = make(map[crypto.Address]*uint256.Int, len(a.balances))
	for k, v := range a.balances {
		out.balances[k] = v
	}
	return &out
}

// Ledger is an in-memory multi-asset balance book. Assets may charge a fee on
// transfer; the fee is burned and never reaches the recipient. Stored values
// are never mutated in place.
type Ledger struct {
	mu      sync.RWMutex
	emitter events.Emitter
	assets  map[string]*asset
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}, assets: make(map[string]*asset)}
}

// SetEmitter routes transfer and supply records to emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.mu.Lock()
	l.emitter = emitter
	l.mu.Unlock()
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// RegisterAsset adds an asset with the given transfer fee in basis points.
func (l *Ledger) RegisterAsset(symbol string, feeBps uint64) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("bank: asset symbol required")
	}
	if feeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps", ErrInvalidFee, feeBps)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.assets[normalized]; exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, normalized)
	}
	l.assets[normalized] = &asset{
		symbol:   normalized,
		feeBps:   feeBps,
		supply:   new(uint256.Int),
		balances: make(map[crypto.Address]*uint256.Int),
	}
	return nil
}

// Assets returns the registered symbols in sorted order.
func (l *Ledger) Assets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.assets))
	for symbol := range l.assets {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) lookup(symbol string) (*asset, error) {
	a, ok := l.assets[normalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, normalizeSymbol(symbol))
	}
	return a, nil
}

// FeeBps returns the transfer fee of symbol.
func (l *Ledger) FeeBps(symbol string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.lookup(symbol)
	if err != nil {
		return 0, err
	}
	return a.feeBps, nil
}

// BalanceOf returns the balance of account in symbol. Unknown assets report
// zero.
func (l *Ledger) BalanceOf(symbol string, account crypto.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.lookup(symbol)
	if err != nil {
		return new(uint256.Int)
	}
	if balance := a.balances[account]; balance != nil {
		return new(uint256.Int).Set(balance)
	}
	return new(uint256.Int)
}

// TotalSupply returns the outstanding supply of symbol.
func (l *Ledger) TotalSupply(symbol string) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(a.supply), nil
}

// Mint credits amount of newly issued symbol to account.
func (l *Ledger) Mint(symbol string, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	a, err := l.lookup(symbol)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	supply, overflow := new(uint256.Int).AddOverflow(a.supply, amount)
	if overflow {
		l.mu.Unlock()
		return fmt.Errorf("bank: %s supply overflow", a.symbol)
	}
	a.supply = supply
	a.balances[to] = new(uint256.Int).Add(balanceOf(a, to), amount)
	emitter := l.emitter
	l.mu.Unlock()

	emitter.Emit(events.TokenSupply{Token: a.symbol, Total: new(uint256.Int).Set(supply), Delta: new(uint256.Int).Set(amount), Reason: events.SupplyReasonMint})
	return nil
}

// Transfer moves amount of symbol from one account to another. The recipient
// is credited amount less the asset's fee.
func (l *Ledger) Transfer(symbol string, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	l.mu.Lock()
	a, err := l.lookup(symbol)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	balance := balanceOf(a, from)
	if balance.Lt(amount) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, balance.Dec(), a.symbol, amount.Dec())
	}
	fee := new(uint256.Int).Mul(amount, uint256.NewInt(a.feeBps))
	fee.Div(fee, uint256.NewInt(10_000))
	credited := new(uint256.Int).Sub(amount, fee)

	a.balances[from] = new(uint256.Int).Sub(balance, amount)
	a.balances[to] = new(uint256.Int).Add(balanceOf(a, to), credited)
	var supply *uint256.Int
	if !fee.IsZero() {
		a.supply = new(uint256.Int).Sub(a.supply, fee)
		supply = new(uint256.Int).Set(a.supply)
	}
	emitter := l.emitter
	l.mu.Unlock()

	emitter.Emit(events.Transfer{Asset: a.symbol, From: from, To: to, Amount: credited, Fee: fee})
	if supply != nil {
		emitter.Emit(events.TokenSupply{Token: a.symbol, Total: supply, Delta: new(uint256.Int).Set(fee), Reason: events.SupplyReasonFee})
	}
	return nil
}

func balanceOf(a *asset, account crypto.Address) *uint256.Int {
	if balance := a.balances[account]; balance != nil {
		return balance
	}
	return new(uint256.Int)
}

// Checkpoint snapshots every asset and returns a function restoring it.
func (l *Ledger) Checkpoint() func() {
	l.mu.RLock()
	saved := make(map[string]*asset, len(l.assets))
	for symbol, a := range l.assets {
		saved[symbol] = a.clone()
	}
	l.mu.RUnlock()
	return func() {
		restored := make(map[string]*asset, len(saved))
		for symbol, a := range saved {
			restored[symbol] = a.clone()
		}
		l.mu.Lock()
		l.assets = restored
		l.mu.Unlock()
	}
}
