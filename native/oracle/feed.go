package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"moneymarket/crypto"
	"moneymarket/native/lending"
)

var (
	ErrUnauthorized = errors.New("oracle: caller is not the feed admin")
	ErrInvalidPrice = errors.New("oracle: price must be positive")
)

var _ lending.PriceOracle = (*Feed)(nil)

// Params configures a Feed.
type Params struct {
	Address crypto.Address
	Admin   crypto.Address
	// Clock and MaxAge enable staleness: a price older than MaxAge blocks
	// reads as unavailable. A zero MaxAge keeps prices valid forever.
	Clock  lending.Clock
	MaxAge uint64
}

type quote struct {
	price  *uint256.Int
	height uint64
}

// Feed serves admin-published price mantissas keyed by market address.
type Feed struct {
	mu      sync.RWMutex
	address crypto.Address
	admin   crypto.Address
	clock   lending.Clock
	maxAge  uint64
	prices  map[crypto.Address]quote
}

// NewFeed constructs an empty feed.
func NewFeed(params Params) (*Feed, error) {
	if params.Admin.IsZero() {
		return nil, fmt.Errorf("oracle: admin required")
	}
	if params.MaxAge > 0 && params.Clock == nil {
		return nil, fmt.Errorf("oracle: a clock is required when MaxAge is set")
	}
	addr := params.Address
	if addr.IsZero() {
		addr = crypto.DeriveModuleAddress("oracle")
	}
	return &Feed{
		address: addr,
		admin:   params.Admin,
		clock:   params.Clock,
		maxAge:  params.MaxAge,
		prices:  make(map[crypto.Address]quote),
	}, nil
}

func (f *Feed) Address() crypto.Address { return f.address }

func (f *Feed) Admin() crypto.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.admin
}

func (f *Feed) height() uint64 {
	if f.clock == nil {
		return 0
	}
	return f.clock.BlockHeight()
}

// SetPrice publishes the 1e18-scaled price of a market's underlying asset.
func (f *Feed) SetPrice(caller, market crypto.Address, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.admin {
		return ErrUnauthorized
	}
	f.prices[market] = quote{price: new(uint256.Int).Set(price), height: f.height()}
	return nil
}

// ClearPrice withdraws a market's price so it reads as unavailable.
func (f *Feed) ClearPrice(caller, market crypto.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.admin {
		return ErrUnauthorized
	}
	delete(f.prices, market)
	return nil
}

// SetAdmin hands the feed to a new publisher.
func (f *Feed) SetAdmin(caller, admin crypto.Address) error {
	if admin.IsZero() {
		return fmt.Errorf("oracle: admin required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.admin {
		return ErrUnauthorized
	}
	f.admin = admin
	return nil
}

// UnderlyingPrice implements lending.PriceOracle. Missing and stale prices
// are zero.
func (f *Feed) UnderlyingPrice(market crypto.Address) *uint256.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.prices[market]
	if !ok {
		return new(uint256.Int)
	}
	if f.maxAge > 0 {
		if now := f.height(); now > q.height && now-q.height > f.maxAge {
			return new(uint256.Int)
		}
	}
	return new(uint256.Int).Set(q.price)
}

// PriceRecord is the persistable form of one quote.
type PriceRecord struct {
	Market string
	Price  *big.Int
	Height uint64
}

// Export returns every published quote sorted by market.
func (f *Feed) Export() []PriceRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]PriceRecord, 0, len(f.prices))
	for market, q := range f.prices {
		out = append(out, PriceRecord{Market: market.String(), Price: q.price.ToBig(), Height: q.height})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}

// Import replaces the published quotes.
func (f *Feed) Import(records []PriceRecord) error {
	prices := make(map[crypto.Address]quote, len(records))
	for _, rec := range records {
		market, err := crypto.DecodeAddress(rec.Market)
		if err != nil {
			return fmt.Errorf("oracle: price market: %w", err)
		}
		if rec.Price == nil || rec.Price.Sign() <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidPrice, rec.Market)
		}
		price, overflow := uint256.FromBig(rec.Price)
		if overflow {
			return fmt.Errorf("oracle: price of %s overflows 256 bits", rec.Market)
		}
		prices[market] = quote{price: price, height: rec.Height}
	}
	f.mu.Lock()
	f.prices = prices
	f.mu.Unlock()
	return nil
}

// Checkpoint lets a lending host roll back prices published inside a failed
// operation.
func (f *Feed) Checkpoint() func() {
	f.mu.RLock()
	saved := make(map[crypto.Address]quote, len(f.prices))
	for k, v := range f.prices {
		saved[k] = v
	}
	admin := f.admin
	f.mu.RUnlock()
	return func() {
		restored := make(map[crypto.Address]quote, len(saved))
		for k, v := range saved {
			restored[k] = v
		}
		f.mu.Lock()
		f.prices = restored
		f.admin = admin
		f.mu.Unlock()
	}
}
