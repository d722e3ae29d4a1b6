package genesis

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"moneymarket/crypto"
	"moneymarket/native/bank"
	"moneymarket/native/lending"
	"moneymarket/native/oracle"
)

// Spec is the genesis of a lending node: the underlying asset ledger, the
// initial oracle quotes and the protocol itself.
type Spec struct {
	OracleAdmin  string         `toml:"OracleAdmin"`
	OracleMaxAge uint64         `toml:"OracleMaxAge"`
	Assets       []AssetSpec    `toml:"asset"`
	Alloc        []AllocSpec    `toml:"alloc"`
	Prices       []PriceSpec    `toml:"price"`
	Lending      lending.Config `toml:"lending"`
}

type AssetSpec struct {
	Symbol string `toml:"Symbol"`
	FeeBps uint64 `toml:"FeeBps"`
}

// AllocSpec credits Amount base units of Asset to Account.
type AllocSpec struct {
	Account string `toml:"Account"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// PriceSpec quotes the underlying of the market listed under Market as a
// human decimal.
type PriceSpec struct {
	Market string `toml:"Market"`
	Price  string `toml:"Price"`
}

// Load reads a TOML genesis file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(data)
}

// Parse decodes a TOML genesis document. Unknown keys are rejected.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	meta, err := toml.Decode(string(data), &spec)
	if err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode genesis: unknown key %s", undecoded[0])
	}
	return &spec, nil
}

// OracleAdminAddress resolves the feed publisher, defaulting to the protocol
// admin.
func (s *Spec) OracleAdminAddress() (crypto.Address, error) {
	value := strings.TrimSpace(s.OracleAdmin)
	if value == "" {
		value = strings.TrimSpace(s.Lending.Admin)
	}
	if value == "" {
		return crypto.Address{}, fmt.Errorf("genesis: oracle admin required")
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("genesis: oracle admin: %w", err)
	}
	return addr, nil
}

// Seed registers the assets and allocations of s on ledger. Assets are
// registered in symbol order.
func (s *Spec) Seed(ledger *bank.Ledger) error {
	assets := append([]AssetSpec(nil), s.Assets...)
	sort.Slice(assets, func(i, j int) bool {
		return strings.ToUpper(assets[i].Symbol) < strings.ToUpper(assets[j].Symbol)
	})
	for _, asset := range assets {
		if err := ledger.RegisterAsset(asset.Symbol, asset.FeeBps); err != nil {
			return fmt.Errorf("genesis asset %s: %w", asset.Symbol, err)
		}
	}
	for i, alloc := range s.Alloc {
		account, err := crypto.DecodeAddress(alloc.Account)
		if err != nil {
			return fmt.Errorf("genesis alloc %d: account: %w", i, err)
		}
		amount, err := lending.ParseAmount(alloc.Amount)
		if err != nil {
			return fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		if amount.IsZero() {
			continue
		}
		if err := ledger.Mint(alloc.Asset, account, amount); err != nil {
			return fmt.Errorf("genesis alloc %d: %w", i, err)
		}
	}
	return nil
}

// Quote publishes the genesis prices on feed. Prices are keyed by market
// symbol and resolve to the default market address.
func (s *Spec) Quote(feed *oracle.Feed, admin crypto.Address) error {
	for _, price := range s.Prices {
		symbol := strings.TrimSpace(price.Market)
		if symbol == "" {
			return fmt.Errorf("genesis price: market required")
		}
		mantissa, err := lending.ParseMantissa(price.Price)
		if err != nil {
			return fmt.Errorf("genesis price %s: %w", symbol, err)
		}
		if err := feed.SetPrice(admin, lending.MarketAddress(symbol), mantissa); err != nil {
			return fmt.Errorf("genesis price %s: %w", symbol, err)
		}
	}
	return nil
}

// Ensure the ledger view satisfies the market underlying interface.
var _ lending.Token = (*bank.Token)(nil)

// Resolver adapts ledger to lending.Dependencies.Assets.
func Resolver(ledger *bank.Ledger) func(symbol string) (lending.Token, error) {
	return func(symbol string) (lending.Token, error) {
		token, err := ledger.Token(symbol)
		if err != nil {
			return nil, err
		}
		return token, nil
	}
}
