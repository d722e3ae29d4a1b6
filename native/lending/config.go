package lending

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"moneymarket/core/events"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

// Config is the genesis description of a protocol. Ratios are human
// decimals such as "0.75"; caps and speeds are integer base units.
type Config struct {
	Admin                string          `toml:"Admin"`
	CloseFactor          string          `toml:"CloseFactor"`
	LiquidationIncentive string          `toml:"LiquidationIncentive"`
	PauseGuardian        string          `toml:"PauseGuardian"`
	BorrowCapGuardian    string          `toml:"BorrowCapGuardian"`
	TrustedCaller        string          `toml:"TrustedCaller"`
	RewardAsset          string          `toml:"RewardAsset"`
	Markets              []MarketGenesis `toml:"market"`
}

// MarketGenesis describes one market and its rate model.
type MarketGenesis struct {
	Symbol              string           `toml:"Symbol"`
	Name                string           `toml:"Name"`
	Decimals            uint8            `toml:"Decimals"`
	Underlying          string           `toml:"Underlying"`
	InitialExchangeRate string           `toml:"InitialExchangeRate"`
	ReserveFactor       string           `toml:"ReserveFactor"`
	ProtocolSeizeShare  string           `toml:"ProtocolSeizeShare"`
	CollateralFactor    string           `toml:"CollateralFactor"`
	BorrowCap           string           `toml:"BorrowCap"`
	SupplySpeed         string           `toml:"SupplySpeed"`
	BorrowSpeed         string           `toml:"BorrowSpeed"`
	RateModel           RateModelGenesis `toml:"rate_model"`
}

// RateModelGenesis holds annualised jump rate parameters.
type RateModelGenesis struct {
	// Name defaults to the market symbol. Markets naming the same model
	// share it.
	Name                  string `toml:"Name"`
	BaseRatePerYear       string `toml:"BaseRatePerYear"`
	MultiplierPerYear     string `toml:"MultiplierPerYear"`
	JumpMultiplierPerYear string `toml:"JumpMultiplierPerYear"`
	Kink                  string `toml:"Kink"`
	BlocksPerYear         uint64 `toml:"BlocksPerYear"`
}

// LoadConfig reads a TOML genesis file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read lending genesis: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a TOML genesis document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode lending genesis: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("decode lending genesis: unknown key %s", undecoded[0])
	}
	return cfg, nil
}

// Dependencies are the collaborators Build wires into a protocol.
type Dependencies struct {
	// Assets resolves an underlying asset symbol to its ledger.
	Assets func(symbol string) (Token, error)
	Oracle PriceOracle
	Sink   events.Emitter
	Logger *slog.Logger
	Pauses nativecommon.PauseView
	Height uint64
	// Participants are registered before genesis runs, typically the asset
	// ledger.
	Participants []Revertible
}

// ParseMantissa converts a human decimal into a 1e18 mantissa. Digits past
// the eighteenth decimal place are truncated.
func ParseMantissa(value string) (*uint256.Int, error) {
	return parseScaled(value, 18)
}

// ParseAmount converts an integer string into base units.
func ParseAmount(value string) (*uint256.Int, error) {
	return parseScaled(value, 0)
}

func parseScaled(value string, places int32) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(uint256.Int), nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a decimal", ErrInvalidArguments, value)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidArguments, value)
	}
	scaled := d.Shift(places)
	if places == 0 && !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %q must be an integer", ErrInvalidArguments, value)
	}
	out, overflow := uint256.FromBig(scaled.Truncate(0).BigInt())
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

// genesisReader parses config fields, keeping the first error with the field
// it came from.
type genesisReader struct {
	err error
}

func (r *genesisReader) mantissa(field, value string) *uint256.Int {
	return r.parse(field, value, ParseMantissa)
}

func (r *genesisReader) amount(field, value string) *uint256.Int {
	return r.parse(field, value, ParseAmount)
}

func (r *genesisReader) parse(field, value string, fn func(string) (*uint256.Int, error)) *uint256.Int {
	if r.err != nil {
		return nil
	}
	out, err := fn(value)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", field, err)
		return nil
	}
	return out
}

func (r *genesisReader) optionalMantissa(field, value string) *uint256.Int {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return r.mantissa(field, value)
}

func (r *genesisReader) address(field, value string) crypto.Address {
	if r.err != nil {
		return crypto.Address{}
	}
	addr, err := decodeAddress(strings.TrimSpace(value))
	if err != nil {
		r.err = fmt.Errorf("%s: %w", field, err)
	}
	return addr
}

// Build constructs a protocol from genesis. The whole genesis runs as one
// operation, so a failure leaves nothing half configured.
func Build(cfg Config, deps Dependencies) (*Protocol, error) {
	if deps.Assets == nil {
		return nil, fmt.Errorf("%w: asset resolver required", ErrInvalidArguments)
	}
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("%w: genesis lists no markets", ErrInvalidArguments)
	}
	var r genesisReader
	admin := r.address("Admin", cfg.Admin)
	closeFactor := r.optionalMantissa("CloseFactor", cfg.CloseFactor)
	incentive := r.optionalMantissa("LiquidationIncentive", cfg.LiquidationIncentive)
	pauseGuardian := r.address("PauseGuardian", cfg.PauseGuardian)
	capGuardian := r.address("BorrowCapGuardian", cfg.BorrowCapGuardian)
	trusted := r.address("TrustedCaller", cfg.TrustedCaller)
	if r.err != nil {
		return nil, r.err
	}
	if admin.IsZero() {
		return nil, fmt.Errorf("%w: genesis admin required", ErrInvalidArguments)
	}
	var rewardToken Token
	if asset := strings.TrimSpace(cfg.RewardAsset); asset != "" {
		token, err := deps.Assets(asset)
		if err != nil {
			return nil, fmt.Errorf("reward asset %s: %w", asset, err)
		}
		rewardToken = token
	}

	p := NewProtocol(ProtocolOptions{Height: deps.Height, Sink: deps.Sink, Logger: deps.Logger, Pauses: deps.Pauses})
	for _, participant := range deps.Participants {
		p.Register(participant)
	}
	err := p.Execute(func() error {
		c, err := p.NewComptroller(ComptrollerParams{
			Admin:                admin,
			Oracle:               deps.Oracle,
			CloseFactor:          closeFactor,
			LiquidationIncentive: incentive,
			RewardToken:          rewardToken,
		})
		if err != nil {
			return err
		}
		if !pauseGuardian.IsZero() {
			if err := c.SetPauseGuardian(admin, pauseGuardian); err != nil {
				return err
			}
		}
		if !capGuardian.IsZero() {
			if err := c.SetBorrowCapGuardian(admin, capGuardian); err != nil {
				return err
			}
		}
		if !trusted.IsZero() {
			if err := c.SetTrustedCaller(admin, trusted); err != nil {
				return err
			}
		}
		for i := range cfg.Markets {
			if err := buildMarket(p, c, admin, cfg.Markets[i], deps); err != nil {
				return fmt.Errorf("market %s: %w", cfg.Markets[i].Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("lending protocol built", "markets", len(cfg.Markets), "height", p.BlockHeight())
	return p, nil
}

func buildMarket(p *Protocol, c *Comptroller, admin crypto.Address, spec MarketGenesis, deps Dependencies) error {
	var r genesisReader
	rate := r.mantissa("InitialExchangeRate", spec.InitialExchangeRate)
	reserveFactor := r.mantissa("ReserveFactor", spec.ReserveFactor)
	seizeShare := r.mantissa("ProtocolSeizeShare", spec.ProtocolSeizeShare)
	collateralFactor := r.mantissa("CollateralFactor", spec.CollateralFactor)
	borrowCap := r.amount("BorrowCap", spec.BorrowCap)
	supplySpeed := r.amount("SupplySpeed", spec.SupplySpeed)
	borrowSpeed := r.amount("BorrowSpeed", spec.BorrowSpeed)
	modelParams := JumpRateParams{
		BaseRatePerYear:       r.mantissa("BaseRatePerYear", spec.RateModel.BaseRatePerYear),
		MultiplierPerYear:     r.mantissa("MultiplierPerYear", spec.RateModel.MultiplierPerYear),
		JumpMultiplierPerYear: r.mantissa("JumpMultiplierPerYear", spec.RateModel.JumpMultiplierPerYear),
		Kink:                  r.mantissa("Kink", spec.RateModel.Kink),
		BlocksPerYear:         spec.RateModel.BlocksPerYear,
	}
	if r.err != nil {
		return r.err
	}

	underlyingSymbol := strings.TrimSpace(spec.Underlying)
	if underlyingSymbol == "" {
		underlyingSymbol = spec.Symbol
	}
	underlying, err := deps.Assets(underlyingSymbol)
	if err != nil {
		return fmt.Errorf("underlying %s: %w", underlyingSymbol, err)
	}

	modelName := strings.TrimSpace(spec.RateModel.Name)
	if modelName == "" {
		modelName = strings.TrimSpace(spec.Symbol)
	}
	model, ok := p.RateModel(modelName)
	if !ok {
		model, err = p.NewRateModel(modelName, admin, modelParams)
		if err != nil {
			return err
		}
	}

	m, err := p.NewMarket(MarketParams{
		Name:                spec.Name,
		Symbol:              spec.Symbol,
		Decimals:            spec.Decimals,
		Underlying:          underlying,
		RateModel:           model,
		InitialExchangeRate: rate,
		ReserveFactor:       reserveFactor,
		Admin:               admin,
	})
	if err != nil {
		return err
	}
	if !seizeShare.IsZero() {
		if err := m.SetProtocolSeizeShare(admin, seizeShare); err != nil {
			return err
		}
	}
	if err := c.SupportMarket(admin, m); err != nil {
		return err
	}
	addr := []crypto.Address{m.Address()}
	if !collateralFactor.IsZero() {
		if err := c.SetCollateralFactor(admin, m.Address(), collateralFactor); err != nil {
			return err
		}
	}
	if !borrowCap.IsZero() {
		if err := c.SetMarketBorrowCaps(admin, addr, []*uint256.Int{borrowCap}); err != nil {
			return err
		}
	}
	if !supplySpeed.IsZero() || !borrowSpeed.IsZero() {
		if err := c.SetRewardSpeeds(admin, addr, []*uint256.Int{supplySpeed}, []*uint256.Int{borrowSpeed}); err != nil {
			return err
		}
	}
	return nil
}
