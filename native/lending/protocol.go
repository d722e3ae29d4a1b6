package lending

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"moneymarket/core/events"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

// ProtocolOptions configures a Protocol host.
type ProtocolOptions struct {
	// Height is the initial block height.
	Height uint64
	// Sink receives the events of committed operations in emission order.
	Sink   events.Emitter
	Logger *slog.Logger
	Pauses nativecommon.PauseView
}

// Protocol hosts one risk engine and its markets. Every state-changing
// operation runs through Execute, which serialises callers and rolls back
// all registered participants when the operation fails.
type Protocol struct {
	mu sync.Mutex

	height atomic.Uint64
	buffer *events.Buffer
	sink   events.Emitter
	logger *slog.Logger
	pauses nativecommon.PauseView

	comptroller  *Comptroller
	markets      []*Market
	byAddress    map[crypto.Address]*Market
	models       map[string]*JumpRateModel
	participants []Revertible

	halted error
}

// NewProtocol constructs an empty host.
func NewProtocol(opts ProtocolOptions) *Protocol {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	p := &Protocol{
		buffer:    &events.Buffer{},
		sink:      sink,
		logger:    logger.With("module", moduleName),
		pauses:    opts.Pauses,
		byAddress: make(map[crypto.Address]*Market),
		models:    make(map[string]*JumpRateModel),
	}
	p.height.Store(opts.Height)
	return p
}

// BlockHeight implements Clock.
func (p *Protocol) BlockHeight() uint64 { return p.height.Load() }

// SetBlockHeight advances the host clock. Heights never move backwards.
func (p *Protocol) SetBlockHeight(height uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current := p.height.Load(); height < current {
		return fmt.Errorf("%w: %d < %d", ErrHeightRegressed, height, current)
	}
	p.height.Store(height)
	return nil
}

// Register adds an external component, such as the underlying asset ledger,
// to the set checkpointed by Execute.
func (p *Protocol) Register(participant Revertible) {
	if participant == nil {
		return
	}
	p.participants = append(p.participants, participant)
}

// Emitter returns the buffer operations emit into. Events reach the sink
// only when the surrounding Execute commits.
func (p *Protocol) Emitter() events.Emitter { return p.buffer }

// NewComptroller installs the risk engine. Clock, emitter and pause view
// default to the host's.
func (p *Protocol) NewComptroller(params ComptrollerParams) (*Comptroller, error) {
	if p.comptroller != nil {
		return nil, fmt.Errorf("%w: risk engine already installed", ErrInvalidArguments)
	}
	if params.Clock == nil {
		params.Clock = p
	}
	if params.Emitter == nil {
		params.Emitter = p.buffer
	}
	if params.Pauses == nil {
		params.Pauses = p.pauses
	}
	c, err := NewComptroller(params)
	if err != nil {
		return nil, err
	}
	p.comptroller = c
	p.participants = append(p.participants, c)
	return c, nil
}

// NewRateModel constructs and registers a jump rate model under name.
func (p *Protocol) NewRateModel(name string, owner crypto.Address, params JumpRateParams) (*JumpRateModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: rate model name required", ErrInvalidRateModel)
	}
	if _, exists := p.models[name]; exists {
		return nil, fmt.Errorf("%w: rate model %s already registered", ErrInvalidRateModel, name)
	}
	model, err := NewJumpRateModel(name, owner, params, p.buffer)
	if err != nil {
		return nil, err
	}
	p.models[name] = model
	p.participants = append(p.participants, model)
	return model, nil
}

// NewMarket constructs and registers a market. The controller defaults to
// the installed risk engine.
func (p *Protocol) NewMarket(params MarketParams) (*Market, error) {
	if params.Controller == nil && p.comptroller != nil {
		params.Controller = p.comptroller
	}
	if params.Clock == nil {
		params.Clock = p
	}
	if params.Emitter == nil {
		params.Emitter = p.buffer
	}
	m, err := NewMarket(params)
	if err != nil {
		return nil, err
	}
	if _, exists := p.byAddress[m.Address()]; exists {
		return nil, ErrMarketAlreadyListed
	}
	p.markets = append(p.markets, m)
	p.byAddress[m.Address()] = m
	p.participants = append(p.participants, m)
	return m, nil
}

// Comptroller returns the installed risk engine.
func (p *Protocol) Comptroller() *Comptroller { return p.comptroller }

// Market returns the market registered at addr.
func (p *Protocol) Market(addr crypto.Address) (*Market, error) {
	m, ok := p.byAddress[addr]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return m, nil
}

// MarketBySymbol returns the market with the given symbol, ignoring case.
func (p *Protocol) MarketBySymbol(symbol string) (*Market, error) {
	for _, m := range p.markets {
		if strings.EqualFold(m.Symbol(), strings.TrimSpace(symbol)) {
			return m, nil
		}
	}
	return nil, ErrUnknownMarket
}

// Markets returns the registered markets in registration order.
func (p *Protocol) Markets() []*Market {
	return append([]*Market(nil), p.markets...)
}

// RateModel returns the rate model registered under name.
func (p *Protocol) RateModel(name string) (*JumpRateModel, bool) {
	model, ok := p.models[name]
	return model, ok
}

// RateModels returns the registered model names in sorted order.
func (p *Protocol) RateModels() []string {
	names := make([]string, 0, len(p.models))
	for name := range p.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Halted returns the fatal error that stopped the host, if any.
func (p *Protocol) Halted() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Execute runs fn as one atomic operation. On error every participant is
// restored and the operation's events are discarded. A fatal error halts
// the host and every later Execute fails with ErrHalted.
func (p *Protocol) Execute(fn func() error) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted != nil {
		return ErrHalted
	}

	restores := make([]func(), len(p.participants))
	for i, participant := range p.participants {
		restores[i] = participant.Checkpoint()
	}
	marketCount, participantCount := len(p.markets), len(p.participants)
	comptroller := p.comptroller
	modelNames := p.RateModels()
	discard := p.buffer.Checkpoint()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHalted, r)
		}
		if err == nil {
			p.buffer.FlushTo(p.sink)
			return
		}
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		p.forget(marketCount, participantCount, comptroller, modelNames)
		discard()
		if IsFatal(err) {
			p.halted = err
			p.logger.Error("lending protocol halted", "height", p.BlockHeight(), "error", err)
			return
		}
		p.logger.Debug("lending operation rolled back", "height", p.BlockHeight(), "code", CodeOf(err), "error", err)
	}()

	return fn()
}

// forget drops components constructed by a rolled back operation.
func (p *Protocol) forget(marketCount, participantCount int, comptroller *Comptroller, modelNames []string) {
	for _, m := range p.markets[marketCount:] {
		delete(p.byAddress, m.Address())
	}
	p.markets = p.markets[:marketCount]
	p.participants = p.participants[:participantCount]
	p.comptroller = comptroller
	keep := make(map[string]struct{}, len(modelNames))
	for _, name := range modelNames {
		keep[name] = struct{}{}
	}
	for name := range p.models {
		if _, ok := keep[name]; !ok {
			delete(p.models, name)
		}
	}
}

// View runs read-only fn under the host lock.
func (p *Protocol) View(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn()
}
