package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/core/genesis"
	"moneymarket/crypto"
	"moneymarket/native/bank"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending"
	"moneymarket/native/oracle"
	lendingstate "moneymarket/state/lending"
	"moneymarket/storage"
)

// NodeOptions configures a Node.
type NodeOptions struct {
	Logger *slog.Logger
	// Sink receives committed protocol, ledger and block events.
	Sink   events.Emitter
	Pauses nativecommon.PauseView

	// OnCommit, when set, receives the history samples of every committed
	// block.
	OnCommit func(height uint64, samples []lendingstate.HistoryRecord)
}

// Node is the central controller, wiring the asset ledger, the price feed,
// the lending protocol and persistence together.
type Node struct {
	mu sync.Mutex

	protocol    *lending.Protocol
	ledger      *bank.Ledger
	feed        *oracle.Feed
	oracleAdmin crypto.Address
	store       *lendingstate.Store
	sink        events.Emitter
	onCommit    func(uint64, []lendingstate.HistoryRecord)
	logger      *slog.Logger
}

// genesisGate holds the events of the genesis build until the node knows
// whether it starts fresh. A resumed node drops them; they were delivered on
// first boot.
type genesisGate struct {
	held events.Buffer
	open bool
	sink events.Emitter
}

func (g *genesisGate) Emit(evt events.Event) {
	if g.open {
		g.sink.Emit(evt)
		return
	}
	g.held.Emit(evt)
}

func (g *genesisGate) release(deliver bool) {
	if deliver {
		g.held.FlushTo(g.sink)
	} else {
		g.held.Drain()
	}
	g.open = true
}

type clockFunc func() uint64

func (f clockFunc) BlockHeight() uint64 { return f() }

// NewNode builds the protocol from spec and resumes from the latest
// checkpoint in db when one exists. A fresh database receives the genesis
// checkpoint.
func NewNode(db storage.Database, spec *genesis.Spec, opts NodeOptions) (*Node, error) {
	if db == nil || spec == nil {
		return nil, fmt.Errorf("node: database and genesis required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.NoopEmitter{}
	}

	ledger := bank.NewLedger()
	if err := spec.Seed(ledger); err != nil {
		return nil, err
	}
	oracleAdmin, err := spec.OracleAdminAddress()
	if err != nil {
		return nil, err
	}
	var protocol *lending.Protocol
	clock := clockFunc(func() uint64 {
		if protocol == nil {
			return 0
		}
		return protocol.BlockHeight()
	})
	feed, err := oracle.NewFeed(oracle.Params{Admin: oracleAdmin, Clock: clock, MaxAge: spec.OracleMaxAge})
	if err != nil {
		return nil, err
	}
	if err := spec.Quote(feed, oracleAdmin); err != nil {
		return nil, err
	}

	gate := &genesisGate{sink: sink}
	protocol, err = lending.Build(spec.Lending, lending.Dependencies{
		Assets:       genesis.Resolver(ledger),
		Oracle:       feed,
		Sink:         gate,
		Logger:       logger,
		Pauses:       opts.Pauses,
		Participants: []lending.Revertible{ledger, feed},
	})
	if err != nil {
		return nil, fmt.Errorf("node: build protocol: %w", err)
	}
	ledger.SetEmitter(protocol.Emitter())

	n := &Node{
		protocol:    protocol,
		ledger:      ledger,
		feed:        feed,
		oracleAdmin: oracleAdmin,
		store:       lendingstate.NewStore(db),
		sink:        sink,
		onCommit:    opts.OnCommit,
		logger:      logger.With("component", "node"),
	}
	cp, err := n.store.Load()
	switch {
	case errors.Is(err, lendingstate.ErrNoCheckpoint):
		if err := n.Persist(); err != nil {
			return nil, err
		}
		gate.release(true)
		n.logger.Info("genesis checkpoint written", "markets", len(protocol.Markets()))
	case err != nil:
		return nil, fmt.Errorf("node: load checkpoint: %w", err)
	default:
		if err := n.restore(cp); err != nil {
			return nil, fmt.Errorf("node: restore checkpoint at %d: %w", cp.Height, err)
		}
		gate.release(false)
		n.logger.Info("resumed from checkpoint", "height", cp.Height)
	}
	return n, nil
}

func (n *Node) restore(cp lendingstate.Checkpoint) error {
	if err := n.ledger.Import(cp.Bank); err != nil {
		return err
	}
	if err := n.feed.Import(cp.Prices); err != nil {
		return err
	}
	return n.protocol.Import(cp.Lending)
}

func (n *Node) Protocol() *lending.Protocol   { return n.protocol }
func (n *Node) Ledger() *bank.Ledger          { return n.ledger }
func (n *Node) Oracle() *oracle.Feed          { return n.feed }
func (n *Node) Store() *lendingstate.Store    { return n.store }
func (n *Node) OracleAdmin() crypto.Address   { return n.oracleAdmin }
func (n *Node) Height() uint64                { return n.protocol.BlockHeight() }
func (n *Node) Execute(fn func() error) error { return n.protocol.Execute(fn) }

// Persist writes a consistent checkpoint of the protocol, ledger and feed.
func (n *Node) Persist() error {
	var snap bank.Snapshot
	var prices []oracle.PriceRecord
	state, err := n.protocol.ExportWith(func() {
		snap = n.ledger.Export()
		prices = n.feed.Export()
	})
	if err != nil {
		return fmt.Errorf("node: export: %w", err)
	}
	return n.store.Save(lendingstate.Checkpoint{Height: state.Height, Lending: state, Bank: snap, Prices: prices})
}

// CommitBlock advances the clock by one block, then persists the checkpoint
// and a history sample of every market. It returns the new height.
func (n *Node) CommitBlock() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.protocol.Halted(); err != nil {
		return n.Height(), err
	}
	next := n.protocol.BlockHeight() + 1
	if err := n.protocol.SetBlockHeight(next); err != nil {
		return n.Height(), err
	}
	if err := n.Persist(); err != nil {
		return next, err
	}
	samples, err := lendingstate.Sample(n.protocol)
	if err != nil {
		return next, fmt.Errorf("node: sample history: %w", err)
	}
	if err := n.store.AppendHistory(samples...); err != nil {
		return next, err
	}
	n.sink.Emit(events.Block{Height: next, Markets: len(samples)})
	if n.onCommit != nil {
		n.onCommit(next, samples)
	}
	return next, nil
}

// Faucet mints amount of an underlying asset to account.
func (n *Node) Faucet(symbol string, to crypto.Address, amount *uint256.Int) error {
	return n.protocol.Execute(func() error {
		return n.ledger.Mint(symbol, to, amount)
	})
}

// SetPrice publishes the price of the underlying of the market listed under
// symbol.
func (n *Node) SetPrice(caller crypto.Address, symbol string, price *uint256.Int) error {
	return n.protocol.Execute(func() error {
		m, err := n.protocol.MarketBySymbol(symbol)
		if err != nil {
			return err
		}
		return n.feed.SetPrice(caller, m.Address(), price)
	})
}
