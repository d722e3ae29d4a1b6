package core

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/core/genesis"
	"moneymarket/crypto"
	"moneymarket/native/lending"
	"moneymarket/native/oracle"
	lendingstate "moneymarket/state/lending"
	"moneymarket/storage"
)

const nodeGenesis = `
[[asset]]
Symbol = "USD"

[[alloc]]
Account = "%[1]s"
Asset = "USD"
Amount = "10000"

[[price]]
Market = "mUSD"
Price = "1"

[lending]
Admin = "%[2]s"

[[lending.market]]
Symbol = "mUSD"
Underlying = "USD"
InitialExchangeRate = "1"
ReserveFactor = "0.1"
CollateralFactor = "0.8"

  [lending.market.rate_model]
  BaseRatePerYear = "0"
  MultiplierPerYear = "10"
  JumpMultiplierPerYear = "10"
  Kink = "0.9"
  BlocksPerYear = 100
`

var (
	holder = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x11}, crypto.AddressLength))
	admin  = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0xAD}, crypto.AddressLength))
)

func newTestNode(t *testing.T, db storage.Database, sink events.Emitter) *Node {
	t.Helper()
	return newTestNodeWith(t, db, NodeOptions{Sink: sink})
}

func newTestNodeWith(t *testing.T, db storage.Database, opts NodeOptions) *Node {
	t.Helper()
	spec, err := genesis.Parse([]byte(fmt.Sprintf(nodeGenesis, holder, admin)))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	node, err := NewNode(db, spec, opts)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func supplyAndBorrow(t *testing.T, node *Node) *lending.Market {
	t.Helper()
	p := node.Protocol()
	m, err := p.MarketBySymbol("mUSD")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	err = node.Execute(func() error {
		if _, err := m.Mint(holder, uint256.NewInt(1000)); err != nil {
			return err
		}
		if err := p.Comptroller().EnterMarkets(holder, []crypto.Address{m.Address()}); err != nil {
			return err
		}
		return m.Borrow(holder, uint256.NewInt(500))
	})
	if err != nil {
		t.Fatalf("supply and borrow: %v", err)
	}
	return m
}

func TestNodeCommitAndResume(t *testing.T) {
	db := storage.NewMemDB()
	sink := &events.Buffer{}
	node := newTestNode(t, db, sink)
	m := supplyAndBorrow(t, node)

	height, err := node.CommitBlock()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if height != 1 {
		t.Fatalf("height %d, want 1", height)
	}
	var sawBlock bool
	for _, evt := range sink.Drain() {
		if blk, ok := evt.(events.Block); ok && blk.Height == 1 && blk.Markets == 1 {
			sawBlock = true
		}
	}
	if !sawBlock {
		t.Fatalf("expected block event")
	}

	history, err := node.Store().History(m.Address().String(), 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Height != 1 || history[0].TotalBorrows.Int64() != 500 {
		t.Fatalf("unexpected history %+v", history)
	}

	resumed := newTestNode(t, db, nil)
	if resumed.Height() != 1 {
		t.Fatalf("resumed height %d", resumed.Height())
	}
	rm, err := resumed.Protocol().MarketBySymbol("mUSD")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if rm.BalanceOf(holder).Uint64() != 1000 {
		t.Fatalf("shares not restored: %s", rm.BalanceOf(holder).Dec())
	}
	if got := resumed.Ledger().BalanceOf("USD", holder).Uint64(); got != 9500 {
		t.Fatalf("underlying balance %d, want 9500", got)
	}
	if !resumed.Protocol().Comptroller().CheckMembership(holder, rm.Address()) {
		t.Fatalf("membership not restored")
	}
}

func countType(evts []events.Event, eventType string) int {
	count := 0
	for _, evt := range evts {
		if evt.EventType() == eventType {
			count++
		}
	}
	return count
}

func TestNodeGenesisEventsDeliveredOnce(t *testing.T) {
	db := storage.NewMemDB()
	first := &events.Buffer{}
	newTestNode(t, db, first)
	if got := countType(first.Drain(), events.TypeLendingMarketListed); got != 1 {
		t.Fatalf("fresh node delivered %d listing events, want 1", got)
	}
	second := &events.Buffer{}
	newTestNode(t, db, second)
	if got := countType(second.Drain(), events.TypeLendingMarketListed); got != 0 {
		t.Fatalf("resumed node replayed %d listing events", got)
	}
}

func TestNodeOnCommitReceivesSamples(t *testing.T) {
	var heights []uint64
	var sampled int
	node := newTestNodeWith(t, storage.NewMemDB(), NodeOptions{
		OnCommit: func(height uint64, samples []lendingstate.HistoryRecord) {
			heights = append(heights, height)
			sampled += len(samples)
		},
	})
	for i := 0; i < 2; i++ {
		if _, err := node.CommitBlock(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	if len(heights) != 2 || heights[1] != 2 || sampled != 2 {
		t.Fatalf("unexpected commit callbacks %v (%d samples)", heights, sampled)
	}
}

func TestNodeSetPriceAndFaucet(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), nil)
	err := node.SetPrice(holder, "mUSD", uint256.NewInt(2))
	if !errors.Is(err, oracle.ErrUnauthorized) {
		t.Fatalf("expected unauthorized price update, got %v", err)
	}
	if err := node.SetPrice(node.OracleAdmin(), "mUSD", uint256.NewInt(2)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if node.Oracle().UnderlyingPrice(lending.MarketAddress("mUSD")).Uint64() != 2 {
		t.Fatalf("price not published")
	}
	if err := node.SetPrice(node.OracleAdmin(), "mXYZ", uint256.NewInt(2)); !errors.Is(err, lending.ErrUnknownMarket) {
		t.Fatalf("expected unknown market, got %v", err)
	}

	if err := node.Faucet("USD", admin, uint256.NewInt(42)); err != nil {
		t.Fatalf("faucet: %v", err)
	}
	if node.Ledger().BalanceOf("USD", admin).Uint64() != 42 {
		t.Fatalf("faucet did not credit")
	}
	if err := node.Faucet("USD", admin, new(uint256.Int)); err == nil {
		t.Fatalf("expected zero faucet amount to fail")
	}
}
