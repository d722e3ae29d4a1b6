package events

import (
	"testing"

	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

func TestLendingEventFieldOrder(t *testing.T) {
	market := crypto.DeriveModuleAddress("market/usdc")
	minter := crypto.NewAddress(crypto.AccountPrefix, make20(0x01))
	evt := LendingMint{
		Market:      market,
		Minter:      minter,
		Amount:      uint256.NewInt(100),
		Shares:      uint256.NewInt(100),
		TotalShares: uint256.NewInt(100),
	}.Event()
	want := []string{"market", "minter", "amount", "shares", "totalShares"}
	if len(evt.Attributes) != len(want) {
		t.Fatalf("unexpected attribute count %d", len(evt.Attributes))
	}
	for i, key := range want {
		if evt.Attributes[i].Key != key {
			t.Fatalf("attribute %d: got %s want %s", i, evt.Attributes[i].Key, key)
		}
	}
	if v, _ := evt.Get("minter"); v != minter.String() {
		t.Fatalf("unexpected minter %s", v)
	}
}

func TestAdminChangeEventType(t *testing.T) {
	pending := LendingAdminChange{Pending: true}
	if pending.EventType() != TypeLendingNewPendingAdmin {
		t.Fatalf("unexpected type %s", pending.EventType())
	}
	if (LendingAdminChange{}).EventType() != TypeLendingNewAdmin {
		t.Fatalf("expected new admin type")
	}
	exit := LendingMembership{Exited: true}
	if exit.EventType() != TypeLendingMarketExited {
		t.Fatalf("unexpected membership type %s", exit.EventType())
	}
}

func TestActionPausedOmitsZeroMarket(t *testing.T) {
	evt := LendingActionPaused{Action: "Transfer", Paused: true}.Event()
	if _, ok := evt.Get("market"); ok {
		t.Fatalf("global pause should not carry a market")
	}
	if v, _ := evt.Get("paused"); v != "true" {
		t.Fatalf("unexpected paused attr %s", v)
	}
}

func TestBufferCheckpointDiscardsLaterEvents(t *testing.T) {
	var buf Buffer
	buf.Emit(LendingMarketListed{Symbol: "a"})
	restore := buf.Checkpoint()
	buf.Emit(LendingMarketListed{Symbol: "b"})
	buf.Emit(LendingMarketListed{Symbol: "c"})
	restore()
	if buf.Len() != 1 {
		t.Fatalf("expected 1 buffered event, got %d", buf.Len())
	}
	var got []Event
	buf.FlushTo(EmitterFunc(func(evt Event) { got = append(got, evt) }))
	if len(got) != 1 || buf.Len() != 0 {
		t.Fatalf("flush did not drain buffer")
	}
	if rendered := Render(got[0]); rendered.Type != TypeLendingMarketListed {
		t.Fatalf("unexpected rendered type %s", rendered.Type)
	}
}

func make20(b byte) []byte {
	out := make([]byte, crypto.AddressLength)
	for i := range out {
		out[i] = b
	}
	return out
}
