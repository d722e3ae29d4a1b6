package audit

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"moneymarket/core/events"
	"moneymarket/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndList(t *testing.T) {
	store := openTestStore(t)
	market := crypto.NewAddress(crypto.ModulePrefix, bytes.Repeat([]byte{0x01}, crypto.AddressLength))
	minter := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, crypto.AddressLength))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, 4,
		events.LendingMint{Market: market, Minter: minter, Amount: uint256.NewInt(10), Shares: uint256.NewInt(10), TotalShares: uint256.NewInt(10)},
		events.Block{Height: 4, Markets: 1},
	))
	store.SetHeight(func() uint64 { return 5 })
	store.Emit(events.LendingMint{Market: market, Minter: minter, Amount: uint256.NewInt(3), Shares: uint256.NewInt(3), TotalShares: uint256.NewInt(13)})

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypeLendingMint, all[0].Type)
	require.Equal(t, market.String(), all[0].Market)
	require.Equal(t, uint64(5), all[2].Height)

	attrs, err := all[2].Decode()
	require.NoError(t, err)
	require.Equal(t, "13", attrs["totalShares"])

	mints, err := store.List(ctx, Filter{Type: events.TypeLendingMint, AfterID: all[0].ID})
	require.NoError(t, err)
	require.Len(t, mints, 1)
	require.Equal(t, all[2].ID, mints[0].ID)

	byMarket, err := store.List(ctx, Filter{Market: market.String(), Limit: 1})
	require.NoError(t, err)
	require.Len(t, byMarket, 1)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(" ")
	require.Error(t, err)
}

func TestDialectorSelection(t *testing.T) {
	require.Equal(t, "postgres", dialector("postgres://user@localhost/audit").Name())
	require.Equal(t, "postgres", dialector("PostgreSQL://user@localhost/audit").Name())
	require.Equal(t, "sqlite", dialector("/var/lib/lendingd/audit.db").Name())
}
