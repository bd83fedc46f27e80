package model

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func entry(id uint64, seller common.Address, sold bool) CatalogEntry {
	return CatalogEntry{
		Item:       Item{ItemId: id, TokenId: id, Price: big.NewInt(100), Seller: seller, Sold: sold},
		TotalPrice: big.NewInt(101),
	}
}

func testSnapshot() *Snapshot {
	return &Snapshot{
		ItemCount: 4,
		Unsold:    []CatalogEntry{entry(1, alice, false), entry(4, bob, false)},
		Sold:      []CatalogEntry{entry(2, alice, true), entry(3, bob, true)},
	}
}

func TestSnapshotEntriesOrdered(t *testing.T) {
	entries := testSnapshot().Entries()
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.ItemId)
	}
}

func TestSnapshotBySeller(t *testing.T) {
	view := testSnapshot().BySeller(alice)
	require.Len(t, view.Listed, 2)
	assert.Equal(t, uint64(1), view.Listed[0].ItemId)
	assert.Equal(t, uint64(2), view.Listed[1].ItemId)
	require.Len(t, view.Sold, 1)
	assert.Equal(t, uint64(2), view.Sold[0].ItemId)

	empty := testSnapshot().BySeller(common.HexToAddress("0x01"))
	assert.Empty(t, empty.Listed)
	assert.Empty(t, empty.Sold)
}

func TestSnapshotNotBySellerAndLookup(t *testing.T) {
	s := testSnapshot()
	others := s.NotBySeller(alice)
	require.Len(t, others, 1)
	assert.Equal(t, uint64(4), others[0].ItemId)

	e, ok := s.Lookup(3)
	require.True(t, ok)
	assert.True(t, e.Sold)
	_, ok = s.Lookup(9)
	assert.False(t, ok)
}
