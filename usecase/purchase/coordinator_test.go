package purchase

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-onchain/model"
	"nft-market-onchain/testutil/memchain"
	"nft-market-onchain/usecase/session"
)

var (
	seller = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	feeTo  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

type countingRefresher struct{ calls int }

func (r *countingRefresher) Refresh(ctx context.Context) (*model.Snapshot, error) {
	r.calls++
	return &model.Snapshot{}, nil
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// listed は seller が price で出品した台帳を作る
func listed(t *testing.T, price *big.Int) *memchain.Chain {
	t.Helper()
	ctx := context.Background()
	chain := memchain.New(1, feeTo)
	nft := chain.NFT(seller)
	_, err := nft.Mint(ctx, "https://ipfs.test/ipfs/x")
	require.NoError(t, err)
	_, err = nft.SetApprovalForAll(ctx, chain.MarketAddr, true)
	require.NoError(t, err)
	_, _, err = chain.Marketplace(seller).MakeItem(ctx, chain.NFTAddr, 1, price)
	require.NoError(t, err)
	chain.ResetCalls()
	return chain
}

func coordinator(chain *memchain.Chain, account common.Address) (*Coordinator, *countingRefresher) {
	r := &countingRefresher{}
	s := &session.Session{
		Account:     account,
		ChainID:     big.NewInt(31337),
		Marketplace: chain.Marketplace(account),
		NFT:         chain.NFT(account),
	}
	return NewCoordinator(s, r), r
}

func TestPurchasePaysExactTotal(t *testing.T) {
	chain := listed(t, eth(2))
	chain.Fund(buyer, eth(10))
	c, refresher := coordinator(chain, buyer)

	quote, err := c.Quote(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "2020000000000000000", quote.String())

	res, err := c.Purchase(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, quote.String(), res.TotalPrice.String())
	require.NotNil(t, res.Event)
	assert.Equal(t, model.EventBought, res.Event.Type)
	assert.Equal(t, buyer, res.Event.Buyer)
	assert.Equal(t, res.Receipt.TxHash, res.Event.TxHash)

	assert.Equal(t, buyer, chain.Owner(1))
	assert.Equal(t, new(big.Int).Sub(eth(10), quote).String(), chain.Balance(buyer).String())
	assert.Equal(t, eth(2).String(), chain.Balance(seller).String())
	assert.Equal(t, "20000000000000000", chain.Balance(feeTo).String())
	assert.Equal(t, 1, refresher.calls)
}

func TestPurchaseReReadsTotalBeforeSending(t *testing.T) {
	chain := listed(t, eth(2))
	chain.Fund(buyer, eth(10))
	c, _ := coordinator(chain, buyer)

	_, err := c.Quote(context.Background(), 1)
	require.NoError(t, err)
	chain.ResetCalls()

	_, err = c.Purchase(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"getTotalPrice", "purchaseItem"}, chain.Calls())
}

func TestPurchaseFailures(t *testing.T) {
	cases := []struct {
		name   string
		prep   func(t *testing.T, chain *memchain.Chain)
		itemId uint64
		kind   model.ErrorKind
		reason model.RevertReason
	}{
		{
			name:   "already sold",
			prep:   soldTo,
			itemId: 1,
			kind:   model.KindChainCall,
			reason: model.ReasonItemSold,
		},
		{
			name:   "unknown item",
			itemId: 42,
			kind:   model.KindChainCall,
			reason: model.ReasonItemNotFound,
		},
		{
			name:   "insufficient payment revert",
			prep:   func(t *testing.T, chain *memchain.Chain) { chain.Fail("purchaseItem", 1, memchain.Revert("not enough ether to cover item price and market fee")) },
			itemId: 1,
			kind:   model.KindChainCall,
			reason: model.ReasonInsufficientPayment,
		},
		{
			name:   "price read fails",
			prep:   func(t *testing.T, chain *memchain.Chain) { chain.Fail("getTotalPrice", 1, errors.New("node unavailable")) },
			itemId: 1,
			kind:   model.KindChainCall,
			reason: model.ReasonNone,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain := listed(t, eth(2))
			chain.Fund(buyer, eth(10))
			if tc.prep != nil {
				tc.prep(t, chain)
			}
			c, refresher := coordinator(chain, buyer)

			_, err := c.Purchase(context.Background(), tc.itemId)
			require.Error(t, err)
			assert.Equal(t, tc.kind, model.KindOf(err))
			var cerr *model.ChainCallError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tc.reason, cerr.Reason)
			assert.Zero(t, refresher.calls)
			assert.Equal(t, eth(10).String(), chain.Balance(buyer).String())
		})
	}
}

func TestPurchaseWithoutFundsIsTransportError(t *testing.T) {
	chain := listed(t, eth(2))
	c, refresher := coordinator(chain, buyer)

	_, err := c.Purchase(context.Background(), 1)
	var cerr *model.ChainCallError
	require.True(t, errors.As(err, &cerr))
	assert.False(t, cerr.Reverted())
	assert.Equal(t, chain.MarketAddr, chain.Owner(1))
	assert.Zero(t, refresher.calls)
}

// soldTo は別の購入者に item 1 を購入させる
func soldTo(t *testing.T, chain *memchain.Chain) {
	t.Helper()
	other := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	chain.Fund(other, eth(10))
	m := chain.Marketplace(other)
	total, err := m.TotalPrice(context.Background(), 1)
	require.NoError(t, err)
	_, _, err = m.PurchaseItem(context.Background(), 1, total)
	require.NoError(t, err)
}
