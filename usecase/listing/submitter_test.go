package listing

import (
	"context"
	"encoding/json"
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
	feeTo  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

type countingRefresher struct {
	calls int
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context) (*model.Snapshot, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &model.Snapshot{}, nil
}

func setup(t *testing.T) (*Submitter, *memchain.Chain, *memchain.Storage, *countingRefresher) {
	t.Helper()
	chain := memchain.New(1, feeTo)
	storage := memchain.NewStorage()
	refresher := &countingRefresher{}
	s := &session.Session{
		Account:     seller,
		ChainID:     big.NewInt(31337),
		Marketplace: chain.Marketplace(seller),
		NFT:         chain.NFT(seller),
		Storage:     storage,
	}
	return NewSubmitter(s, refresher), chain, storage, refresher
}

func validRequest() model.ListingRequest {
	return model.ListingRequest{
		Asset:       []byte("\x89PNG fake image"),
		AssetName:   "cat.png",
		Name:        "Cat",
		Description: "a cat",
		Price:       "1.5",
	}
}

func TestSubmitRunsFullSequence(t *testing.T) {
	sub, chain, storage, refresher := setup(t)

	res, err := sub.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), res.TokenId)
	assert.Equal(t, uint64(1), res.ItemId)
	assert.Equal(t, "1500000000000000000", res.Price.String())
	assert.NotNil(t, res.MintTx)
	assert.NotNil(t, res.ApproveTx)
	assert.NotNil(t, res.ListTx)
	assert.Equal(t, []string{"cat.png", "metadata.json"}, storage.Uploads())
	assert.Equal(t, []string{"mint", "tokenCount", "isApprovedForAll", "setApprovalForAll", "makeItem"}, chain.Calls())
	assert.Equal(t, chain.MarketAddr, chain.Owner(1))
	assert.Equal(t, 1, refresher.calls)

	raw, ok := storage.Object(res.TokenURI)
	require.True(t, ok)
	var doc map[string]string
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, map[string]string{
		"name":        "Cat",
		"description": "a cat",
		"image":       res.ImageURI,
		"price":       "1.5",
	}, doc)
}

func TestSubmitSkipsApprovalWhenAlreadyApproved(t *testing.T) {
	sub, chain, _, _ := setup(t)
	_, err := sub.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	chain.ResetCalls()

	res, err := sub.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Nil(t, res.ApproveTx)
	assert.Equal(t, uint64(2), res.TokenId)
	assert.Equal(t, uint64(2), res.ItemId)
	assert.NotContains(t, chain.Calls(), "setApprovalForAll")
}

func TestSubmitValidationHasNoSideEffects(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(r *model.ListingRequest)
		field string
	}{
		{"no asset", func(r *model.ListingRequest) { r.Asset = nil }, "asset"},
		{"no name", func(r *model.ListingRequest) { r.Name = "" }, "name"},
		{"no description", func(r *model.ListingRequest) { r.Description = "" }, "description"},
		{"no price", func(r *model.ListingRequest) { r.Price = "" }, "price"},
		{"zero price", func(r *model.ListingRequest) { r.Price = "0" }, "price"},
		{"negative price", func(r *model.ListingRequest) { r.Price = "-1" }, "price"},
		{"garbage price", func(r *model.ListingRequest) { r.Price = "abc" }, "price"},
		{"too precise", func(r *model.ListingRequest) { r.Price = "0.0000000000000000001" }, "price"},
		{"over uint256", func(r *model.ListingRequest) { r.Price = "1e60" }, "price"},
		{"huge exponent", func(r *model.ListingRequest) { r.Price = "1e2000000000" }, "price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub, chain, storage, refresher := setup(t)
			req := validRequest()
			tc.edit(&req)

			_, err := sub.Submit(context.Background(), req)
			require.Error(t, err)
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
			assert.Empty(t, storage.Uploads())
			assert.Empty(t, chain.Calls())
			assert.Zero(t, refresher.calls)
		})
	}
}

func TestSubmitUploadFailureStopsBeforeChain(t *testing.T) {
	for _, target := range []string{"asset", "metadata"} {
		t.Run(target, func(t *testing.T) {
			sub, chain, storage, refresher := setup(t)
			if target == "asset" {
				storage.FailAdd("cat.png", errors.New("401 unauthorized"))
			} else {
				storage.FailAdd("metadata.json", errors.New("502 bad gateway"))
			}

			_, err := sub.Submit(context.Background(), validRequest())
			var uerr *model.UploadError
			require.True(t, errors.As(err, &uerr))
			assert.Equal(t, target, uerr.Target)
			assert.Equal(t, model.KindUpload, model.KindOf(err))
			assert.Empty(t, chain.Calls())
			assert.Zero(t, refresher.calls)
		})
	}
}

func TestSubmitMintFailureHasNoToken(t *testing.T) {
	sub, chain, _, refresher := setup(t)
	chain.Fail("mint", memchain.AnyID, errors.New("user rejected"))

	_, err := sub.Submit(context.Background(), validRequest())
	var cerr *model.ChainCallError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, model.StageMint, cerr.Stage)
	assert.Nil(t, cerr.TokenId)
	assert.Zero(t, refresher.calls)
}

func TestSubmitTokenCountFailureReportsMintTx(t *testing.T) {
	sub, chain, _, refresher := setup(t)
	chain.Fail("tokenCount", memchain.AnyID, errors.New("connection reset"))

	_, err := sub.Submit(context.Background(), validRequest())
	var cerr *model.ChainCallError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, model.StageMint, cerr.Stage)
	assert.Equal(t, "tokenCount", cerr.Method)
	assert.NotEmpty(t, cerr.TxHash)
	assert.False(t, cerr.Reverted())
	assert.Equal(t, model.KindChainCall, model.KindOf(err))
	// ミントは済んでいる
	assert.Equal(t, seller, chain.Owner(1))
	assert.Zero(t, refresher.calls)
}

func TestSubmitPostMintFailureCarriesTokenId(t *testing.T) {
	cases := []struct {
		method string
		stage  model.Stage
		err    error
		reason model.RevertReason
	}{
		{"setApprovalForAll", model.StageApprove, errors.New("user rejected"), model.ReasonNone},
		{"makeItem", model.StageList, memchain.Revert(model.ZeroPriceRevert), model.ReasonZeroPrice},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			sub, chain, _, refresher := setup(t)
			chain.Fail(tc.method, memchain.AnyID, tc.err)

			_, err := sub.Submit(context.Background(), validRequest())
			var cerr *model.ChainCallError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tc.stage, cerr.Stage)
			assert.Equal(t, tc.reason, cerr.Reason)
			require.NotNil(t, cerr.TokenId)
			assert.Equal(t, uint64(1), *cerr.TokenId)
			assert.Contains(t, err.Error(), "token 1 minted but not listed")
			assert.Equal(t, seller, chain.Owner(1))
			assert.Zero(t, refresher.calls)
		})
	}
}

func TestRelistAfterFailedListing(t *testing.T) {
	sub, chain, _, refresher := setup(t)
	chain.Fail("makeItem", memchain.AnyID, errors.New("timeout"))
	_, err := sub.Submit(context.Background(), validRequest())
	require.Error(t, err)
	chain.Heal()
	chain.ResetCalls()

	res, err := sub.Relist(context.Background(), 1, "2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.TokenId)
	assert.Equal(t, uint64(1), res.ItemId)
	assert.Nil(t, res.ApproveTx)
	assert.NotEmpty(t, res.TokenURI)
	assert.NotContains(t, chain.Calls(), "mint")
	assert.Equal(t, chain.MarketAddr, chain.Owner(1))
	assert.Equal(t, 1, refresher.calls)
}

func TestRelistRejectsForeignOrListedToken(t *testing.T) {
	sub, _, _, _ := setup(t)
	_, err := sub.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	// 出品済みトークンの所有者はマーケットプレイス
	_, err = sub.Relist(context.Background(), 1, "1")
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = sub.Relist(context.Background(), 1, "0")
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = sub.Relist(context.Background(), 99, "1")
	assert.Equal(t, model.KindChainCall, model.KindOf(err))
}

func TestSubmitRefreshFailureDoesNotFailListing(t *testing.T) {
	sub, _, _, refresher := setup(t)
	refresher.err = errors.New("rpc down")

	res, err := sub.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.ItemId)
	assert.Equal(t, 1, refresher.calls)
}
