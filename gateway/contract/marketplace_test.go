package contract

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-onchain/model"
)

var (
	marketAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	nftAddr    = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	seller     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	buyer      = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

// fakeBackend は必要なメソッドだけを実装する
type fakeBackend struct {
	Backend
	abi       abi.ABI
	responses map[string][]interface{}
	callErr   error
	latest    uint64
	logs      []types.Log
	queries   []ethereum.FilterQuery
	tx        *types.Transaction
	pending   bool
	receipt   *types.Receipt
}

func newFakeBackend(t *testing.T, abiJSON string) *fakeBackend {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	require.NoError(t, err)
	return &fakeBackend{abi: parsed, responses: map[string][]interface{}{}}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(f.responses[method.Name]...)
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	if f.tx == nil {
		return nil, false, ethereum.NotFound
	}
	return f.tx, f.pending, nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}

func eventLog(t *testing.T, m *Marketplace, name string, block uint64, itemId, tokenId int64, price *big.Int, topics ...common.Address) types.Log {
	t.Helper()
	ev := m.abi.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(itemId), big.NewInt(tokenId), price)
	require.NoError(t, err)
	hashes := []common.Hash{ev.ID}
	for _, a := range topics {
		hashes = append(hashes, common.BytesToHash(a.Bytes()))
	}
	return types.Log{Address: marketAddr, Topics: hashes, Data: data, BlockNumber: block, TxHash: common.HexToHash("0xbeef")}
}

func TestMarketplaceReads(t *testing.T) {
	backend := newFakeBackend(t, MarketplaceABI)
	backend.responses["itemCount"] = []interface{}{big.NewInt(3)}
	backend.responses["items"] = []interface{}{big.NewInt(2), nftAddr, big.NewInt(5), big.NewInt(1e18), seller, true}
	backend.responses["getTotalPrice"] = []interface{}{big.NewInt(101e16)}
	backend.responses["feePercent"] = []interface{}{big.NewInt(1)}
	backend.responses["feeAccount"] = []interface{}{seller}

	m, err := NewMarketplace(backend, marketAddr, nil)
	require.NoError(t, err)
	ctx := context.Background()

	count, err := m.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	item, err := m.Item(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, &model.Item{ItemId: 2, NFT: nftAddr, TokenId: 5, Price: big.NewInt(1e18), Seller: seller, Sold: true}, item)

	total, err := m.TotalPrice(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "1010000000000000000", total.String())

	fee, err := m.FeePercent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fee.Int64())

	account, err := m.FeeAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, seller, account)
}

func TestMarketplaceReadFailureIsChainCallError(t *testing.T) {
	backend := newFakeBackend(t, MarketplaceABI)
	backend.callErr = errors.New("connection refused")
	m, err := NewMarketplace(backend, marketAddr, nil)
	require.NoError(t, err)

	_, err = m.ItemCount(context.Background())
	var ce *model.ChainCallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, model.StageRead, ce.Stage)
	assert.Equal(t, "itemCount", ce.Method)
	assert.False(t, ce.Reverted())
}

func TestMarketplaceWriteWithoutSigner(t *testing.T) {
	m, err := NewMarketplace(newFakeBackend(t, MarketplaceABI), marketAddr, nil)
	require.NoError(t, err)
	_, _, err = m.PurchaseItem(context.Background(), 1, big.NewInt(1))
	assert.Equal(t, model.KindSession, model.KindOf(err))
}

func TestParseLog(t *testing.T) {
	m, err := NewMarketplace(newFakeBackend(t, MarketplaceABI), marketAddr, nil)
	require.NoError(t, err)

	offered, err := m.ParseLog(eventLog(t, m, "Offered", 10, 1, 7, big.NewInt(1e18), nftAddr, seller))
	require.NoError(t, err)
	assert.Equal(t, model.EventOffered, offered.Type)
	assert.Equal(t, uint64(1), offered.ItemId)
	assert.Equal(t, uint64(7), offered.TokenId)
	assert.Equal(t, nftAddr, offered.NFT)
	assert.Equal(t, seller, offered.Seller)
	assert.Equal(t, common.Address{}, offered.Buyer)

	bought, err := m.ParseLog(eventLog(t, m, "Bought", 11, 1, 7, big.NewInt(1e18), nftAddr, seller, buyer))
	require.NoError(t, err)
	assert.Equal(t, model.EventBought, bought.Type)
	assert.Equal(t, buyer, bought.Buyer)
	assert.Equal(t, uint64(11), bought.BlockNo)

	_, err = m.ParseLog(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.Error(t, err)
	_, err = m.ParseLog(types.Log{})
	assert.Error(t, err)
}

func TestFilterBoughtSplitsWindows(t *testing.T) {
	backend := newFakeBackend(t, MarketplaceABI)
	backend.latest = 25
	m, err := NewMarketplace(backend, marketAddr, nil, WithHistoryWindow(10))
	require.NoError(t, err)
	backend.logs = []types.Log{
		eventLog(t, m, "Bought", 3, 1, 1, big.NewInt(10), nftAddr, seller, buyer),
		eventLog(t, m, "Bought", 24, 4, 4, big.NewInt(10), nftAddr, seller, buyer),
	}

	events, err := m.FilterBought(context.Background(), buyer, model.BlockRange{From: 0})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].ItemId)
	assert.Equal(t, uint64(4), events[1].ItemId)

	require.Len(t, backend.queries, 3)
	assert.Equal(t, uint64(0), backend.queries[0].FromBlock.Uint64())
	assert.Equal(t, uint64(9), backend.queries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(20), backend.queries[2].FromBlock.Uint64())
	assert.Equal(t, uint64(25), backend.queries[2].ToBlock.Uint64())

	q := backend.queries[0]
	require.Len(t, q.Topics, 4)
	assert.Equal(t, m.abi.Events["Bought"].ID, q.Topics[0][0])
	assert.Nil(t, q.Topics[1])
	assert.Equal(t, common.BytesToHash(buyer.Bytes()), q.Topics[3][0])
}

func TestFilterEmptyRange(t *testing.T) {
	backend := newFakeBackend(t, MarketplaceABI)
	m, err := NewMarketplace(backend, marketAddr, nil)
	require.NoError(t, err)
	to := uint64(5)
	events, err := m.FilterOffered(context.Background(), seller, model.BlockRange{From: 10, To: &to})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, backend.queries)
}

func TestVerifyTransaction(t *testing.T) {
	backend := newFakeBackend(t, MarketplaceABI)
	backend.tx = types.NewTransaction(0, marketAddr, big.NewInt(0), 21000, big.NewInt(1), nil)
	backend.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12), GasUsed: 50000}
	m, err := NewMarketplace(backend, marketAddr, nil)
	require.NoError(t, err)

	v, err := m.VerifyTransaction(context.Background(), "0xabc123")
	require.NoError(t, err)
	assert.Equal(t, "success", v.Status)
	assert.True(t, v.IsContractCall)
	assert.Equal(t, uint64(12), v.BlockNumber)

	backend.pending = true
	v, err = m.VerifyTransaction(context.Background(), "0xabc123")
	require.NoError(t, err)
	assert.Equal(t, "pending", v.Status)

	_, err = m.VerifyTransaction(context.Background(), "")
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

type dataError struct {
	msg  string
	data string
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func TestRevertMessage(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   string
		wantOk bool
	}{
		{"data error", dataError{msg: "execution reverted", data: revertData(t, "item already sold")}, "item already sold", true},
		{"wrapped text", errors.New("failed to estimate gas needed: execution reverted: not enough ether to cover item price and market fee"), "not enough ether to cover item price and market fee", true},
		{"bare revert", errors.New("execution reverted"), "execution reverted", true},
		{"transport", errors.New("dial tcp 127.0.0.1:8545: connection refused"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RevertMessage(tt.err)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	ce := chainCallError(model.StagePurchase, "purchaseItem", "", errors.New("execution reverted: item already sold"))
	var typed *model.ChainCallError
	require.True(t, errors.As(ce, &typed))
	assert.Equal(t, model.ReasonItemSold, typed.Reason)
}
