package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nft-market-onchain/logger"
	"nft-market-onchain/model"
)

const defaultHistoryWindow uint64 = 5000

// MarketplaceGateway はマーケットプレイス台帳との連携を担当
type MarketplaceGateway interface {
	// Address はコントラクトアドレスを返す
	Address() common.Address

	// ItemCount はこれまでに作成された出品数
	ItemCount(ctx context.Context) (uint64, error)

	// Item は items(id) を読み出す
	Item(ctx context.Context, itemId uint64) (*model.Item, error)

	// TotalPrice は手数料込みの購入総額
	TotalPrice(ctx context.Context, itemId uint64) (*big.Int, error)

	FeePercent(ctx context.Context) (*big.Int, error)
	FeeAccount(ctx context.Context) (common.Address, error)

	// MakeItem は出品トランザクションを送信し、Offered イベントを返す
	MakeItem(ctx context.Context, nft common.Address, tokenId uint64, price *big.Int) (*model.TxReceipt, *model.ContractEvent, error)

	// PurchaseItem は value を添えて購入トランザクションを送信し、Bought イベントを返す
	PurchaseItem(ctx context.Context, itemId uint64, value *big.Int) (*model.TxReceipt, *model.ContractEvent, error)

	// FilterBought は buyer が購入した Bought イベントを検索
	FilterBought(ctx context.Context, buyer common.Address, r model.BlockRange) ([]*model.ContractEvent, error)

	// FilterOffered は seller が出品した Offered イベントを検索
	FilterOffered(ctx context.Context, seller common.Address, r model.BlockRange) ([]*model.ContractEvent, error)

	// SubscribeEvents はコントラクトイベントを購読
	SubscribeEvents(ctx context.Context) (<-chan *model.ContractEvent, error)

	// VerifyTransaction はトランザクションを検証
	VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error)
}

// Option はゲートウェイの任意設定
type Option func(*options)

type options struct {
	events        ethereum.LogFilterer
	historyWindow uint64
}

// WithEventBackend はイベント購読に使う別クライアント（WebSocket）を指定
func WithEventBackend(f ethereum.LogFilterer) Option {
	return func(o *options) { o.events = f }
}

// WithHistoryWindow はログ検索1回あたりのブロック数を指定
func WithHistoryWindow(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.historyWindow = n
		}
	}
}

// Marketplace は MarketplaceGateway の go-ethereum 実装
type Marketplace struct {
	*boundContract
	events        ethereum.LogFilterer
	historyWindow uint64
}

// NewMarketplace は新しいマーケットプレイスゲートウェイを作成
// auth が nil の場合は読み取り専用になる
func NewMarketplace(backend Backend, address common.Address, auth *bind.TransactOpts, opts ...Option) (*Marketplace, error) {
	bc, err := newBoundContract(backend, address, MarketplaceABI, auth)
	if err != nil {
		return nil, err
	}
	o := options{events: backend, historyWindow: defaultHistoryWindow}
	for _, opt := range opts {
		opt(&o)
	}
	logger.L().Info("marketplace gateway initialized",
		zap.String("address", address.Hex()),
		zap.String("offered_topic", bc.abi.Events["Offered"].ID.Hex()),
		zap.String("bought_topic", bc.abi.Events["Bought"].ID.Hex()))
	return &Marketplace{boundContract: bc, events: o.events, historyWindow: o.historyWindow}, nil
}

func (m *Marketplace) Address() common.Address {
	return m.address
}

func (m *Marketplace) ItemCount(ctx context.Context) (uint64, error) {
	out, err := m.call(ctx, "itemCount")
	if err != nil {
		return 0, err
	}
	return toBig(out[0]).Uint64(), nil
}

func (m *Marketplace) Item(ctx context.Context, itemId uint64) (*model.Item, error) {
	out, err := m.call(ctx, "items", new(big.Int).SetUint64(itemId))
	if err != nil {
		return nil, err
	}
	if len(out) < 6 {
		return nil, &model.ChainCallError{Stage: model.StageRead, Method: "items", Err: errors.Errorf("unexpected %d outputs", len(out))}
	}
	return &model.Item{
		ItemId:  toBig(out[0]).Uint64(),
		NFT:     toAddress(out[1]),
		TokenId: toBig(out[2]).Uint64(),
		Price:   toBig(out[3]),
		Seller:  toAddress(out[4]),
		Sold:    toBool(out[5]),
	}, nil
}

func (m *Marketplace) TotalPrice(ctx context.Context, itemId uint64) (*big.Int, error) {
	out, err := m.call(ctx, "getTotalPrice", new(big.Int).SetUint64(itemId))
	if err != nil {
		return nil, err
	}
	return toBig(out[0]), nil
}

func (m *Marketplace) FeePercent(ctx context.Context) (*big.Int, error) {
	out, err := m.call(ctx, "feePercent")
	if err != nil {
		return nil, err
	}
	return toBig(out[0]), nil
}

func (m *Marketplace) FeeAccount(ctx context.Context) (common.Address, error) {
	out, err := m.call(ctx, "feeAccount")
	if err != nil {
		return common.Address{}, err
	}
	return toAddress(out[0]), nil
}

func (m *Marketplace) MakeItem(ctx context.Context, nft common.Address, tokenId uint64, price *big.Int) (*model.TxReceipt, *model.ContractEvent, error) {
	receipt, err := m.transact(ctx, model.StageList, nil, "makeItem", nft, new(big.Int).SetUint64(tokenId), price)
	if err != nil {
		return toReceipt(receipt), nil, err
	}
	return toReceipt(receipt), m.eventFromReceipt(receipt, model.EventOffered), nil
}

func (m *Marketplace) PurchaseItem(ctx context.Context, itemId uint64, value *big.Int) (*model.TxReceipt, *model.ContractEvent, error) {
	receipt, err := m.transact(ctx, model.StagePurchase, value, "purchaseItem", new(big.Int).SetUint64(itemId))
	if err != nil {
		return toReceipt(receipt), nil, err
	}
	return toReceipt(receipt), m.eventFromReceipt(receipt, model.EventBought), nil
}

// eventFromReceipt はレシート内のログから指定種別のイベントを探す
func (m *Marketplace) eventFromReceipt(receipt *types.Receipt, want model.EventType) *model.ContractEvent {
	for _, vLog := range receipt.Logs {
		if vLog == nil || vLog.Address != m.address {
			continue
		}
		event, err := m.ParseLog(*vLog)
		if err != nil {
			continue
		}
		if event.Type == want {
			return event
		}
	}
	return nil
}

func (m *Marketplace) FilterBought(ctx context.Context, buyer common.Address, r model.BlockRange) ([]*model.ContractEvent, error) {
	// topics: [Bought, nft, seller, buyer]
	topics := [][]common.Hash{
		{m.abi.Events["Bought"].ID},
		nil,
		nil,
		{common.BytesToHash(buyer.Bytes())},
	}
	return m.filter(ctx, "Bought", topics, r)
}

func (m *Marketplace) FilterOffered(ctx context.Context, seller common.Address, r model.BlockRange) ([]*model.ContractEvent, error) {
	// topics: [Offered, nft, seller]
	topics := [][]common.Hash{
		{m.abi.Events["Offered"].ID},
		nil,
		{common.BytesToHash(seller.Bytes())},
	}
	return m.filter(ctx, "Offered", topics, r)
}

// filter はブロック範囲を historyWindow ごとに分割して FilterLogs を呼ぶ
func (m *Marketplace) filter(ctx context.Context, name string, topics [][]common.Hash, r model.BlockRange) ([]*model.ContractEvent, error) {
	var to uint64
	if r.To != nil {
		to = *r.To
	} else {
		latest, err := m.backend.BlockNumber(ctx)
		if err != nil {
			return nil, &model.ChainCallError{Stage: model.StageRead, Method: "eth_blockNumber", Err: err}
		}
		to = latest
	}

	events := []*model.ContractEvent{}
	if r.From > to {
		return events, nil
	}
	for start := r.From; ; {
		end := start + m.historyWindow - 1
		if end > to || end < start {
			end = to
		}
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{m.address},
			Topics:    topics,
		}
		logs, err := m.backend.FilterLogs(ctx, query)
		if err != nil {
			return nil, &model.ChainCallError{Stage: model.StageRead, Method: "eth_getLogs", Err: errors.Wrapf(err, "filter %s logs %d-%d", name, start, end)}
		}
		for _, vLog := range logs {
			if vLog.Removed {
				continue
			}
			event, err := m.ParseLog(vLog)
			if err != nil {
				logger.WithContext(ctx).Warn("skip undecodable log",
					zap.String("tx_hash", vLog.TxHash.Hex()), zap.Error(err))
				continue
			}
			events = append(events, event)
		}
		logger.WithContext(ctx).Debug("filtered event logs",
			zap.String("event", name),
			zap.Uint64("start_block", start),
			zap.Uint64("end_block", end),
			zap.Int("count", len(logs)))
		if end == to {
			break
		}
		start = end + 1
	}
	return events, nil
}

// SubscribeEvents はコントラクトイベントをWebSocket経由で購読
func (m *Marketplace) SubscribeEvents(ctx context.Context) (<-chan *model.ContractEvent, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{m.address},
		Topics:    [][]common.Hash{{m.abi.Events["Offered"].ID, m.abi.Events["Bought"].ID}},
	}
	logs := make(chan types.Log)
	sub, err := m.events.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe filter logs")
	}
	logger.WithContext(ctx).Info("subscribed to marketplace events", zap.String("address", m.address.Hex()))

	eventChan := make(chan *model.ContractEvent, 100)
	go func() {
		defer close(eventChan)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				logger.WithContext(ctx).Error("event subscription error", zap.Error(err))
				return
			case vLog := <-logs:
				event, err := m.ParseLog(vLog)
				if err != nil {
					logger.WithContext(ctx).Warn("failed to parse event", zap.String("tx_hash", vLog.TxHash.Hex()), zap.Error(err))
					continue
				}
				select {
				case eventChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return eventChan, nil
}

// ParseLog はログを ContractEvent に変換
func (m *Marketplace) ParseLog(vLog types.Log) (*model.ContractEvent, error) {
	if len(vLog.Topics) == 0 {
		return nil, errors.New("log has no topics")
	}
	var (
		eventType model.EventType
		minTopics int
	)
	switch vLog.Topics[0] {
	case m.abi.Events["Offered"].ID:
		eventType, minTopics = model.EventOffered, 3
	case m.abi.Events["Bought"].ID:
		eventType, minTopics = model.EventBought, 4
	default:
		return nil, errors.Errorf("unknown event signature %s", vLog.Topics[0].Hex())
	}
	if len(vLog.Topics) < minTopics {
		return nil, errors.Errorf("%s log has %d topics", eventType, len(vLog.Topics))
	}

	data := make(map[string]interface{})
	if err := m.abi.UnpackIntoMap(data, string(eventType), vLog.Data); err != nil {
		return nil, errors.Wrapf(err, "unpack %s", eventType)
	}

	event := &model.ContractEvent{
		Type:     eventType,
		TxHash:   vLog.TxHash.Hex(),
		BlockNo:  vLog.BlockNumber,
		LogIndex: vLog.Index,
		NFT:      common.BytesToAddress(vLog.Topics[1].Bytes()),
		Seller:   common.BytesToAddress(vLog.Topics[2].Bytes()),
	}
	if eventType == model.EventBought {
		event.Buyer = common.BytesToAddress(vLog.Topics[3].Bytes())
	}
	if v, ok := data["itemId"].(*big.Int); ok {
		event.ItemId = v.Uint64()
	}
	if v, ok := data["tokenId"].(*big.Int); ok {
		event.TokenId = v.Uint64()
	}
	if v, ok := data["price"].(*big.Int); ok {
		event.Price = v
	}
	return event, nil
}

// VerifyTransaction はトランザクションを検証
func (m *Marketplace) VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error) {
	hash := common.HexToHash(txHash)
	if hash == (common.Hash{}) {
		return nil, &model.ValidationError{Field: "tx_hash", Message: "invalid transaction hash format"}
	}

	tx, isPending, err := m.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, &model.ChainCallError{Stage: model.StageRead, Method: "eth_getTransactionByHash", Err: errors.Wrap(err, "transaction not found")}
	}
	if isPending {
		return &model.TxVerification{TxHash: txHash, Status: "pending"}, nil
	}

	receipt, err := m.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, &model.ChainCallError{Stage: model.StageRead, Method: "eth_getTransactionReceipt", Err: errors.Wrap(err, "failed to get transaction receipt")}
	}

	verification := &model.TxVerification{
		TxHash:  txHash,
		GasUsed: receipt.GasUsed,
		Success: receipt.Status == types.ReceiptStatusSuccessful,
	}
	if receipt.BlockNumber != nil {
		verification.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if verification.Success {
		verification.Status = "success"
	} else {
		verification.Status = "failed"
	}
	// コントラクト呼び出しかどうかを確認
	if tx.To() != nil && *tx.To() == m.address {
		verification.IsContractCall = true
	}
	return verification, nil
}
