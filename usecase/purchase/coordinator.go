package purchase

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"nft-market-onchain/gateway/contract"
	"nft-market-onchain/logger"
	"nft-market-onchain/model"
	"nft-market-onchain/usecase/session"
)

// Refresher はカタログの再読み込み
type Refresher interface {
	Refresh(ctx context.Context) (*model.Snapshot, error)
}

// Coordinator は購入を調整する
// 支払額は送信直前に台帳から読み直し、表示時の価格は使わない
type Coordinator struct {
	market    contract.MarketplaceGateway
	refresher Refresher
}

func NewCoordinator(s *session.Session, refresher Refresher) *Coordinator {
	return &Coordinator{market: s.Marketplace, refresher: refresher}
}

// Quote は表示用の購入総額
func (c *Coordinator) Quote(ctx context.Context, itemId uint64) (*big.Int, error) {
	return c.market.TotalPrice(ctx, itemId)
}

// Purchase は getTotalPrice を読み直し、その額ちょうどで purchaseItem を送信する
// 失敗時はリトライもリフレッシュもしない
func (c *Coordinator) Purchase(ctx context.Context, itemId uint64) (*model.PurchaseResult, error) {
	log := logger.WithContext(ctx).With(zap.Uint64("item_id", itemId))

	total, err := c.market.TotalPrice(ctx, itemId)
	if err != nil {
		log.Error("read total price failed", zap.Error(err))
		return nil, err
	}

	receipt, event, err := c.market.PurchaseItem(ctx, itemId, total)
	if err != nil {
		log.Error("purchase failed", zap.String("value", total.String()), zap.Error(err))
		return nil, err
	}
	if event == nil {
		log.Warn("Bought event missing from receipt", zap.String("tx_hash", receipt.TxHash))
	}
	log.Info("item purchased",
		zap.String("value", total.String()),
		zap.String("tx_hash", receipt.TxHash),
		zap.Uint64("block", receipt.BlockNumber))

	if c.refresher != nil {
		if _, err := c.refresher.Refresh(ctx); err != nil {
			log.Warn("catalog refresh after purchase failed", zap.Error(err))
		}
	}
	return &model.PurchaseResult{
		ItemId:     itemId,
		TotalPrice: total,
		Receipt:    receipt,
		Event:      event,
	}, nil
}
