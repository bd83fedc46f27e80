package catalog

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"

	"nft-market-onchain/logger"
)

// StartRefresher は interval ごとに Refresh する
// ctx がキャンセルされると停止し、返したチャネルが閉じる
func (a *Aggregator) StartRefresher(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	threading.GoSafe(func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.WithContext(ctx).Info("catalog refresher stopped")
				return
			case <-ticker.C:
				// 失敗は Refresh 内でログに出し、前のスナップショットを保持する
				_, _ = a.Refresh(ctx)
			}
		}
	})
	return done
}

// WatchEvents は Offered / Bought イベントを購読し、受信するたびに Refresh する
// 連続したイベントは1回のリフレッシュにまとめる
func (a *Aggregator) WatchEvents(ctx context.Context) (<-chan struct{}, error) {
	events, err := a.market.SubscribeEvents(ctx)
	if err != nil {
		return nil, err
	}

	trigger := make(chan struct{}, 1)
	done := make(chan struct{})
	threading.GoSafe(func() {
		defer close(trigger)
		for event := range events {
			logger.WithContext(ctx).Info("marketplace event received",
				zap.String("type", string(event.Type)),
				zap.Uint64("item_id", event.ItemId),
				zap.String("tx_hash", event.TxHash))
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	})
	threading.GoSafe(func() {
		defer close(done)
		for range trigger {
			if ctx.Err() != nil {
				return
			}
			_, _ = a.Refresh(ctx)
		}
	})

	logger.WithContext(ctx).Info("catalog event watcher started")
	return done, nil
}
