package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nft-market-onchain/gateway/contract"
	"nft-market-onchain/gateway/ipfs"
	"nft-market-onchain/logger"
	"nft-market-onchain/model"
	"nft-market-onchain/usecase/session"
)

// ErrLoading はまだスナップショットが一度も読み込まれていないことを表す
var ErrLoading = errors.New("catalog is loading")

const defaultHistoryConcurrency = 8

// Option はアグリゲータの任意設定
type Option func(*Aggregator)

// WithHistoryConcurrency は購入履歴の解決を並列で行う数
func WithHistoryConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.historyConcurrency = n
		}
	}
}

// WithHistoryFromBlock は購入履歴検索の既定の開始ブロック
func WithHistoryFromBlock(block uint64) Option {
	return func(a *Aggregator) { a.historyFrom = block }
}

// Aggregator は台帳の全出品を読み出してカタログのスナップショットを保持する
// スナップショットは常に丸ごと置き換え、古い読み込みが新しいものを上書きしない
type Aggregator struct {
	market  contract.MarketplaceGateway
	nft     contract.NFTGateway
	storage ipfs.StorageGateway

	historyConcurrency int
	historyFrom        uint64

	seq     atomic.Uint64
	mu      sync.RWMutex
	current *model.Snapshot
	lastErr error
	errSeq  uint64
}

// New はセッションのゲートウェイを使うアグリゲータを作成
func New(s *session.Session, opts ...Option) *Aggregator {
	a := &Aggregator{
		market:             s.Marketplace,
		nft:                s.NFT,
		storage:            s.Storage,
		historyConcurrency: defaultHistoryConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load は itemCount を読み、1..itemCount を昇順に読み出して新しいスナップショットを作る
// 台帳の読み取りに失敗した場合は部分的なスナップショットを返さない
// メタデータの失敗は該当エントリに記録するだけで中断しない
func (a *Aggregator) Load(ctx context.Context) (*model.Snapshot, error) {
	_, snap, err := a.load(ctx)
	return snap, err
}

func (a *Aggregator) load(ctx context.Context) (uint64, *model.Snapshot, error) {
	seq := a.seq.Add(1)
	start := time.Now()

	count, err := a.market.ItemCount(ctx)
	if err != nil {
		return seq, nil, errors.Wrap(err, "read item count")
	}

	snap := &model.Snapshot{
		Seq:       seq,
		ItemCount: count,
		Unsold:    []model.CatalogEntry{},
		Sold:      []model.CatalogEntry{},
	}
	degraded := 0
	for id := uint64(1); id <= count; id++ {
		entry, err := a.loadEntry(ctx, id)
		if err != nil {
			return seq, nil, errors.Wrapf(err, "load item %d", id)
		}
		if entry.MetadataErr != nil {
			degraded++
		}
		if entry.Sold {
			snap.Sold = append(snap.Sold, *entry)
		} else {
			snap.Unsold = append(snap.Unsold, *entry)
		}
	}
	snap.LoadedAt = time.Now()

	logger.WithContext(ctx).Info("catalog loaded",
		zap.Uint64("seq", seq),
		zap.Uint64("item_count", count),
		zap.Int("unsold", len(snap.Unsold)),
		zap.Int("sold", len(snap.Sold)),
		zap.Int("metadata_degraded", degraded),
		zap.Duration("elapsed", time.Since(start)))
	return seq, snap, nil
}

func (a *Aggregator) loadEntry(ctx context.Context, id uint64) (*model.CatalogEntry, error) {
	item, err := a.market.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := &model.CatalogEntry{Item: *item}
	entry.TokenURI, entry.Metadata, entry.MetadataErr = a.resolveMetadata(ctx, item.TokenId)
	if entry.MetadataErr != nil {
		logger.WithContext(ctx).Warn("metadata unavailable",
			zap.Uint64("item_id", id),
			zap.Uint64("token_id", item.TokenId),
			zap.Error(entry.MetadataErr))
	}

	total, err := a.market.TotalPrice(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.TotalPrice = total
	return entry, nil
}

// resolveMetadata は tokenURI を読み、その先のメタデータを取得する
func (a *Aggregator) resolveMetadata(ctx context.Context, tokenId uint64) (string, *model.Metadata, error) {
	uri, err := a.nft.TokenURI(ctx, tokenId)
	if err != nil {
		return "", nil, &model.MetadataFetchError{Err: errors.Wrapf(err, "read tokenURI(%d)", tokenId)}
	}
	md, err := a.storage.FetchMetadata(ctx, uri)
	if err != nil {
		return uri, nil, err
	}
	return uri, md, nil
}

// Refresh は再読み込みしてスナップショットを置き換える
// 失敗した場合は以前のスナップショットを保持したままエラーを返す
func (a *Aggregator) Refresh(ctx context.Context) (*model.Snapshot, error) {
	seq, snap, err := a.load(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if a.current == nil || seq > a.current.Seq {
			a.lastErr, a.errSeq = err, seq
		}
		logger.WithContext(ctx).Error("catalog refresh failed", zap.Error(err))
		return nil, err
	}
	if a.current == nil || snap.Seq > a.current.Seq {
		a.current = snap
		if a.errSeq < snap.Seq {
			a.lastErr = nil
		}
	} else {
		logger.WithContext(ctx).Debug("discard stale catalog scan",
			zap.Uint64("seq", snap.Seq),
			zap.Uint64("current_seq", a.current.Seq))
	}
	return a.current, nil
}

// Current は保持しているスナップショットを返す。未読み込みなら ErrLoading
func (a *Aggregator) Current() (*model.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return nil, ErrLoading
	}
	return a.current, nil
}

// LastError は直近のリフレッシュ失敗（その後成功していれば nil）
func (a *Aggregator) LastError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Ensure は保持しているスナップショットを返し、なければ読み込む
func (a *Aggregator) Ensure(ctx context.Context) (*model.Snapshot, error) {
	if snap, err := a.Current(); err == nil {
		return snap, nil
	}
	return a.Refresh(ctx)
}

// Listings は出品者ビュー（出品したもの全部と、そのうち売れたもの）
func (a *Aggregator) Listings(ctx context.Context, seller common.Address) (*model.SellerView, error) {
	snap, err := a.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	return snap.BySeller(seller), nil
}

// Offers は seller の出品履歴（Offered イベント）
// 売却済みかどうかはカタログ側で判断する
func (a *Aggregator) Offers(ctx context.Context, seller common.Address, r model.BlockRange) ([]*model.ContractEvent, error) {
	events, err := a.market.FilterOffered(ctx, seller, r)
	if err != nil {
		return nil, errors.Wrap(err, "query Offered events")
	}
	return events, nil
}

// DefaultRange は購入履歴検索の既定範囲
func (a *Aggregator) DefaultRange() model.BlockRange {
	return model.BlockRange{From: a.historyFrom}
}

// Purchases は buyer の Bought イベントから購入者ビューを作る
// 全件スキャンはせず、イベントごとにメタデータと総額を並列で解決する
func (a *Aggregator) Purchases(ctx context.Context, buyer common.Address, r model.BlockRange) ([]model.PurchaseRecord, error) {
	events, err := a.market.FilterBought(ctx, buyer, r)
	if err != nil {
		return nil, errors.Wrap(err, "query Bought events")
	}

	records := make([]model.PurchaseRecord, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.historyConcurrency)
	for i, ev := range events {
		g.Go(func() error {
			rec := model.PurchaseRecord{Event: *ev}
			rec.TokenURI, rec.Metadata, rec.MetadataErr = a.resolveMetadata(gctx, ev.TokenId)
			total, err := a.market.TotalPrice(gctx, ev.ItemId)
			if err != nil {
				return errors.Wrapf(err, "total price of item %d", ev.ItemId)
			}
			rec.TotalPrice = total
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("purchases resolved",
		zap.String("buyer", buyer.Hex()),
		zap.Int("count", len(records)))
	return records, nil
}
