package handler

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"nft-market-onchain/model"
	"nft-market-onchain/usecase/catalog"
	"nft-market-onchain/utils"
)

const defaultMaxUpload int64 = 32 << 20

// Catalog はカタログの読み出しとリフレッシュ
type Catalog interface {
	Current() (*model.Snapshot, error)
	Refresh(ctx context.Context) (*model.Snapshot, error)
	LastError() error
	Listings(ctx context.Context, seller common.Address) (*model.SellerView, error)
	Purchases(ctx context.Context, buyer common.Address, r model.BlockRange) ([]model.PurchaseRecord, error)
	Offers(ctx context.Context, seller common.Address, r model.BlockRange) ([]*model.ContractEvent, error)
	DefaultRange() model.BlockRange
}

// Lister は出品
type Lister interface {
	Submit(ctx context.Context, req model.ListingRequest) (*model.ListingResult, error)
	Relist(ctx context.Context, tokenId uint64, price string) (*model.ListingResult, error)
}

// Buyer は購入
type Buyer interface {
	Quote(ctx context.Context, itemId uint64) (*big.Int, error)
	Purchase(ctx context.Context, itemId uint64) (*model.PurchaseResult, error)
}

// SessionInfo は接続中セッションの情報
type SessionInfo interface {
	Info(ctx context.Context) (*model.ContractInfo, error)
}

// TxVerifier はトランザクションの検証
type TxVerifier interface {
	VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error)
}

// MarketHandler はマーケットプレイスのHTTP API
type MarketHandler struct {
	session   SessionInfo
	catalog   Catalog
	lister    Lister
	buyer     Buyer
	verifier  TxVerifier
	maxUpload int64
}

// Option はハンドラーの任意設定
type Option func(*MarketHandler)

// WithMaxUpload はアップロードできるファイルサイズの上限（バイト）
func WithMaxUpload(n int64) Option {
	return func(h *MarketHandler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

func NewMarketHandler(s SessionInfo, c Catalog, l Lister, b Buyer, v TxVerifier, opts ...Option) *MarketHandler {
	h := &MarketHandler{
		session:   s,
		catalog:   c,
		lister:    l,
		buyer:     b,
		verifier:  v,
		maxUpload: defaultMaxUpload,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleHealth はヘルスチェック
func (h *MarketHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleSession は接続中のアカウントとコントラクト情報を返す
func (h *MarketHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.session.Info(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Account:     info.Account.Hex(),
		ChainId:     info.ChainId.String(),
		Marketplace: info.Marketplace.Hex(),
		NFT:         info.NFT.Hex(),
		Name:        info.Name,
		Symbol:      info.Symbol,
		FeePercent:  info.FeePercent.String(),
		FeeAccount:  info.FeeAccount.Hex(),
		OwnedTokens: info.OwnedTokens,
	})
}

// HandleCatalog は保持しているスナップショットを返す
// 一度も読み込めていない場合は loading、直近のリフレッシュが失敗していれば stale
// exclude を指定すると、そのアカウントの出品を未売却一覧から除く
func (h *MarketHandler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	var exclude *common.Address
	if s := r.URL.Query().Get("exclude"); s != "" {
		if !utils.IsAddress(s) {
			writeError(w, r, &model.ValidationError{Field: "exclude", Message: "must be a 0x-prefixed 20 byte address"})
			return
		}
		addr := common.HexToAddress(s)
		exclude = &addr
	}

	snap, err := h.catalog.Current()
	if errors.Is(err, catalog.ErrLoading) {
		res := CatalogResponse{Loading: true, Unsold: []EntryResponse{}, Sold: []EntryResponse{}}
		if lastErr := h.catalog.LastError(); lastErr != nil {
			res.LastError = lastErr.Error()
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := h.catalogResponse(snap)
	if exclude != nil {
		res.Unsold = entries(snap.NotBySeller(*exclude))
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleItem はスナップショット上の1件を返す
func (h *MarketHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	itemId, err := uintVar(r, "itemId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.catalog.Current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, ok := snap.Lookup(itemId)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "item " + strconv.FormatUint(itemId, 10) + " is not in the catalog"})
		return
	}
	writeJSON(w, http.StatusOK, entry(*e))
}

// HandleRefresh はカタログを読み直して返す
func (h *MarketHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.catalog.Refresh(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.catalogResponse(snap))
}

func (h *MarketHandler) catalogResponse(snap *model.Snapshot) CatalogResponse {
	res := CatalogResponse{
		Seq:       snap.Seq,
		ItemCount: snap.ItemCount,
		LoadedAt:  snap.LoadedAt.UTC().Format(time.RFC3339),
		Unsold:    entries(snap.Unsold),
		Sold:      entries(snap.Sold),
	}
	if lastErr := h.catalog.LastError(); lastErr != nil {
		res.Stale = true
		res.LastError = lastErr.Error()
	}
	return res
}

// HandleListings は出品者ビュー
func (h *MarketHandler) HandleListings(w http.ResponseWriter, r *http.Request) {
	addr, err := addressVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.catalog.Listings(r.Context(), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SellerViewResponse{
		Seller: view.Seller.Hex(),
		Listed: entries(view.Listed),
		Sold:   entries(view.Sold),
	})
}

// HandlePurchases は購入者ビュー
func (h *MarketHandler) HandlePurchases(w http.ResponseWriter, r *http.Request) {
	addr, err := addressVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	br, err := h.blockRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := h.catalog.Purchases(r.Context(), addr, br)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]PurchaseRecordResponse, 0, len(records))
	for i := range records {
		rec := &records[i]
		res := PurchaseRecordResponse{
			Event:      event(&rec.Event),
			TotalPrice: amount(rec.TotalPrice),
			TokenURI:   rec.TokenURI,
			Metadata:   rec.Metadata,
		}
		if rec.MetadataErr != nil {
			res.MetadataError = rec.MetadataErr.Error()
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"buyer":     addr.Hex(),
		"purchases": out,
	})
}

// HandleOffers は出品者の Offered イベント履歴
func (h *MarketHandler) HandleOffers(w http.ResponseWriter, r *http.Request) {
	addr, err := addressVar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	br, err := h.blockRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.catalog.Offers(r.Context(), addr, br)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]*EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, event(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seller": addr.Hex(),
		"offers": out,
	})
}

// HandleQuote は表示用の購入総額
func (h *MarketHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	itemId, err := uintVar(r, "itemId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.buyer.Quote(r.Context(), itemId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id":     itemId,
		"total_price": amount(total),
	})
}

// HandlePurchase は購入する。支払額はサーバー側で読み直した総額
func (h *MarketHandler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	itemId, err := uintVar(r, "itemId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.buyer.Purchase(r.Context(), itemId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResponse{
		ItemId:     res.ItemId,
		TotalPrice: amount(res.TotalPrice),
		Receipt:    res.Receipt,
		Event:      event(res.Event),
	})
}

// HandleCreateListing は multipart の file, name, description, price から新規出品する
func (h *MarketHandler) HandleCreateListing(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, r, &model.ValidationError{Field: "form", Message: err.Error()})
		return
	}
	req := model.ListingRequest{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Price:       r.FormValue("price"),
	}
	file, header, err := r.FormFile("file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		writeError(w, r, &model.ValidationError{Field: "asset", Message: err.Error()})
		return
	}
	if file != nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, &model.ValidationError{Field: "asset", Message: err.Error()})
			return
		}
		if len(data) > 0 {
			req.Asset = data
		}
		req.AssetName = header.Filename
	}

	res, err := h.lister.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing(res))
}

// RelistRequest はミント済みトークンの再出品
type RelistRequest struct {
	Price string `json:"price"`
}

// HandleRelist はミント済み・未出品のトークンを出品する
func (h *MarketHandler) HandleRelist(w http.ResponseWriter, r *http.Request) {
	tokenId, err := uintVar(r, "tokenId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &model.ValidationError{Field: "body", Message: "invalid request body"})
		return
	}
	res, err := h.lister.Relist(r.Context(), tokenId, req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing(res))
}

// VerifyTxRequest はトランザクション検証リクエスト
type VerifyTxRequest struct {
	TxHash string `json:"tx_hash" validate:"required,txhash"`
}

// HandleVerifyTransaction はトランザクションを検証
func (h *MarketHandler) HandleVerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var req VerifyTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &model.ValidationError{Field: "body", Message: "invalid request body"})
		return
	}
	if err := utils.Validator().Struct(req); err != nil {
		writeError(w, r, &model.ValidationError{Field: "tx_hash", Message: "must be a 0x-prefixed 32 byte hash"})
		return
	}
	verification, err := h.verifier.VerifyTransaction(r.Context(), req.TxHash)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

func addressVar(r *http.Request) (common.Address, error) {
	s := mux.Vars(r)["address"]
	if !utils.IsAddress(s) {
		return common.Address{}, &model.ValidationError{Field: "address", Message: "must be a 0x-prefixed 20 byte address"}
	}
	return common.HexToAddress(s), nil
}

func uintVar(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, &model.ValidationError{Field: name, Message: "must be an unsigned integer"}
	}
	return v, nil
}

func (h *MarketHandler) blockRange(r *http.Request) (model.BlockRange, error) {
	br := h.catalog.DefaultRange()
	q := r.URL.Query()
	if s := q.Get("from_block"); s != "" {
		from, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return br, &model.ValidationError{Field: "from_block", Message: "must be an unsigned integer"}
		}
		br.From = from
	}
	if s := q.Get("to_block"); s != "" {
		to, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return br, &model.ValidationError{Field: "to_block", Message: "must be an unsigned integer"}
		}
		br.To = &to
	}
	if br.To != nil && *br.To < br.From {
		return br, &model.ValidationError{Field: "to_block", Message: "must not be less than from_block"}
	}
	return br, nil
}
