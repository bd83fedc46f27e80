package handler

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nft-market-onchain/logger"
	"nft-market-onchain/model"
	"nft-market-onchain/usecase/catalog"
	"nft-market-onchain/utils"
)

// ErrorResponse はすべてのエラー応答の形
type ErrorResponse struct {
	Error   string  `json:"error"`
	Message string  `json:"message"`
	Reason  string  `json:"reason,omitempty"`
	Stage   string  `json:"stage,omitempty"`
	TxHash  string  `json:"tx_hash,omitempty"`
	TokenId *uint64 `json:"token_id,omitempty"`
}

// Amount は wei と ETH 表記の組
type Amount struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func amount(wei *big.Int) *Amount {
	if wei == nil {
		return nil
	}
	return &Amount{Wei: wei.String(), Ether: utils.FormatEther(wei)}
}

// EntryResponse はカタログの1件
type EntryResponse struct {
	ItemId        uint64          `json:"item_id"`
	TokenId       uint64          `json:"token_id"`
	NFT           string          `json:"nft"`
	Seller        string          `json:"seller"`
	Sold          bool            `json:"sold"`
	Price         *Amount         `json:"price"`
	TotalPrice    *Amount         `json:"total_price"`
	TokenURI      string          `json:"token_uri,omitempty"`
	Metadata      *model.Metadata `json:"metadata,omitempty"`
	MetadataError string          `json:"metadata_error,omitempty"`
}

func entry(e model.CatalogEntry) EntryResponse {
	res := EntryResponse{
		ItemId:     e.ItemId,
		TokenId:    e.TokenId,
		NFT:        e.NFT.Hex(),
		Seller:     e.Seller.Hex(),
		Sold:       e.Sold,
		Price:      amount(e.Price),
		TotalPrice: amount(e.TotalPrice),
		TokenURI:   e.TokenURI,
		Metadata:   e.Metadata,
	}
	if e.MetadataErr != nil {
		res.MetadataError = e.MetadataErr.Error()
	}
	return res
}

func entries(in []model.CatalogEntry) []EntryResponse {
	out := make([]EntryResponse, 0, len(in))
	for _, e := range in {
		out = append(out, entry(e))
	}
	return out
}

// CatalogResponse はカタログ全体
// Loading はまだ一度も読み込めていないこと、Stale は直近のリフレッシュが失敗したことを表す
type CatalogResponse struct {
	Loading   bool            `json:"loading"`
	Stale     bool            `json:"stale"`
	LastError string          `json:"last_error,omitempty"`
	Seq       uint64          `json:"seq"`
	ItemCount uint64          `json:"item_count"`
	LoadedAt  string          `json:"loaded_at,omitempty"`
	Unsold    []EntryResponse `json:"unsold"`
	Sold      []EntryResponse `json:"sold"`
}

// SellerViewResponse は出品者ビュー
type SellerViewResponse struct {
	Seller string          `json:"seller"`
	Listed []EntryResponse `json:"listed"`
	Sold   []EntryResponse `json:"sold"`
}

// EventResponse はコントラクトイベント
type EventResponse struct {
	Type     string  `json:"type"`
	TxHash   string  `json:"tx_hash"`
	BlockNo  uint64  `json:"block_number"`
	LogIndex uint    `json:"log_index"`
	ItemId   uint64  `json:"item_id"`
	NFT      string  `json:"nft"`
	TokenId  uint64  `json:"token_id"`
	Price    *Amount `json:"price,omitempty"`
	Seller   string  `json:"seller"`
	Buyer    string  `json:"buyer,omitempty"`
}

func event(e *model.ContractEvent) *EventResponse {
	if e == nil {
		return nil
	}
	res := &EventResponse{
		Type:     string(e.Type),
		TxHash:   e.TxHash,
		BlockNo:  e.BlockNo,
		LogIndex: e.LogIndex,
		ItemId:   e.ItemId,
		NFT:      e.NFT.Hex(),
		TokenId:  e.TokenId,
		Price:    amount(e.Price),
		Seller:   e.Seller.Hex(),
	}
	if e.Type == model.EventBought {
		res.Buyer = e.Buyer.Hex()
	}
	return res
}

// PurchaseRecordResponse は購入者ビューの1行
type PurchaseRecordResponse struct {
	Event         *EventResponse  `json:"event"`
	TotalPrice    *Amount         `json:"total_price"`
	TokenURI      string          `json:"token_uri,omitempty"`
	Metadata      *model.Metadata `json:"metadata,omitempty"`
	MetadataError string          `json:"metadata_error,omitempty"`
}

// PurchaseResponse は購入結果
type PurchaseResponse struct {
	ItemId     uint64           `json:"item_id"`
	TotalPrice *Amount          `json:"total_price"`
	Receipt    *model.TxReceipt `json:"receipt"`
	Event      *EventResponse   `json:"event,omitempty"`
}

// ListingResponse は出品結果
type ListingResponse struct {
	TokenId   uint64           `json:"token_id"`
	ItemId    uint64           `json:"item_id"`
	ImageURI  string           `json:"image_uri,omitempty"`
	TokenURI  string           `json:"token_uri"`
	Price     *Amount          `json:"price"`
	MintTx    *model.TxReceipt `json:"mint_tx,omitempty"`
	ApproveTx *model.TxReceipt `json:"approve_tx,omitempty"`
	ListTx    *model.TxReceipt `json:"list_tx"`
}

func listing(r *model.ListingResult) ListingResponse {
	return ListingResponse{
		TokenId:   r.TokenId,
		ItemId:    r.ItemId,
		ImageURI:  r.ImageURI,
		TokenURI:  r.TokenURI,
		Price:     amount(r.Price),
		MintTx:    r.MintTx,
		ApproveTx: r.ApproveTx,
		ListTx:    r.ListTx,
	}
}

// SessionResponse は接続中セッションの情報
type SessionResponse struct {
	Account     string `json:"account"`
	ChainId     string `json:"chain_id"`
	Marketplace string `json:"marketplace"`
	NFT         string `json:"nft"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	FeePercent  string `json:"fee_percent"`
	FeeAccount  string `json:"fee_account"`
	OwnedTokens uint64 `json:"owned_tokens"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf はエラー分類をHTTPステータスに対応させる
func statusOf(err error) int {
	if errors.Is(err, catalog.ErrLoading) {
		return http.StatusServiceUnavailable
	}
	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindSession:
		return http.StatusServiceUnavailable
	case model.KindUpload, model.KindMetadataFetch:
		return http.StatusBadGateway
	case model.KindChainCall:
		var cerr *model.ChainCallError
		if errors.As(err, &cerr) && cerr.Reverted() {
			return http.StatusConflict
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	res := ErrorResponse{Error: string(model.KindOf(err)), Message: err.Error()}
	if errors.Is(err, catalog.ErrLoading) {
		res.Error = "loading"
	}
	var cerr *model.ChainCallError
	if errors.As(err, &cerr) {
		res.Reason = string(cerr.Reason)
		res.Stage = string(cerr.Stage)
		res.TxHash = cerr.TxHash
		res.TokenId = cerr.TokenId
	}

	log := logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, res)
}
