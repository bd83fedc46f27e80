package model

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ===============================================
// マーケットプレイスの出品関連モデル
// ===============================================

// Item は items(id) から読み出した出品情報
// Sold 以外のフィールドは出品後に変化しない
type Item struct {
	ItemId  uint64         `json:"item_id"`
	NFT     common.Address `json:"nft"`
	TokenId uint64         `json:"token_id"`
	Price   *big.Int       `json:"price"`
	Seller  common.Address `json:"seller"`
	Sold    bool           `json:"sold"`
}

// Metadata はトークンURIの先にあるJSONドキュメント
// 外部から取得するため、すべてのフィールドは欠けている可能性がある
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Price       string `json:"price"`
}

// CatalogEntry は出品情報にメタデータと購入総額を結合したもの
type CatalogEntry struct {
	Item
	Metadata    *Metadata `json:"metadata,omitempty"`
	TokenURI    string    `json:"token_uri,omitempty"`
	TotalPrice  *big.Int  `json:"total_price"`
	MetadataErr error     `json:"-"`
}

// Snapshot はある時点でのカタログ全体
// 部分的な更新はせず、リフレッシュのたびに丸ごと置き換える
type Snapshot struct {
	Seq       uint64         `json:"seq"`
	ItemCount uint64         `json:"item_count"`
	Unsold    []CatalogEntry `json:"unsold"`
	Sold      []CatalogEntry `json:"sold"`
	LoadedAt  time.Time      `json:"loaded_at"`
}

// Entries は売却済み・未売却を itemId の昇順で結合して返す
func (s *Snapshot) Entries() []CatalogEntry {
	all := make([]CatalogEntry, 0, len(s.Unsold)+len(s.Sold))
	all = append(all, s.Unsold...)
	all = append(all, s.Sold...)
	sort.Slice(all, func(i, j int) bool { return all[i].ItemId < all[j].ItemId })
	return all
}

// Lookup は itemId でエントリを探す
func (s *Snapshot) Lookup(itemId uint64) (*CatalogEntry, bool) {
	for _, part := range [][]CatalogEntry{s.Unsold, s.Sold} {
		for i := range part {
			if part[i].ItemId == itemId {
				return &part[i], true
			}
		}
	}
	return nil, false
}

// BySeller は出品者ビューを組み立てる
func (s *Snapshot) BySeller(seller common.Address) *SellerView {
	view := &SellerView{Seller: seller, Listed: []CatalogEntry{}, Sold: []CatalogEntry{}}
	for _, e := range s.Entries() {
		if e.Seller != seller {
			continue
		}
		view.Listed = append(view.Listed, e)
		if e.Sold {
			view.Sold = append(view.Sold, e)
		}
	}
	return view
}

// NotBySeller は指定アカウント以外が出品した未売却アイテム
func (s *Snapshot) NotBySeller(account common.Address) []CatalogEntry {
	out := []CatalogEntry{}
	for _, e := range s.Unsold {
		if e.Seller != account {
			out = append(out, e)
		}
	}
	return out
}

// SellerView は出品者の出品一覧（Listed）とその中で売れたもの（Sold）
type SellerView struct {
	Seller common.Address `json:"seller"`
	Listed []CatalogEntry `json:"listed"`
	Sold   []CatalogEntry `json:"sold"`
}

// PurchaseRecord は購入者ビューの1行
type PurchaseRecord struct {
	Event       ContractEvent `json:"event"`
	Metadata    *Metadata     `json:"metadata,omitempty"`
	TokenURI    string        `json:"token_uri,omitempty"`
	TotalPrice  *big.Int      `json:"total_price"`
	MetadataErr error         `json:"-"`
}

// BlockRange はイベントログを検索するブロック範囲
// To が nil の場合は最新ブロックまで
type BlockRange struct {
	From uint64
	To   *uint64
}

// ===============================================
// 出品・購入リクエスト
// ===============================================

// ListingRequest は新規出品の入力
type ListingRequest struct {
	Asset       []byte `validate:"required"`
	AssetName   string
	Name        string `validate:"required,max=256"`
	Description string `validate:"required,max=4096"`
	Price       string `validate:"required"`
}

// ListingResult は出品シーケンスの結果
type ListingResult struct {
	TokenId   uint64     `json:"token_id"`
	ItemId    uint64     `json:"item_id"`
	ImageURI  string     `json:"image_uri"`
	TokenURI  string     `json:"token_uri"`
	Price     *big.Int   `json:"price"`
	MintTx    *TxReceipt `json:"mint_tx"`
	ApproveTx *TxReceipt `json:"approve_tx,omitempty"`
	ListTx    *TxReceipt `json:"list_tx"`
}

// PurchaseResult は購入結果
type PurchaseResult struct {
	ItemId     uint64         `json:"item_id"`
	TotalPrice *big.Int       `json:"total_price"`
	Receipt    *TxReceipt     `json:"receipt"`
	Event      *ContractEvent `json:"event,omitempty"`
}

// ===============================================
// スマートコントラクト関連のモデル
// ===============================================

// EventType はコントラクトイベントの種類
type EventType string

const (
	EventOffered EventType = "Offered"
	EventBought  EventType = "Bought"
)

// ContractEvent はコントラクトイベントを表す
type ContractEvent struct {
	Type     EventType      `json:"type"`
	TxHash   string         `json:"tx_hash"`
	BlockNo  uint64         `json:"block_number"`
	LogIndex uint           `json:"log_index"`
	ItemId   uint64         `json:"item_id"`
	NFT      common.Address `json:"nft"`
	TokenId  uint64         `json:"token_id"`
	Price    *big.Int       `json:"price,omitempty"`
	Seller   common.Address `json:"seller"`
	Buyer    common.Address `json:"buyer,omitempty"`
}

// TxReceipt は採掘済みトランザクションの要約
type TxReceipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// ContractInfo はセッションに紐づくコントラクト情報
type ContractInfo struct {
	Account     common.Address `json:"account"`
	ChainId     *big.Int       `json:"chain_id"`
	Marketplace common.Address `json:"marketplace"`
	NFT         common.Address `json:"nft"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	FeePercent  *big.Int       `json:"fee_percent"`
	FeeAccount  common.Address `json:"fee_account"`
	OwnedTokens uint64         `json:"owned_tokens"`
}

// TxVerification はトランザクション検証結果
type TxVerification struct {
	TxHash         string `json:"tx_hash"`
	Status         string `json:"status"` // "pending", "success", "failed"
	BlockNumber    uint64 `json:"block_number,omitempty"`
	GasUsed        uint64 `json:"gas_used,omitempty"`
	Success        bool   `json:"success"`
	IsContractCall bool   `json:"is_contract_call"`
}
