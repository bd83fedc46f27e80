package listing

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nft-market-onchain/gateway/contract"
	"nft-market-onchain/gateway/ipfs"
	"nft-market-onchain/logger"
	"nft-market-onchain/model"
	"nft-market-onchain/usecase/session"
	"nft-market-onchain/utils"
)

const (
	targetAsset    = "asset"
	targetMetadata = "metadata"
)

// Refresher はカタログの再読み込み
type Refresher interface {
	Refresh(ctx context.Context) (*model.Snapshot, error)
}

// Submitter は出品シーケンス（アップロード→ミント→承認→出品）を実行する
type Submitter struct {
	account   common.Address
	market    contract.MarketplaceGateway
	nft       contract.NFTGateway
	storage   ipfs.StorageGateway
	refresher Refresher
}

func NewSubmitter(s *session.Session, refresher Refresher) *Submitter {
	return &Submitter{
		account:   s.Account,
		market:    s.Marketplace,
		nft:       s.NFT,
		storage:   s.Storage,
		refresher: refresher,
	}
}

// metadataDoc はトークンURIの先に置くJSON
type metadataDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Price       string `json:"price"`
}

// Validate は入力を検証して価格を wei で返す。I/O は行わない
func Validate(req model.ListingRequest) (*big.Int, error) {
	if err := utils.Validator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fieldError(verrs[0])
		}
		return nil, &model.ValidationError{Field: "request", Message: err.Error()}
	}
	return validatePrice(req.Price)
}

func validatePrice(price string) (*big.Int, error) {
	wei, err := utils.ParseEther(price)
	if err != nil {
		return nil, &model.ValidationError{Field: "price", Message: err.Error()}
	}
	if wei.Sign() <= 0 {
		return nil, &model.ValidationError{Field: "price", Message: "must be greater than 0"}
	}
	// uint256 に収まらない値は ABI エンコードで切り詰められる
	if wei.BitLen() > 256 {
		return nil, &model.ValidationError{Field: "price", Message: "exceeds uint256"}
	}
	return wei, nil
}

func fieldError(fe validator.FieldError) *model.ValidationError {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &model.ValidationError{Field: field, Message: "is required"}
	case "max":
		return &model.ValidationError{Field: field, Message: "must be at most " + fe.Param() + " characters"}
	default:
		return &model.ValidationError{Field: field, Message: "failed on " + fe.Tag()}
	}
}

// Submit は新規出品を行う
// ミント後の段階で失敗した場合、ミント済みのトークンIDを ChainCallError に載せて返す
// 自動の取り消しは行わないので Relist で出品をやり直す
func (s *Submitter) Submit(ctx context.Context, req model.ListingRequest) (*model.ListingResult, error) {
	log := logger.WithContext(ctx)
	priceWei, err := Validate(req)
	if err != nil {
		log.Info("listing rejected", zap.Error(err))
		return nil, err
	}

	assetName := req.AssetName
	if assetName == "" {
		assetName = targetAsset
	}
	cid, err := s.storage.Add(ctx, assetName, req.Asset)
	if err != nil {
		log.Error("asset upload failed", zap.Error(err))
		return nil, &model.UploadError{Target: targetAsset, Err: err}
	}
	imageURI := s.storage.URL(cid)
	log.Info("asset uploaded", zap.String("image_uri", imageURI), zap.Int("size", len(req.Asset)))

	doc, err := json.Marshal(metadataDoc{
		Name:        req.Name,
		Description: req.Description,
		Image:       imageURI,
		Price:       utils.FormatEther(priceWei),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	cid, err = s.storage.Add(ctx, targetMetadata+".json", doc)
	if err != nil {
		log.Error("metadata upload failed", zap.Error(err))
		return nil, &model.UploadError{Target: targetMetadata, Err: err}
	}
	tokenURI := s.storage.URL(cid)
	log.Info("metadata uploaded", zap.String("token_uri", tokenURI))

	mintTx, err := s.nft.Mint(ctx, tokenURI)
	if err != nil {
		log.Error("mint failed", zap.Error(err))
		return nil, err
	}
	tokenId, err := s.nft.TokenCount(ctx)
	if err != nil {
		// トークンIDが読めないため、ミント済みであることだけを伝える
		log.Error("read token count after mint failed", zap.String("mint_tx", mintTx.TxHash), zap.Error(err))
		return nil, &model.ChainCallError{
			Stage:   model.StageMint,
			Method:  "tokenCount",
			Message: "minted in " + mintTx.TxHash + " but token id is unknown",
			TxHash:  mintTx.TxHash,
			Err:     err,
		}
	}
	log.Info("token minted", zap.Uint64("token_id", tokenId), zap.String("tx_hash", mintTx.TxHash))

	approveTx, listTx, event, err := s.list(ctx, tokenId, priceWei)
	if err != nil {
		return nil, withToken(err, tokenId)
	}

	result := &model.ListingResult{
		TokenId:   tokenId,
		ItemId:    event.ItemId,
		ImageURI:  imageURI,
		TokenURI:  tokenURI,
		Price:     priceWei,
		MintTx:    mintTx,
		ApproveTx: approveTx,
		ListTx:    listTx,
	}
	s.refresh(ctx)
	return result, nil
}

// Relist はミント済み・未出品のトークンを出品し直す（承認→出品）
func (s *Submitter) Relist(ctx context.Context, tokenId uint64, price string) (*model.ListingResult, error) {
	log := logger.WithContext(ctx)
	priceWei, err := validatePrice(price)
	if err != nil {
		return nil, err
	}

	owner, err := s.nft.OwnerOf(ctx, tokenId)
	if err != nil {
		return nil, err
	}
	if owner != s.account {
		return nil, &model.ValidationError{Field: "token_id", Message: "token is not owned by the connected account"}
	}
	tokenURI, err := s.nft.TokenURI(ctx, tokenId)
	if err != nil {
		return nil, err
	}

	approveTx, listTx, event, err := s.list(ctx, tokenId, priceWei)
	if err != nil {
		return nil, withToken(err, tokenId)
	}
	log.Info("token relisted", zap.Uint64("token_id", tokenId), zap.Uint64("item_id", event.ItemId))

	result := &model.ListingResult{
		TokenId:   tokenId,
		ItemId:    event.ItemId,
		TokenURI:  tokenURI,
		Price:     priceWei,
		ApproveTx: approveTx,
		ListTx:    listTx,
	}
	s.refresh(ctx)
	return result, nil
}

// list は必要なら承認し、出品する
func (s *Submitter) list(ctx context.Context, tokenId uint64, priceWei *big.Int) (*model.TxReceipt, *model.TxReceipt, *model.ContractEvent, error) {
	log := logger.WithContext(ctx)
	marketAddr := s.market.Address()

	var approveTx *model.TxReceipt
	approved, err := s.nft.IsApprovedForAll(ctx, s.account, marketAddr)
	if err != nil {
		return nil, nil, nil, err
	}
	if !approved {
		approveTx, err = s.nft.SetApprovalForAll(ctx, marketAddr, true)
		if err != nil {
			log.Error("approval failed", zap.Uint64("token_id", tokenId), zap.Error(err))
			return nil, nil, nil, err
		}
		log.Info("marketplace approved", zap.String("tx_hash", approveTx.TxHash))
	}

	listTx, event, err := s.market.MakeItem(ctx, s.nft.Address(), tokenId, priceWei)
	if err != nil {
		log.Error("makeItem failed", zap.Uint64("token_id", tokenId), zap.Error(err))
		return nil, nil, nil, err
	}
	if event == nil {
		return nil, nil, nil, &model.ChainCallError{
			Stage:  model.StageList,
			Method: "makeItem",
			TxHash: listTx.TxHash,
			Err:    errors.New("Offered event missing from receipt"),
		}
	}
	log.Info("item listed",
		zap.Uint64("token_id", tokenId),
		zap.Uint64("item_id", event.ItemId),
		zap.String("price", priceWei.String()),
		zap.String("tx_hash", listTx.TxHash))
	return approveTx, listTx, event, nil
}

func (s *Submitter) refresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if _, err := s.refresher.Refresh(ctx); err != nil {
		logger.WithContext(ctx).Warn("catalog refresh after listing failed", zap.Error(err))
	}
}

// withToken はミント済みトークンIDをエラーに付与する
func withToken(err error, tokenId uint64) error {
	var cerr *model.ChainCallError
	if errors.As(err, &cerr) {
		tagged := *cerr
		tagged.TokenId = &tokenId
		return &tagged
	}
	return &model.ChainCallError{Stage: model.StageList, Err: err, TokenId: &tokenId}
}
