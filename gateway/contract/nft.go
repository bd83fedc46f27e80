package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"nft-market-onchain/model"
)

// NFTGateway はトークン発行コントラクトとの連携を担当
type NFTGateway interface {
	Address() common.Address
	Name(ctx context.Context) (string, error)
	Symbol(ctx context.Context) (string, error)

	// Mint は tokenURI を指すトークンを呼び出し元アカウントに発行する
	Mint(ctx context.Context, tokenURI string) (*model.TxReceipt, error)

	// TokenCount はこれまでに発行されたトークン数（最後に発行された tokenId）
	TokenCount(ctx context.Context) (uint64, error)

	TokenURI(ctx context.Context, tokenId uint64) (string, error)
	OwnerOf(ctx context.Context, tokenId uint64) (common.Address, error)
	BalanceOf(ctx context.Context, owner common.Address) (uint64, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (*model.TxReceipt, error)
}

// NFT は NFTGateway の go-ethereum 実装
type NFT struct {
	*boundContract
}

// NewNFT は新しいトークンゲートウェイを作成
func NewNFT(backend Backend, address common.Address, auth *bind.TransactOpts) (*NFT, error) {
	bc, err := newBoundContract(backend, address, NFTABI, auth)
	if err != nil {
		return nil, err
	}
	return &NFT{boundContract: bc}, nil
}

func (n *NFT) Address() common.Address {
	return n.address
}

func (n *NFT) Name(ctx context.Context) (string, error) {
	out, err := n.call(ctx, "name")
	if err != nil {
		return "", err
	}
	return toString(out[0]), nil
}

func (n *NFT) Symbol(ctx context.Context) (string, error) {
	out, err := n.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	return toString(out[0]), nil
}

func (n *NFT) Mint(ctx context.Context, tokenURI string) (*model.TxReceipt, error) {
	receipt, err := n.transact(ctx, model.StageMint, nil, "mint", tokenURI)
	return toReceipt(receipt), err
}

func (n *NFT) TokenCount(ctx context.Context) (uint64, error) {
	out, err := n.call(ctx, "tokenCount")
	if err != nil {
		return 0, err
	}
	return toBig(out[0]).Uint64(), nil
}

func (n *NFT) TokenURI(ctx context.Context, tokenId uint64) (string, error) {
	out, err := n.call(ctx, "tokenURI", new(big.Int).SetUint64(tokenId))
	if err != nil {
		return "", err
	}
	return toString(out[0]), nil
}

func (n *NFT) OwnerOf(ctx context.Context, tokenId uint64) (common.Address, error) {
	out, err := n.call(ctx, "ownerOf", new(big.Int).SetUint64(tokenId))
	if err != nil {
		return common.Address{}, err
	}
	return toAddress(out[0]), nil
}

func (n *NFT) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	out, err := n.call(ctx, "balanceOf", owner)
	if err != nil {
		return 0, err
	}
	return toBig(out[0]).Uint64(), nil
}

func (n *NFT) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	out, err := n.call(ctx, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	return toBool(out[0]), nil
}

func (n *NFT) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (*model.TxReceipt, error) {
	receipt, err := n.transact(ctx, model.StageApprove, nil, "setApprovalForAll", operator, approved)
	return toReceipt(receipt), err
}
