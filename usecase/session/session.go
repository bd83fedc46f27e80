package session

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market-onchain/gateway/contract"
	"nft-market-onchain/gateway/ipfs"
	"nft-market-onchain/gateway/wallet"
	"nft-market-onchain/logger"
	"nft-market-onchain/model"
)

// Session は接続済みアカウントと、そのアカウントに紐づくゲートウェイ
// グローバルには持たず、各コンポーネントへ明示的に渡す
type Session struct {
	Account     common.Address
	ChainID     *big.Int
	Marketplace contract.MarketplaceGateway
	NFT         contract.NFTGateway
	Storage     ipfs.StorageGateway
}

// ChainIDReader はノードのチェーンIDを返す
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// GatewayFactory は署名者を束縛したコントラクトゲートウェイを作る
type GatewayFactory func(auth *bind.TransactOpts) (contract.MarketplaceGateway, contract.NFTGateway, error)

// Option はブートストラップの任意設定
type Option func(*Bootstrapper)

// WithAccount は使用するアカウントを指定する
func WithAccount(account common.Address) Option {
	return func(b *Bootstrapper) { b.account = &account }
}

// WithChainID は期待するチェーンIDを指定する。ノードと異なればエラー
func WithChainID(id *big.Int) Option {
	return func(b *Bootstrapper) { b.chainID = id }
}

// Bootstrapper はウォレット接続からセッションを組み立てる
type Bootstrapper struct {
	wallet  wallet.Provider
	chain   ChainIDReader
	storage ipfs.StorageGateway
	factory GatewayFactory
	account *common.Address
	chainID *big.Int
}

func NewBootstrapper(w wallet.Provider, chain ChainIDReader, storage ipfs.StorageGateway, factory GatewayFactory, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{wallet: w, chain: chain, storage: storage, factory: factory}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start はアカウントを要求し、チェーンIDを確認して、ゲートウェイを一度だけ作成する
func (b *Bootstrapper) Start(ctx context.Context) (*Session, error) {
	accounts, err := b.wallet.RequestAccounts(ctx)
	if err != nil {
		return nil, &model.SessionError{Message: "request accounts", Err: err}
	}
	if len(accounts) == 0 {
		return nil, &model.SessionError{Message: "wallet exposed no accounts"}
	}

	account := accounts[0]
	if b.account != nil {
		found := false
		for _, a := range accounts {
			if a == *b.account {
				found = true
				break
			}
		}
		if !found {
			return nil, &model.SessionError{Message: "account " + b.account.Hex() + " is not available in wallet"}
		}
		account = *b.account
	}

	chainID, err := b.chain.ChainID(ctx)
	if err != nil {
		return nil, &model.SessionError{Message: "read chain id", Err: err}
	}
	if b.chainID != nil && b.chainID.Sign() > 0 && b.chainID.Cmp(chainID) != 0 {
		return nil, &model.SessionError{Message: "node is on chain " + chainID.String() + ", expected " + b.chainID.String()}
	}

	auth, err := b.wallet.Transactor(account, chainID)
	if err != nil {
		return nil, err
	}
	market, nft, err := b.factory(auth)
	if err != nil {
		return nil, &model.SessionError{Message: "build contract gateways", Err: err}
	}

	logger.WithContext(ctx).Info("session established",
		zap.String("account", account.Hex()),
		zap.String("chain_id", chainID.String()),
		zap.String("marketplace", market.Address().Hex()),
		zap.String("nft", nft.Address().Hex()))

	return &Session{
		Account:     account,
		ChainID:     chainID,
		Marketplace: market,
		NFT:         nft,
		Storage:     b.storage,
	}, nil
}

// Info はセッションとコントラクトの情報を読み出す
func (s *Session) Info(ctx context.Context) (*model.ContractInfo, error) {
	name, err := s.NFT.Name(ctx)
	if err != nil {
		return nil, err
	}
	symbol, err := s.NFT.Symbol(ctx)
	if err != nil {
		return nil, err
	}
	fee, err := s.Marketplace.FeePercent(ctx)
	if err != nil {
		return nil, err
	}
	feeAccount, err := s.Marketplace.FeeAccount(ctx)
	if err != nil {
		return nil, err
	}
	// 出品中のトークンはマーケットプレイスが保有するので含まれない
	owned, err := s.NFT.BalanceOf(ctx, s.Account)
	if err != nil {
		return nil, err
	}
	return &model.ContractInfo{
		Account:     s.Account,
		ChainId:     s.ChainID,
		Marketplace: s.Marketplace.Address(),
		NFT:         s.NFT.Address(),
		Name:        name,
		Symbol:      symbol,
		FeePercent:  fee,
		FeeAccount:  feeAccount,
		OwnedTokens: owned,
	}, nil
}
