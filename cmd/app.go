package cmd

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nft-market-onchain/config"
	"nft-market-onchain/gateway/contract"
	"nft-market-onchain/gateway/ipfs"
	"nft-market-onchain/gateway/wallet"
	"nft-market-onchain/logger"
	"nft-market-onchain/usecase/catalog"
	"nft-market-onchain/usecase/listing"
	"nft-market-onchain/usecase/purchase"
	"nft-market-onchain/usecase/session"
)

// app は接続済みのセッションと各ユースケース
type app struct {
	client  *ethclient.Client
	ws      *ethclient.Client
	session *session.Session

	catalog   *catalog.Aggregator
	submitter *listing.Submitter
	buyer     *purchase.Coordinator
}

// newApp はノードに接続し、ウォレットからセッションを確立して依存性を注入する
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.WithContext(ctx)

	// --- 1. ethclientの初期化 ---
	client, err := ethclient.DialContext(ctx, cfg.Chain.HttpsUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.Chain.Name)
	}
	log.Info("connected to chain (HTTP)", zap.String("chain", cfg.Chain.Name))

	// WebSocket接続でイベント購読
	var ws *ethclient.Client
	if cfg.Chain.EnableWss {
		ws, err = ethclient.DialContext(ctx, cfg.Chain.WebsocketUrl)
		if err != nil {
			// HTTP clientでコントラクト機能は使用可能
			log.Warn("failed to connect websocket, events disabled", zap.Error(err))
			ws = nil
		} else {
			log.Info("connected to chain (WebSocket for events)")
		}
	}

	// --- 2. ウォレット ---
	var provider wallet.Provider
	if cfg.Wallet.PrivateKey != "" {
		provider, err = wallet.NewKeyProvider(cfg.Wallet.PrivateKey)
		if err != nil {
			client.Close()
			return nil, err
		}
	} else {
		provider = wallet.NewKeystoreProvider(cfg.Wallet.KeystoreDir, cfg.Wallet.Passphrase)
	}

	// --- 3. ゲートウェイ ---
	storage := ipfs.NewGateway(ipfs.Config{
		ApiUrl:          cfg.Ipfs.ApiUrl,
		ProjectId:       cfg.Ipfs.ProjectId,
		ProjectSecret:   cfg.Ipfs.ProjectSecret,
		GatewayUrl:      cfg.Ipfs.GatewayUrl,
		MetadataTimeout: cfg.Catalog.MetadataTimeout,
	})
	marketAddr := common.HexToAddress(cfg.Contract.MarketplaceAddress)
	nftAddr := common.HexToAddress(cfg.Contract.NftAddress)
	factory := func(auth *bind.TransactOpts) (contract.MarketplaceGateway, contract.NFTGateway, error) {
		opts := []contract.Option{contract.WithHistoryWindow(cfg.Catalog.HistoryWindow)}
		if ws != nil {
			opts = append(opts, contract.WithEventBackend(ws))
		}
		market, err := contract.NewMarketplace(client, marketAddr, auth, opts...)
		if err != nil {
			return nil, nil, err
		}
		nft, err := contract.NewNFT(client, nftAddr, auth)
		if err != nil {
			return nil, nil, err
		}
		return market, nft, nil
	}

	// --- 4. セッション ---
	var bootOpts []session.Option
	if cfg.Chain.ID > 0 {
		bootOpts = append(bootOpts, session.WithChainID(big.NewInt(cfg.Chain.ID)))
	}
	if cfg.Wallet.Account != "" {
		bootOpts = append(bootOpts, session.WithAccount(common.HexToAddress(cfg.Wallet.Account)))
	}
	s, err := session.NewBootstrapper(provider, client, storage, factory, bootOpts...).Start(ctx)
	if err != nil {
		client.Close()
		if ws != nil {
			ws.Close()
		}
		return nil, err
	}

	// --- 5. ユースケース ---
	agg := catalog.New(s,
		catalog.WithHistoryConcurrency(cfg.Catalog.HistoryConcurrency),
		catalog.WithHistoryFromBlock(cfg.Catalog.HistoryFromBlock))

	return &app{
		client:    client,
		ws:        ws,
		session:   s,
		catalog:   agg,
		submitter: listing.NewSubmitter(s, agg),
		buyer:     purchase.NewCoordinator(s, agg),
	}, nil
}

func (a *app) Close() {
	if a.ws != nil {
		a.ws.Close()
	}
	a.client.Close()
}
