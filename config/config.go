package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"nft-market-onchain/logger"
	"nft-market-onchain/utils"
)

// EnvPrefix は環境変数のプレフィックス（例: NFTM_CHAIN_HTTPS_URL）
const EnvPrefix = "NFTM"

// Config はアプリケーション全体の設定
type Config struct {
	Log      logger.LogConf `toml:"log" mapstructure:"log" json:"log"`
	Api      ApiCfg         `toml:"api" mapstructure:"api" json:"api"`
	Chain    ChainCfg       `toml:"chain" mapstructure:"chain" json:"chain"`
	Contract ContractCfg    `toml:"contract" mapstructure:"contract" json:"contract"`
	Wallet   WalletCfg      `toml:"wallet" mapstructure:"wallet" json:"-"`
	Ipfs     IpfsCfg        `toml:"ipfs" mapstructure:"ipfs" json:"ipfs"`
	Catalog  CatalogCfg     `toml:"catalog" mapstructure:"catalog" json:"catalog"`
}

// ApiCfg はHTTPサーバーの設定
type ApiCfg struct {
	Port         string        `toml:"port" mapstructure:"port" json:"port"`
	AllowOrigins []string      `toml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	ReadTimeout  time.Duration `toml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	MaxUploadMB  int64         `toml:"max_upload_mb" mapstructure:"max_upload_mb" json:"max_upload_mb"`
}

// ChainCfg はRPCノードとチェーンの設定
type ChainCfg struct {
	Name         string `toml:"name" mapstructure:"name" json:"name"`
	ID           int64  `toml:"id" mapstructure:"id" json:"id"` // 0 ならノードに問い合わせる
	HttpsUrl     string `toml:"https_url" mapstructure:"https_url" json:"https_url"`
	WebsocketUrl string `toml:"websocket_url" mapstructure:"websocket_url" json:"websocket_url"`
	EnableWss    bool   `toml:"enable_wss" mapstructure:"enable_wss" json:"enable_wss"`
}

// ContractCfg はデプロイ済みコントラクトのアドレス
type ContractCfg struct {
	MarketplaceAddress string `toml:"marketplace_address" mapstructure:"marketplace_address" json:"marketplace_address"`
	NftAddress         string `toml:"nft_address" mapstructure:"nft_address" json:"nft_address"`
}

// WalletCfg は署名に使うウォレットの設定
// PrivateKey か KeystoreDir のどちらかが必要
type WalletCfg struct {
	PrivateKey  string `toml:"private_key" mapstructure:"private_key"`
	KeystoreDir string `toml:"keystore_dir" mapstructure:"keystore_dir"`
	Passphrase  string `toml:"passphrase" mapstructure:"passphrase"`
	Account     string `toml:"account" mapstructure:"account"`
}

// IpfsCfg はコンテンツストレージの設定
type IpfsCfg struct {
	ApiUrl        string `toml:"api_url" mapstructure:"api_url" json:"api_url"`
	ProjectId     string `toml:"project_id" mapstructure:"project_id" json:"-"`
	ProjectSecret string `toml:"project_secret" mapstructure:"project_secret" json:"-"`
	GatewayUrl    string `toml:"gateway_url" mapstructure:"gateway_url" json:"gateway_url"`
}

// CatalogCfg はカタログ集約の設定
type CatalogCfg struct {
	RefreshInterval    time.Duration `toml:"refresh_interval" mapstructure:"refresh_interval" json:"refresh_interval"`
	MetadataTimeout    time.Duration `toml:"metadata_timeout" mapstructure:"metadata_timeout" json:"metadata_timeout"`
	HistoryFromBlock   uint64        `toml:"history_from_block" mapstructure:"history_from_block" json:"history_from_block"`
	HistoryWindow      uint64        `toml:"history_window" mapstructure:"history_window" json:"history_window"`
	HistoryConcurrency int           `toml:"history_concurrency" mapstructure:"history_concurrency" json:"history_concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.service_name", "nft-market")
	v.SetDefault("log.mode", "console")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("api.port", "8080")
	v.SetDefault("api.allow_origins", []string{"*"})
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 5*time.Minute)
	v.SetDefault("api.max_upload_mb", 32)

	v.SetDefault("chain.name", "localhost")

	v.SetDefault("ipfs.api_url", "https://ipfs.infura.io:5001")
	v.SetDefault("ipfs.gateway_url", "https://ipfs.io")

	v.SetDefault("catalog.refresh_interval", 10*time.Second)
	v.SetDefault("catalog.metadata_timeout", 10*time.Second)
	v.SetDefault("catalog.history_window", 5000)
	v.SetDefault("catalog.history_concurrency", 8)
}

// Load は .env、TOMLファイル、環境変数の順に読み込んで設定を組み立てる
// configFile が空の場合は既定値と環境変数のみ
func Load(configFile string) (*Config, error) {
	// .env は任意
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv は Unmarshal 時に未知のキーを拾わないため明示的に bind する
	for _, key := range []string{
		"chain.https_url", "chain.websocket_url", "chain.enable_wss", "chain.id",
		"contract.marketplace_address", "contract.nft_address",
		"wallet.private_key", "wallet.keystore_dir", "wallet.passphrase", "wallet.account",
		"ipfs.project_id", "ipfs.project_secret",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", key)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &c, nil
}

// Validate は起動に必要な設定が揃っているか確認する
func (c *Config) Validate() error {
	if c.Chain.HttpsUrl == "" {
		return errors.New("chain.https_url is required")
	}
	if c.Chain.EnableWss && c.Chain.WebsocketUrl == "" {
		return errors.New("chain.websocket_url is required when chain.enable_wss is set")
	}
	if !utils.IsAddress(c.Contract.MarketplaceAddress) {
		return errors.Errorf("contract.marketplace_address %q is not a valid address", c.Contract.MarketplaceAddress)
	}
	if !utils.IsAddress(c.Contract.NftAddress) {
		return errors.Errorf("contract.nft_address %q is not a valid address", c.Contract.NftAddress)
	}
	if c.Wallet.PrivateKey == "" && c.Wallet.KeystoreDir == "" {
		return errors.New("wallet.private_key or wallet.keystore_dir is required")
	}
	if c.Wallet.Account != "" && !utils.IsAddress(c.Wallet.Account) {
		return errors.Errorf("wallet.account %q is not a valid address", c.Wallet.Account)
	}
	return nil
}
