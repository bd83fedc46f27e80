package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nft-market-onchain/config"
	"nft-market-onchain/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "nft-market",
	Short:        "NFT marketplace client for the on-chain ledger.",
	Long:         "Browse, list and buy NFTs on the on-chain marketplace, or serve the same operations over HTTP.",
	SilenceUsage: true,
}

// Execute はサブコマンドを解析して実行する
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./config/config.toml", "config file (toml)")
}

// loadConfig は設定を読み、検証し、ロガーを初期化する
func loadConfig() (*config.Config, error) {
	file := cfgFile
	// 既定パスにファイルがなければ環境変数のみで動かす
	if _, err := os.Stat(file); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
		file = ""
	}
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := logger.SetUp(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
