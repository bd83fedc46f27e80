package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nft-market-onchain/logger"
	"nft-market-onchain/model"
	"nft-market-onchain/utils"
)

// BuyCmd は出品を購入する
var BuyCmd = &cobra.Command{
	Use:   "buy <item-id>",
	Short: "buy a listed item.",
	Long:  "re-read the total price of the item from the ledger and purchase it with exactly that value.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemId, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return errors.Errorf("invalid item id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.buyer.Purchase(ctx, itemId)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"item_id":     res.ItemId,
			"total_price": utils.FormatEther(res.TotalPrice),
			"receipt":     res.Receipt,
			"event":       res.Event,
		})
	},
}

var (
	listFile        string
	listName        string
	listDescription string
	listPrice       string
	listTokenId     uint64
)

// ListCmd は新規出品、または --token-id でミント済みトークンの再出品
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "mint and list an asset.",
	Long:  "upload the asset and its metadata, mint the token and list it; with --token-id only approve and list an already minted token.",
	RunE: func(cmd *cobra.Command, args []string) error {
		relist := cmd.Flags().Changed("token-id")
		var req model.ListingRequest
		if !relist {
			req = model.ListingRequest{Name: listName, Description: listDescription, Price: listPrice}
			// ファイル未指定は Submit の検証で弾く
			if listFile != "" {
				data, err := os.ReadFile(listFile)
				if err != nil {
					return errors.Wrapf(err, "read %s", listFile)
				}
				req.Asset, req.AssetName = data, filepath.Base(listFile)
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var res *model.ListingResult
		if relist {
			res, err = a.submitter.Relist(ctx, listTokenId, listPrice)
		} else {
			res, err = a.submitter.Submit(ctx, req)
		}
		if err != nil {
			var cerr *model.ChainCallError
			if errors.As(err, &cerr) && cerr.TokenId != nil {
				logger.WithContext(ctx).Warn("token minted but not listed, retry with --token-id",
					zap.Uint64("token_id", *cerr.TokenId))
			}
			return err
		}
		return printJSON(res)
	},
}

func init() {
	ListCmd.Flags().StringVar(&listFile, "file", "", "asset file to upload")
	ListCmd.Flags().StringVar(&listName, "name", "", "item name")
	ListCmd.Flags().StringVar(&listDescription, "description", "", "item description")
	ListCmd.Flags().StringVar(&listPrice, "price", "", "price in ether (e.g. 0.5)")
	ListCmd.Flags().Uint64Var(&listTokenId, "token-id", 0, "list an already minted token instead of minting")
	_ = ListCmd.MarkFlagRequired("price")
	ListCmd.MarkFlagsMutuallyExclusive("file", "token-id")

	rootCmd.AddCommand(BuyCmd)
	rootCmd.AddCommand(ListCmd)
}
