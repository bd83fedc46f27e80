package cmd

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"nft-market-onchain/model"
	"nft-market-onchain/utils"
)

var (
	catalogSeller    string
	catalogBuyer     string
	catalogExclude   string
	catalogFromBlock uint64
)

// catalogLine はCLI出力用の1件
type catalogLine struct {
	ItemId      uint64 `json:"item_id"`
	TokenId     uint64 `json:"token_id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Seller      string `json:"seller"`
	Sold        bool   `json:"sold"`
	Price       string `json:"price"`
	TotalPrice  string `json:"total_price"`
	Warning     string `json:"warning,omitempty"`
}

func toLine(item model.Item, md *model.Metadata, total *big.Int, mdErr error) catalogLine {
	l := catalogLine{
		ItemId:     item.ItemId,
		TokenId:    item.TokenId,
		Seller:     item.Seller.Hex(),
		Sold:       item.Sold,
		Price:      utils.FormatEther(item.Price),
		TotalPrice: utils.FormatEther(total),
	}
	if md != nil {
		l.Name, l.Description, l.Image = md.Name, md.Description, md.Image
	}
	if mdErr != nil {
		l.Warning = mdErr.Error()
	}
	return l
}

func toLines(entries []model.CatalogEntry) []catalogLine {
	out := make([]catalogLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLine(e.Item, e.Metadata, e.TotalPrice, e.MetadataErr))
	}
	return out
}

// CatalogCmd はカタログを一度読み込んで表示する
var CatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "print the marketplace catalog.",
	Long:  "read every listing from the ledger once and print unsold and sold items; --seller and --buyer print the personal views.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if catalogSeller != "" && catalogBuyer != "" {
			return errors.New("--seller and --buyer are exclusive")
		}
		for _, addr := range []string{catalogSeller, catalogBuyer, catalogExclude} {
			if addr != "" && !utils.IsAddress(addr) {
				return errors.Errorf("%q is not a valid address", addr)
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

		switch {
		case catalogSeller != "":
			view, err := a.catalog.Listings(ctx, common.HexToAddress(catalogSeller))
			if err != nil {
				return err
			}
			offers, err := a.catalog.Offers(ctx, view.Seller, a.catalog.DefaultRange())
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"seller":       view.Seller.Hex(),
				"listed":       toLines(view.Listed),
				"sold":         toLines(view.Sold),
				"offer_events": len(offers),
			})
		case catalogBuyer != "":
			r := a.catalog.DefaultRange()
			if cmd.Flags().Changed("from-block") {
				r.From = catalogFromBlock
			}
			records, err := a.catalog.Purchases(ctx, common.HexToAddress(catalogBuyer), r)
			if err != nil {
				return err
			}
			out := make([]catalogLine, 0, len(records))
			for _, rec := range records {
				item := model.Item{
					ItemId:  rec.Event.ItemId,
					NFT:     rec.Event.NFT,
					TokenId: rec.Event.TokenId,
					Price:   rec.Event.Price,
					Seller:  rec.Event.Seller,
					Sold:    true,
				}
				out = append(out, toLine(item, rec.Metadata, rec.TotalPrice, rec.MetadataErr))
			}
			return printJSON(map[string]interface{}{
				"buyer":     catalogBuyer,
				"purchases": out,
			})
		default:
			snap, err := a.catalog.Load(ctx)
			if err != nil {
				return err
			}
			unsold := snap.Unsold
			if catalogExclude != "" {
				unsold = snap.NotBySeller(common.HexToAddress(catalogExclude))
			}
			return printJSON(map[string]interface{}{
				"item_count": snap.ItemCount,
				"unsold":     toLines(unsold),
				"sold":       toLines(snap.Sold),
			})
		}
	},
}

func init() {
	CatalogCmd.Flags().StringVar(&catalogSeller, "seller", "", "print the items listed by this address")
	CatalogCmd.Flags().StringVar(&catalogBuyer, "buyer", "", "print the items bought by this address")
	CatalogCmd.Flags().StringVar(&catalogExclude, "exclude", "", "hide unsold items listed by this address")
	CatalogCmd.Flags().Uint64Var(&catalogFromBlock, "from-block", 0, "first block to search for purchases")
	rootCmd.AddCommand(CatalogCmd)
}
