package main

import (
	"nft-market-onchain/cmd"
)

func main() {
	cmd.Execute()
}
