package memchain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"nft-market-onchain/gateway/contract"
	"nft-market-onchain/model"
)

var _ contract.NFTGateway = (*NFT)(nil)

// NFT は contract.NFTGateway のインメモリ実装
type NFT struct {
	chain   *Chain
	account common.Address
}

func (n *NFT) Address() common.Address { return n.chain.NFTAddr }

func (n *NFT) Name(ctx context.Context) (string, error) {
	if err := n.chain.read(ctx, "name", AnyID); err != nil {
		return "", err
	}
	return n.chain.Name, nil
}

func (n *NFT) Symbol(ctx context.Context) (string, error) {
	if err := n.chain.read(ctx, "symbol", AnyID); err != nil {
		return "", err
	}
	return n.chain.Symbol, nil
}

func (n *NFT) Mint(ctx context.Context, tokenURI string) (*model.TxReceipt, error) {
	c := n.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(ctx, model.StageMint, "mint", AnyID); err != nil {
		return nil, err
	}
	c.tokenCount++
	c.owners[c.tokenCount] = n.account
	c.tokenURIs[c.tokenCount] = tokenURI
	return c.mine(), nil
}

func (n *NFT) TokenCount(ctx context.Context) (uint64, error) {
	if err := n.chain.read(ctx, "tokenCount", AnyID); err != nil {
		return 0, err
	}
	n.chain.mu.Lock()
	defer n.chain.mu.Unlock()
	return n.chain.tokenCount, nil
}

func (n *NFT) TokenURI(ctx context.Context, tokenId uint64) (string, error) {
	if err := n.chain.read(ctx, "tokenURI", tokenId); err != nil {
		return "", err
	}
	n.chain.mu.Lock()
	defer n.chain.mu.Unlock()
	uri, ok := n.chain.tokenURIs[tokenId]
	if !ok {
		return "", revert(model.StageRead, "tokenURI", "ERC721: invalid token ID")
	}
	return uri, nil
}

func (n *NFT) OwnerOf(ctx context.Context, tokenId uint64) (common.Address, error) {
	if err := n.chain.read(ctx, "ownerOf", tokenId); err != nil {
		return common.Address{}, err
	}
	n.chain.mu.Lock()
	defer n.chain.mu.Unlock()
	owner, ok := n.chain.owners[tokenId]
	if !ok {
		return common.Address{}, revert(model.StageRead, "ownerOf", "ERC721: invalid token ID")
	}
	return owner, nil
}

func (n *NFT) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	if err := n.chain.read(ctx, "balanceOf", AnyID); err != nil {
		return 0, err
	}
	n.chain.mu.Lock()
	defer n.chain.mu.Unlock()
	var count uint64
	for _, o := range n.chain.owners {
		if o == owner {
			count++
		}
	}
	return count, nil
}

func (n *NFT) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	if err := n.chain.read(ctx, "isApprovedForAll", AnyID); err != nil {
		return false, err
	}
	n.chain.mu.Lock()
	defer n.chain.mu.Unlock()
	return n.chain.approvals[owner][operator], nil
}

func (n *NFT) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (*model.TxReceipt, error) {
	c := n.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(ctx, model.StageApprove, "setApprovalForAll", AnyID); err != nil {
		return nil, err
	}
	if c.approvals[n.account] == nil {
		c.approvals[n.account] = map[common.Address]bool{}
	}
	c.approvals[n.account][operator] = approved
	return c.mine(), nil
}
