package memchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"nft-market-onchain/gateway/contract"
	"nft-market-onchain/model"
)

var _ contract.MarketplaceGateway = (*Marketplace)(nil)

// Marketplace は contract.MarketplaceGateway のインメモリ実装
type Marketplace struct {
	chain   *Chain
	account common.Address
}

func (m *Marketplace) Address() common.Address { return m.chain.MarketAddr }

func (m *Marketplace) ItemCount(ctx context.Context) (uint64, error) {
	if err := m.chain.read(ctx, "itemCount", AnyID); err != nil {
		return 0, err
	}
	m.chain.mu.Lock()
	defer m.chain.mu.Unlock()
	return uint64(len(m.chain.items)), nil
}

func (m *Marketplace) Item(ctx context.Context, itemId uint64) (*model.Item, error) {
	if err := m.chain.read(ctx, "items", itemId); err != nil {
		return nil, err
	}
	m.chain.mu.Lock()
	defer m.chain.mu.Unlock()
	if itemId == 0 || itemId > uint64(len(m.chain.items)) {
		// 存在しない出品はゼロ値の構造体を返す
		return &model.Item{Price: new(big.Int)}, nil
	}
	it := m.chain.items[itemId-1]
	it.Price = new(big.Int).Set(it.Price)
	return &it, nil
}

// totalPrice はロック中に呼ぶ
func (m *Marketplace) totalPrice(itemId uint64) *big.Int {
	if itemId == 0 || itemId > uint64(len(m.chain.items)) {
		return new(big.Int)
	}
	price := m.chain.items[itemId-1].Price
	total := new(big.Int).Mul(price, big.NewInt(100+m.chain.FeePct))
	return total.Div(total, big.NewInt(100))
}

func (m *Marketplace) TotalPrice(ctx context.Context, itemId uint64) (*big.Int, error) {
	if err := m.chain.read(ctx, "getTotalPrice", itemId); err != nil {
		return nil, err
	}
	m.chain.mu.Lock()
	defer m.chain.mu.Unlock()
	return m.totalPrice(itemId), nil
}

func (m *Marketplace) FeePercent(ctx context.Context) (*big.Int, error) {
	if err := m.chain.read(ctx, "feePercent", AnyID); err != nil {
		return nil, err
	}
	return big.NewInt(m.chain.FeePct), nil
}

func (m *Marketplace) FeeAccount(ctx context.Context) (common.Address, error) {
	if err := m.chain.read(ctx, "feeAccount", AnyID); err != nil {
		return common.Address{}, err
	}
	return m.chain.FeeAccount, nil
}

func (m *Marketplace) MakeItem(ctx context.Context, nft common.Address, tokenId uint64, price *big.Int) (*model.TxReceipt, *model.ContractEvent, error) {
	c := m.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(ctx, model.StageList, "makeItem", tokenId); err != nil {
		return nil, nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, nil, revert(model.StageList, "makeItem", model.ZeroPriceRevert)
	}
	if nft != c.NFTAddr {
		return nil, nil, revert(model.StageList, "makeItem", "unknown token contract")
	}
	owner, ok := c.owners[tokenId]
	if !ok {
		return nil, nil, revert(model.StageList, "makeItem", "ERC721: invalid token ID")
	}
	if owner != m.account || !c.approvals[m.account][c.MarketAddr] {
		return nil, nil, revert(model.StageList, "makeItem", "ERC721: caller is not token owner or approved")
	}

	c.owners[tokenId] = c.MarketAddr
	itemId := uint64(len(c.items)) + 1
	c.items = append(c.items, model.Item{
		ItemId:  itemId,
		NFT:     nft,
		TokenId: tokenId,
		Price:   new(big.Int).Set(price),
		Seller:  m.account,
	})
	receipt := c.mine()
	event := &model.ContractEvent{
		Type:    model.EventOffered,
		TxHash:  receipt.TxHash,
		BlockNo: receipt.BlockNumber,
		ItemId:  itemId,
		NFT:     nft,
		TokenId: tokenId,
		Price:   new(big.Int).Set(price),
		Seller:  m.account,
	}
	c.emit(event)
	return receipt, event, nil
}

func (m *Marketplace) PurchaseItem(ctx context.Context, itemId uint64, value *big.Int) (*model.TxReceipt, *model.ContractEvent, error) {
	c := m.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(ctx, model.StagePurchase, "purchaseItem", itemId); err != nil {
		return nil, nil, err
	}
	if value == nil {
		value = new(big.Int)
	}
	if c.balance(m.account).Cmp(value) < 0 {
		return nil, nil, &model.ChainCallError{Stage: model.StagePurchase, Method: "purchaseItem", Err: errors.New("insufficient funds for gas * price + value")}
	}
	total := m.totalPrice(itemId)
	if itemId == 0 || itemId > uint64(len(c.items)) {
		return nil, nil, revert(model.StagePurchase, "purchaseItem", "item doesn't exist")
	}
	if value.Cmp(total) < 0 {
		return nil, nil, revert(model.StagePurchase, "purchaseItem", "not enough ether to cover item price and market fee")
	}
	item := &c.items[itemId-1]
	if item.Sold {
		return nil, nil, revert(model.StagePurchase, "purchaseItem", "item already sold")
	}

	c.balance(m.account).Sub(c.balance(m.account), value)
	c.balance(item.Seller).Add(c.balance(item.Seller), item.Price)
	fee := new(big.Int).Sub(total, item.Price)
	c.balance(c.FeeAccount).Add(c.balance(c.FeeAccount), fee)
	item.Sold = true
	c.owners[item.TokenId] = m.account

	receipt := c.mine()
	event := &model.ContractEvent{
		Type:    model.EventBought,
		TxHash:  receipt.TxHash,
		BlockNo: receipt.BlockNumber,
		ItemId:  itemId,
		NFT:     item.NFT,
		TokenId: item.TokenId,
		Price:   new(big.Int).Set(item.Price),
		Seller:  item.Seller,
		Buyer:   m.account,
	}
	c.emit(event)
	return receipt, event, nil
}

func (m *Marketplace) FilterBought(ctx context.Context, buyer common.Address, r model.BlockRange) ([]*model.ContractEvent, error) {
	return m.filter(ctx, "Bought", r, func(e *model.ContractEvent) bool {
		return e.Type == model.EventBought && e.Buyer == buyer
	})
}

func (m *Marketplace) FilterOffered(ctx context.Context, seller common.Address, r model.BlockRange) ([]*model.ContractEvent, error) {
	return m.filter(ctx, "Offered", r, func(e *model.ContractEvent) bool {
		return e.Type == model.EventOffered && e.Seller == seller
	})
}

func (m *Marketplace) filter(ctx context.Context, name string, r model.BlockRange, match func(*model.ContractEvent) bool) ([]*model.ContractEvent, error) {
	if err := m.chain.read(ctx, "eth_getLogs", AnyID); err != nil {
		return nil, err
	}
	m.chain.mu.Lock()
	defer m.chain.mu.Unlock()
	out := []*model.ContractEvent{}
	for _, e := range m.chain.events {
		if e.BlockNo < r.From || (r.To != nil && e.BlockNo > *r.To) {
			continue
		}
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Marketplace) SubscribeEvents(ctx context.Context) (<-chan *model.ContractEvent, error) {
	c := m.chain
	ch := make(chan *model.ContractEvent, 100)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()

	out := make(chan *model.ContractEvent, 100)
	go func() {
		defer close(out)
		defer func() {
			c.mu.Lock()
			for i, s := range c.subs {
				if s == ch {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					break
				}
			}
			c.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *Marketplace) VerifyTransaction(ctx context.Context, txHash string) (*model.TxVerification, error) {
	m.chain.mu.Lock()
	defer m.chain.mu.Unlock()
	if !m.chain.txs[txHash] {
		return nil, &model.ChainCallError{Stage: model.StageRead, Method: "eth_getTransactionByHash", Err: errors.New("transaction not found")}
	}
	return &model.TxVerification{TxHash: txHash, Status: "success", Success: true, IsContractCall: true}, nil
}
