// Package memchain はテスト用のインメモリ台帳・トークン・ストレージ
// マーケットプレイスコントラクトと同じ規則（手数料、リバート文言、所有権移転）で動く
package memchain

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"nft-market-onchain/model"
)

// AnyID は全IDに対する失敗注入を表す
const AnyID = ^uint64(0)

type failKey struct {
	method string
	id     uint64
}

// Chain はマーケットプレイスとトークンの状態を保持する
type Chain struct {
	mu sync.Mutex

	MarketAddr common.Address
	NFTAddr    common.Address
	FeeAccount common.Address
	FeePct     int64
	Name       string
	Symbol     string

	block      uint64
	txCount    uint64
	items      []model.Item
	tokenCount uint64
	tokenURIs  map[uint64]string
	owners     map[uint64]common.Address
	approvals  map[common.Address]map[common.Address]bool
	balances   map[common.Address]*big.Int
	events     []*model.ContractEvent
	txs        map[string]bool
	subs       []chan *model.ContractEvent
	fails      map[failKey]error
	calls      []string

	// OnRead は読み取り呼び出しの直前に呼ばれる（遅延の注入用）
	OnRead func(ctx context.Context, method string, id uint64)
}

// New は手数料率 feePct、手数料受取 feeAccount の台帳を作成
func New(feePct int64, feeAccount common.Address) *Chain {
	return &Chain{
		MarketAddr: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		NFTAddr:    common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		FeeAccount: feeAccount,
		FeePct:     feePct,
		Name:       "Paradise NFT Collection",
		Symbol:     "PNC",
		tokenURIs:  map[uint64]string{},
		owners:     map[uint64]common.Address{},
		approvals:  map[common.Address]map[common.Address]bool{},
		balances:   map[common.Address]*big.Int{},
		txs:        map[string]bool{},
		fails:      map[failKey]error{},
	}
}

// Fail は method の呼び出しを err で失敗させる。id が AnyID なら全ID
func (c *Chain) Fail(method string, id uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fails[failKey{method, id}] = err
}

// Heal は注入した失敗をすべて解除する
func (c *Chain) Heal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fails = map[failKey]error{}
}

// Fund はアカウントに残高を付与する
func (c *Chain) Fund(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance(addr).Add(c.balance(addr), wei)
}

// Balance はアカウント残高
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance(addr))
}

// Calls はこれまでに呼ばれたメソッド名の記録
func (c *Chain) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// ResetCalls は呼び出し記録を消す
func (c *Chain) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// Events はこれまでに発行されたイベント
func (c *Chain) Events() []*model.ContractEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.ContractEvent(nil), c.events...)
}

// Owner はトークンの現在の所有者
func (c *Chain) Owner(tokenId uint64) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[tokenId]
}

// Marketplace は account を署名者とするマーケットプレイスゲートウェイ
func (c *Chain) Marketplace(account common.Address) *Marketplace {
	return &Marketplace{chain: c, account: account}
}

// NFT は account を署名者とするトークンゲートウェイ
func (c *Chain) NFT(account common.Address) *NFT {
	return &NFT{chain: c, account: account}
}

func (c *Chain) balance(addr common.Address) *big.Int {
	b, ok := c.balances[addr]
	if !ok {
		b = new(big.Int)
		c.balances[addr] = b
	}
	return b
}

// read は読み取り呼び出しの共通前処理。ロックは呼び出し側が取る
func (c *Chain) read(ctx context.Context, method string, id uint64) error {
	if c.OnRead != nil {
		c.OnRead(ctx, method, id)
	}
	if err := ctx.Err(); err != nil {
		return &model.ChainCallError{Stage: model.StageRead, Method: method, Err: err}
	}
	c.mu.Lock()
	c.calls = append(c.calls, method)
	err := c.failure(method, id)
	c.mu.Unlock()
	if err != nil {
		return &model.ChainCallError{Stage: model.StageRead, Method: method, Err: err}
	}
	return nil
}

func (c *Chain) failure(method string, id uint64) error {
	if err, ok := c.fails[failKey{method, id}]; ok {
		return err
	}
	if err, ok := c.fails[failKey{method, AnyID}]; ok {
		return err
	}
	return nil
}

func revert(stage model.Stage, method, msg string) error {
	return &model.ChainCallError{
		Stage:   stage,
		Method:  method,
		Reason:  model.ClassifyRevert(msg),
		Message: msg,
	}
}

// mine はブロックを1つ進めてレシートを作る。ロックは呼び出し側が取る
func (c *Chain) mine() *model.TxReceipt {
	c.block++
	c.txCount++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.txCount)
	hash := crypto.Keccak256Hash(buf[:]).Hex()
	c.txs[hash] = true
	return &model.TxReceipt{TxHash: hash, BlockNumber: c.block, GasUsed: 21000}
}

// emit はイベントを記録して購読者に配る。ロックは呼び出し側が取る
func (c *Chain) emit(e *model.ContractEvent) {
	c.events = append(c.events, e)
	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// write は書き込み呼び出しの共通前処理。ロックは呼び出し側が取る
func (c *Chain) write(ctx context.Context, stage model.Stage, method string, id uint64) error {
	if err := ctx.Err(); err != nil {
		return &model.ChainCallError{Stage: stage, Method: method, Err: err}
	}
	c.calls = append(c.calls, method)
	if err := c.failure(method, id); err != nil {
		if msg, ok := revertText(err); ok {
			return revert(stage, method, msg)
		}
		return &model.ChainCallError{Stage: stage, Method: method, Err: err}
	}
	return nil
}

// Revert は失敗注入でリバートを表すエラー
type Revert string

func (r Revert) Error() string { return "execution reverted: " + string(r) }

func revertText(err error) (string, bool) {
	if r, ok := err.(Revert); ok {
		return string(r), true
	}
	return "", false
}
