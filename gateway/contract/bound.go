package contract

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nft-market-onchain/logger"
	"nft-market-onchain/model"
)

// Backend はゲートウェイが使うチェーンクライアント
// *ethclient.Client がそのまま満たす
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// boundContract は読み取り呼び出しとトランザクション送信の共通処理
type boundContract struct {
	backend  Backend
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	auth     *bind.TransactOpts
}

func newBoundContract(backend Backend, address common.Address, abiJSON string, auth *bind.TransactOpts) (*boundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parse abi")
	}
	if address == (common.Address{}) {
		logger.L().Warn("contract address appears to be zero address")
	}
	return &boundContract{
		backend:  backend,
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		auth:     auth,
	}, nil
}

// call は view 関数を呼び出す。失敗は StageRead の ChainCallError になる
func (b *boundContract) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, chainCallError(model.StageRead, method, "", err)
	}
	if len(out) == 0 {
		return nil, &model.ChainCallError{Stage: model.StageRead, Method: method, Err: errors.New("empty result")}
	}
	return out, nil
}

// transact はトランザクションを送信し、採掘されるまで待つ
// レシートのステータスが失敗の場合はリバートとして扱う
func (b *boundContract) transact(ctx context.Context, stage model.Stage, value *big.Int, method string, params ...interface{}) (*types.Receipt, error) {
	if b.auth == nil {
		return nil, &model.SessionError{Message: "no signer bound to this session"}
	}
	opts := *b.auth
	opts.Context = ctx
	opts.Value = value

	tx, err := b.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, chainCallError(stage, method, "", err)
	}
	logger.WithContext(ctx).Info("transaction submitted",
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, b.backend, tx)
	if err != nil {
		return nil, &model.ChainCallError{
			Stage:  stage,
			Method: method,
			TxHash: tx.Hash().Hex(),
			Err:    errors.Wrap(err, "wait mined"),
		}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, &model.ChainCallError{
			Stage:   stage,
			Method:  method,
			Reason:  model.ReasonUnknown,
			Message: "transaction reverted",
			TxHash:  tx.Hash().Hex(),
		}
	}
	logger.WithContext(ctx).Info("transaction mined",
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed))
	return receipt, nil
}

func toReceipt(r *types.Receipt) *model.TxReceipt {
	if r == nil {
		return nil
	}
	out := &model.TxReceipt{TxHash: r.TxHash.Hex(), GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

// chainCallError はRPCエラーをリバート理由付きの ChainCallError に変換する
func chainCallError(stage model.Stage, method, txHash string, err error) error {
	if ce := new(model.ChainCallError); errors.As(err, &ce) {
		return ce
	}
	ce := &model.ChainCallError{Stage: stage, Method: method, TxHash: txHash, Err: err}
	if msg, ok := RevertMessage(err); ok {
		ce.Message = msg
		ce.Reason = model.ClassifyRevert(msg)
	}
	return ce
}

// RevertMessage はエラーからリバート文言を取り出す
// ノードがリバートデータを返した場合はそれをデコードする
func RevertMessage(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if hexData, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(hexData); derr == nil {
				if msg, uerr := abi.UnpackRevert(data); uerr == nil {
					return msg, true
				}
			}
		}
	}
	msg := err.Error()
	const marker = "execution reverted"
	if i := strings.Index(msg, marker); i >= 0 {
		rest := strings.TrimSpace(strings.TrimPrefix(msg[i+len(marker):], ":"))
		if rest == "" {
			return marker, true
		}
		return rest, true
	}
	if strings.Contains(strings.ToLower(msg), "revert") {
		return msg, true
	}
	return "", false
}

func toBig(v interface{}) *big.Int {
	return *abi.ConvertType(v, new(*big.Int)).(**big.Int)
}

func toAddress(v interface{}) common.Address {
	return *abi.ConvertType(v, new(common.Address)).(*common.Address)
}

func toBool(v interface{}) bool {
	return *abi.ConvertType(v, new(bool)).(*bool)
}

func toString(v interface{}) string {
	return *abi.ConvertType(v, new(string)).(*string)
}
