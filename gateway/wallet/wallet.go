package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"nft-market-onchain/model"
)

// Provider は署名アカウントを提供するウォレット
type Provider interface {
	// RequestAccounts は利用可能なアカウントを返す。空の場合は接続拒否とみなす
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Transactor は account で署名する TransactOpts を作成する
	Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeyProvider は16進の秘密鍵1つを持つウォレット
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyProvider は秘密鍵からウォレットを作成
func NewKeyProvider(hexKey string) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, &model.SessionError{Message: "invalid private key", Err: err}
	}
	return &KeyProvider{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	if account != p.address {
		return nil, &model.SessionError{Message: "account " + account.Hex() + " is not managed by this wallet"}
	}
	opts, err := bind.NewKeyedTransactorWithChainID(p.key, chainID)
	if err != nil {
		return nil, &model.SessionError{Message: "create transactor", Err: err}
	}
	return opts, nil
}

// KeystoreProvider は暗号化キーストアディレクトリのウォレット
type KeystoreProvider struct {
	ks         *keystore.KeyStore
	passphrase string
}

// NewKeystoreProvider はキーストアディレクトリを開く
func NewKeystoreProvider(dir, passphrase string) *KeystoreProvider {
	return &KeystoreProvider{
		ks:         keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP),
		passphrase: passphrase,
	}
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	accs := p.ks.Accounts()
	out := make([]common.Address, 0, len(accs))
	for _, a := range accs {
		out = append(out, a.Address)
	}
	return out, nil
}

func (p *KeystoreProvider) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	acct := accounts.Account{Address: account}
	if !p.ks.HasAddress(account) {
		return nil, &model.SessionError{Message: "account " + account.Hex() + " not found in keystore"}
	}
	if err := p.ks.Unlock(acct, p.passphrase); err != nil {
		return nil, &model.SessionError{Message: "unlock account", Err: errors.Wrap(err, account.Hex())}
	}
	opts, err := bind.NewKeyStoreTransactorWithChainID(p.ks, acct, chainID)
	if err != nil {
		return nil, &model.SessionError{Message: "create transactor", Err: err}
	}
	return opts, nil
}
