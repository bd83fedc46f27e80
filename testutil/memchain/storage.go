package memchain

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"nft-market-onchain/gateway/ipfs"
	"nft-market-onchain/model"
)

var _ ipfs.StorageGateway = (*Storage)(nil)

const storageGateway = "https://ipfs.test"

// Storage は ipfs.StorageGateway のインメモリ実装
type Storage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	addFails map[string]error
	uploads  []string
	fetchErr map[string]error
}

// NewStorage は空のストレージを作成
func NewStorage() *Storage {
	return &Storage{
		objects:  map[string][]byte{},
		addFails: map[string]error{},
		fetchErr: map[string]error{},
	}
}

// FailAdd は name のアップロードを失敗させる
func (s *Storage) FailAdd(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addFails[name] = err
}

// FailFetch は uri のメタデータ取得を失敗させる
func (s *Storage) FailFetch(uri string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr[uri] = err
}

// Put は任意のJSONを直接置いてそのURLを返す
func (s *Storage) Put(data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cid := cidOf(data)
	s.objects[cid] = data
	return s.URL(cid)
}

// Uploads はアップロードされた name の記録
func (s *Storage) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

// Object はパスに対応する保存データ
func (s *Storage) Object(uri string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[strings.TrimPrefix(uri, storageGateway+"/ipfs/")]
	return b, ok
}

func cidOf(data []byte) string {
	return "Qm" + crypto.Keccak256Hash(data).Hex()[2:46]
}

func (s *Storage) Add(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, name)
	if err, ok := s.addFails[name]; ok {
		return "", errors.Wrapf(err, "ipfs add %s", name)
	}
	cid := cidOf(data)
	s.objects[cid] = append([]byte(nil), data...)
	return cid, nil
}

func (s *Storage) URL(path string) string {
	return storageGateway + "/ipfs/" + path
}

func (s *Storage) FetchMetadata(ctx context.Context, uri string) (*model.Metadata, error) {
	s.mu.Lock()
	fetchErr, failing := s.fetchErr[uri]
	data, ok := s.objects[strings.TrimPrefix(uri, storageGateway+"/ipfs/")]
	s.mu.Unlock()

	if failing {
		return nil, &model.MetadataFetchError{URI: uri, Err: fetchErr}
	}
	if !ok {
		return nil, &model.MetadataFetchError{URI: uri, StatusCode: 404}
	}
	var md model.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, &model.MetadataFetchError{URI: uri, Err: errors.Wrap(err, "malformed metadata")}
	}
	return &md, nil
}
