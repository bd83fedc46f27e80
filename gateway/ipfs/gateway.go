package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	files "github.com/ipfs/boxo/files"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nft-market-onchain/logger"
	"nft-market-onchain/model"
)

const maxMetadataBytes = 1 << 20

// StorageGateway はコンテンツアドレス型ストレージとの連携を担当
type StorageGateway interface {
	// Add はデータをアップロードしてコンテンツパス（CID）を返す
	Add(ctx context.Context, name string, data []byte) (string, error)

	// URL はコンテンツパスを公開ゲートウェイのURLにする
	URL(path string) string

	// FetchMetadata はトークンURIからメタデータJSONを取得する
	FetchMetadata(ctx context.Context, uri string) (*model.Metadata, error)
}

// Config はIPFSゲートウェイの設定
type Config struct {
	ApiUrl          string
	ProjectId       string
	ProjectSecret   string
	GatewayUrl      string
	UploadTimeout   time.Duration
	MetadataTimeout time.Duration
}

// Gateway は StorageGateway のIPFS実装
type Gateway struct {
	sh              *shell.Shell
	gatewayUrl      string
	httpClient      *http.Client
	metadataTimeout time.Duration
}

// NewGateway は新しいIPFSゲートウェイを作成
func NewGateway(c Config) *Gateway {
	uploadTimeout := c.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = 2 * time.Minute
	}
	metadataTimeout := c.MetadataTimeout
	if metadataTimeout <= 0 {
		metadataTimeout = 10 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if c.ProjectId != "" {
		transport = &basicAuthTransport{id: c.ProjectId, secret: c.ProjectSecret, base: transport}
	}
	apiClient := &http.Client{Timeout: uploadTimeout, Transport: transport}

	return &Gateway{
		sh:              shell.NewShellWithClient(c.ApiUrl, apiClient),
		gatewayUrl:      strings.TrimRight(c.GatewayUrl, "/"),
		httpClient:      &http.Client{},
		metadataTimeout: metadataTimeout,
	}
}

// basicAuthTransport はIPFS APIへのリクエストにBasic認証を付ける
type basicAuthTransport struct {
	id, secret string
	base       http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.id, t.secret)
	return t.base.RoundTrip(r)
}

// Add はデータをIPFSに追加してピン留めする
// リクエスト自体に ctx を渡すので、キャンセル時はアップロードも中断される
func (g *Gateway) Add(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := files.NewSliceDirectory([]files.DirEntry{
		files.FileEntry("", files.NewReaderFile(bytes.NewReader(data))),
	})
	body := files.NewMultiFileReader(dir, true, false)

	var out struct {
		Hash string
	}
	err := g.sh.Request("add").
		Option("pin", true).
		Body(body).
		Exec(ctx, &out)
	if err != nil {
		return "", errors.Wrapf(err, "ipfs add %s", name)
	}
	if out.Hash == "" {
		return "", errors.Errorf("ipfs add %s: empty hash in response", name)
	}
	logger.WithContext(ctx).Info("uploaded to ipfs",
		zap.String("name", name),
		zap.String("cid", out.Hash),
		zap.Int("bytes", len(data)))
	return out.Hash, nil
}

func (g *Gateway) URL(path string) string {
	return g.gatewayUrl + "/ipfs/" + strings.TrimPrefix(path, "/")
}

// resolve は ipfs:// 形式のURIを公開ゲートウェイ経由のURLにする
func (g *Gateway) resolve(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		return g.URL(strings.TrimPrefix(rest, "ipfs/"))
	}
	return uri
}

func (g *Gateway) FetchMetadata(ctx context.Context, uri string) (*model.Metadata, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, &model.MetadataFetchError{URI: uri, Err: errors.New("empty token uri")}
	}
	ctx, cancel := context.WithTimeout(ctx, g.metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.resolve(uri), nil)
	if err != nil {
		return nil, &model.MetadataFetchError{URI: uri, Err: err}
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &model.MetadataFetchError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.MetadataFetchError{URI: uri, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes+1))
	if err != nil {
		return nil, &model.MetadataFetchError{URI: uri, Err: err}
	}
	if len(body) > maxMetadataBytes {
		return nil, &model.MetadataFetchError{URI: uri, Err: errors.New("metadata document too large")}
	}
	return decodeMetadata(uri, body)
}

// decodeMetadata は未知のフィールドを無視し、price は文字列でも数値でも受け付ける
func decodeMetadata(uri string, body []byte) (*model.Metadata, error) {
	var raw struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Image       string          `json:"image"`
		Price       json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &model.MetadataFetchError{URI: uri, Err: errors.Wrap(err, "malformed metadata")}
	}
	md := &model.Metadata{Name: raw.Name, Description: raw.Description, Image: raw.Image}
	if len(raw.Price) > 0 && string(raw.Price) != "null" {
		var s string
		if err := json.Unmarshal(raw.Price, &s); err == nil {
			md.Price = s
		} else {
			md.Price = string(raw.Price)
		}
	}
	return md, nil
}
