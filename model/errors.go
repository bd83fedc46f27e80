package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind は呼び出し側に見せるエラー分類
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindUpload        ErrorKind = "upload"
	KindChainCall     ErrorKind = "chain_call"
	KindMetadataFetch ErrorKind = "metadata_fetch"
	KindSession       ErrorKind = "session"
	KindInternal      ErrorKind = "internal"
)

// ValidationError は入力不備。副作用が起きる前に返される
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UploadError はコンテンツストレージへのアップロード失敗
type UploadError struct {
	Target string // "asset" or "metadata"
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.Target, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Stage はチェーン呼び出しがどの段階で失敗したか
type Stage string

const (
	StageRead     Stage = "read"
	StageMint     Stage = "mint"
	StageApprove  Stage = "approve"
	StageList     Stage = "list"
	StagePurchase Stage = "purchase"
)

// RevertReason は台帳が返したリバート理由の分類
type RevertReason string

const (
	ReasonNone                RevertReason = ""
	ReasonZeroPrice           RevertReason = "zero_price"
	ReasonInsufficientPayment RevertReason = "insufficient_payment"
	ReasonItemSold            RevertReason = "item_sold"
	ReasonItemNotFound        RevertReason = "item_not_found"
	ReasonUnknown             RevertReason = "unknown"
)

// ZeroPriceRevert は価格0の出品に対する正規のリバート文言
const ZeroPriceRevert = "price must be greater than 0"

var revertPhrases = []struct {
	phrase string
	reason RevertReason
}{
	{"price must be greater than", ReasonZeroPrice},
	{"not enough ether", ReasonInsufficientPayment},
	{"item already sold", ReasonItemSold},
	{"item doesn't exist", ReasonItemNotFound},
	{"item does not exist", ReasonItemNotFound},
}

// ClassifyRevert はリバート文言を分類する。未知の文言は ReasonUnknown
func ClassifyRevert(msg string) RevertReason {
	lower := strings.ToLower(msg)
	for _, p := range revertPhrases {
		if strings.Contains(lower, p.phrase) {
			return p.reason
		}
	}
	return ReasonUnknown
}

// ChainCallError はコントラクト呼び出し・トランザクションの失敗
// ミント後の失敗では TokenId にミント済みトークンが入る
type ChainCallError struct {
	Stage   Stage
	Method  string
	Reason  RevertReason
	Message string
	TxHash  string
	TokenId *uint64
	Err     error
}

func (e *ChainCallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed at %s", e.Method, e.Stage)
	if e.Reason != ReasonNone {
		fmt.Fprintf(&b, " (reverted: %s)", e.Reason)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.TokenId != nil {
		fmt.Fprintf(&b, " [token %d minted but not listed]", *e.TokenId)
	}
	return b.String()
}

func (e *ChainCallError) Unwrap() error { return e.Err }

// Reverted は台帳側でリバートされたかどうか
func (e *ChainCallError) Reverted() bool {
	return e.Reason != ReasonNone
}

// MetadataFetchError はメタデータ取得失敗。カタログでは該当エントリにのみ記録される
type MetadataFetchError struct {
	URI        string
	StatusCode int
	Err        error
}

func (e *MetadataFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch metadata %s: status %d", e.URI, e.StatusCode)
	}
	return fmt.Sprintf("fetch metadata %s: %v", e.URI, e.Err)
}

func (e *MetadataFetchError) Unwrap() error { return e.Err }

// SessionError はウォレット未接続・アカウント未承認など
type SessionError struct {
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Message, e.Err)
	}
	return "session: " + e.Message
}

func (e *SessionError) Unwrap() error { return e.Err }

// KindOf はエラーチェーンから分類を取り出す
func KindOf(err error) ErrorKind {
	var (
		ve *ValidationError
		ue *UploadError
		ce *ChainCallError
		me *MetadataFetchError
		se *SessionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ue):
		return KindUpload
	case errors.As(err, &me):
		// tokenURI の読み取り失敗も MetadataFetchError で包まれる
		return KindMetadataFetch
	case errors.As(err, &ce):
		return KindChainCall
	case errors.As(err, &se):
		return KindSession
	default:
		return KindInternal
	}
}
