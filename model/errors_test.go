package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRevert(t *testing.T) {
	tests := []struct {
		msg  string
		want RevertReason
	}{
		{"execution reverted: price must be greater than 0", ReasonZeroPrice},
		{"execution reverted: Price must be greater than zero", ReasonZeroPrice},
		{"execution reverted: not enough ether to cover item price and market fee", ReasonInsufficientPayment},
		{"execution reverted: item already sold", ReasonItemSold},
		{"execution reverted: item doesn't exist", ReasonItemNotFound},
		{"execution reverted", ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRevert(tt.msg))
		})
	}
}

func TestKindOf(t *testing.T) {
	tokenID := uint64(7)
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{Field: "price", Message: "must be greater than 0"}, KindValidation},
		{"wrapped upload", errors.Wrap(&UploadError{Target: "asset", Err: errors.New("boom")}, "submit"), KindUpload},
		{"chain", &ChainCallError{Stage: StageList, Method: "makeItem", TokenId: &tokenID}, KindChainCall},
		{"metadata", &MetadataFetchError{URI: "x", StatusCode: 404}, KindMetadataFetch},
		{"session", &SessionError{Message: "no accounts"}, KindSession},
		{"plain", errors.New("other"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestChainCallErrorMessage(t *testing.T) {
	tokenID := uint64(3)
	err := &ChainCallError{
		Stage:   StageApprove,
		Method:  "setApprovalForAll",
		Reason:  ReasonUnknown,
		Message: "execution reverted",
		TokenId: &tokenID,
	}
	assert.True(t, err.Reverted())
	assert.Contains(t, err.Error(), "setApprovalForAll failed at approve")
	assert.Contains(t, err.Error(), "token 3 minted but not listed")

	transport := &ChainCallError{Stage: StageRead, Method: "itemCount", Err: errors.New("dial tcp: refused")}
	assert.False(t, transport.Reverted())
	assert.ErrorContains(t, transport, "dial tcp")
}
