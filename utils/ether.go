package utils

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	etherDecimals = 18
	// 指数の上限。これを超える表記は big.Int 化の前に弾く
	maxExponent = 1000
)

// ParseEther は "1.5" のような ETH 表記を wei に変換する
// 小数点以下が18桁を超える値、極端な指数表記はエラー
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", s)
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return nil, errors.Errorf("amount %q is out of range", s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, errors.Errorf("amount %q has more than %d decimals", s, etherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther は wei を ETH 表記の文字列にする
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}
