// Package units converts between human-readable token amounts and integer
// base units.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse converts a decimal string such as "1000.5" into base units for a
// token with the given decimals. Values with more fractional digits than the
// token supports are rejected.
func Parse(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("数量不能为空")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("解析数量 %q 失败: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("数量 %q 不能为负数", amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("数量 %q 超出 %d 位精度", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// MustParse is Parse for constants and tests.
func MustParse(amount string, decimals uint8) *big.Int {
	v, err := Parse(amount, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders base units as a decimal string without trailing zeros.
func Format(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// FormatFixed renders base units with exactly places fractional digits,
// rounding down.
func FormatFixed(amount *big.Int, decimals uint8, places int32) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).RoundDown(places).StringFixed(places)
}

// ParseBaseUnits parses an integer amount already expressed in base units.
func ParseBaseUnits(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("无效的整数数量 %q", amount)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("数量 %q 不能为负数", amount)
	}
	return v, nil
}
