package swap

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
)

// BuildPath returns [in, out] when either side is the base asset and
// [in, base, out] otherwise.
func BuildPath(tokenIn, tokenOut, base common.Address) ([]common.Address, error) {
	var zero common.Address
	switch {
	case tokenIn == zero || tokenOut == zero:
		return nil, xerrors.New(CodeInvalidPath, "token 地址不能为空")
	case base == zero:
		return nil, xerrors.New(CodeInvalidConfig, "base asset 地址不能为空")
	case tokenIn == tokenOut:
		return nil, xerrors.New(CodeInvalidPath, "tokenIn 与 tokenOut 不能相同")
	}
	if tokenIn == base || tokenOut == base {
		return []common.Address{tokenIn, tokenOut}, nil
	}
	return []common.Address{tokenIn, base, tokenOut}, nil
}
