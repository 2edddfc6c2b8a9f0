package ethereum

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"Swapper-Chain/internal/swap"
)

// RouterV2 prices paths through a UniswapV2-compatible router.
type RouterV2 struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewRouterV2 binds a router for read-only quoting.
func NewRouterV2(address common.Address, caller bind.ContractCaller) *RouterV2 {
	return &RouterV2{
		address:  address,
		contract: bind.NewBoundContract(address, routerV2ABI, caller, nil, nil),
	}
}

// AmountsOut implements swap.Quoter with getAmountsOut.
func (r *RouterV2) AmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	var out []any
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAmountsOut", amountIn, path); err != nil {
		return nil, classifyRevert(err, "getAmountsOut 调用失败")
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

var _ swap.Quoter = (*RouterV2)(nil)
