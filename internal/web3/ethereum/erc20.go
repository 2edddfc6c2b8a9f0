package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// ERC20 is a minimal binding for the token calls the swap flow needs.
type ERC20 struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewERC20 binds a token. transactor may be nil for read-only use.
func NewERC20(address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor) *ERC20 {
	return &ERC20{
		address:  address,
		contract: bind.NewBoundContract(address, erc20ABI, caller, transactor, nil),
	}
}

// Address returns the token contract.
func (t *ERC20) Address() common.Address { return t.address }

// BalanceOf returns the balance of owner.
func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.callBig(ctx, "balanceOf", owner)
}

// Allowance returns how much spender may move on behalf of owner.
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callBig(ctx, "allowance", owner, spender)
}

// Decimals returns the token precision.
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("查询 %s decimals 失败: %w", t.address.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// Symbol returns the token ticker.
func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "symbol"); err != nil {
		return "", fmt.Errorf("查询 %s symbol 失败: %w", t.address.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// Approve sends an approve transaction signed by opts.
func (t *ERC20) Approve(opts *bind.TransactOpts, spender common.Address, amount *big.Int) (*coretypes.Transaction, error) {
	return t.contract.Transact(opts, "approve", spender, amount)
}

func (t *ERC20) callBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("调用 %s.%s 失败: %w", t.address.Hex(), method, err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// transferredTo sums the Transfer logs of token that credit recipient.
func transferredTo(receipt *coretypes.Receipt, token, recipient common.Address) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}
	total := new(big.Int)
	found := false
	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) != 3 || log.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(log.Data))
		found = true
	}
	return total, found
}
