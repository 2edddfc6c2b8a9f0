package ethereum

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/swap"
)

// SwapperContract binds a deployed swap adapter. The contract performs the
// pull, approval and router call in one transaction, so the EVM provides
// the all-or-nothing guarantee.
type SwapperContract struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewSwapperContract binds the adapter at address.
func NewSwapperContract(address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor) *SwapperContract {
	return &SwapperContract{
		address:  address,
		contract: bind.NewBoundContract(address, swapperABI, caller, transactor, nil),
	}
}

// Address returns the adapter contract, which is the spender callers approve.
func (s *SwapperContract) Address() common.Address { return s.address }

// Router reads the router the adapter was deployed with.
func (s *SwapperContract) Router(ctx context.Context) (common.Address, error) {
	return s.callAddress(ctx, "router")
}

// BaseAsset reads the adapter's intermediate hop token.
func (s *SwapperContract) BaseAsset(ctx context.Context) (common.Address, error) {
	return s.callAddress(ctx, "WETH")
}

// Simulate executes swap as an eth_call from the caller and returns the hop
// amounts without changing chain state.
func (s *SwapperContract) Simulate(ctx context.Context, from common.Address, req swap.Request) ([]*big.Int, error) {
	var out []any
	err := s.contract.Call(&bind.CallOpts{Context: ctx, From: from}, &out, "swap",
		req.TokenIn, req.TokenOut, req.AmountIn, req.MinOut(), req.Recipient)
	if err != nil {
		return nil, classifyRevert(err, "swap 预执行失败")
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

// Transact submits the swap transaction signed by opts.
func (s *SwapperContract) Transact(opts *bind.TransactOpts, req swap.Request) (*coretypes.Transaction, error) {
	tx, err := s.contract.Transact(opts, "swap", req.TokenIn, req.TokenOut, req.AmountIn, req.MinOut(), req.Recipient)
	if err != nil {
		return nil, classifyRevert(err, "发送 swap 交易失败")
	}
	return tx, nil
}

func (s *SwapperContract) callAddress(ctx context.Context, method string) (common.Address, error) {
	var out []any
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeChainFailure, err, fmt.Sprintf("读取 swapper.%s 失败", method))
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// revertPatterns maps well-known revert strings of V2 routers and ERC20
// tokens to swap error codes. Order matters: the first match wins.
var revertPatterns = []struct {
	fragment string
	code     xerrors.Code
}{
	{"INSUFFICIENT_OUTPUT_AMOUNT", swap.CodeSlippageExceeded},
	{"INSUFFICIENT_LIQUIDITY", swap.CodeLiquidityInsufficient},
	{"INSUFFICIENT_INPUT_AMOUNT", swap.CodeLiquidityInsufficient},
	{"EXPIRED", swap.CodeDeadlineExpired},
	{"ALLOWANCE", swap.CodeInsufficientAllowance},
	{"APPROVE", swap.CodeApprovalFailed},
	{"TRANSFER", swap.CodeTransferFailed},
	{"IDENTICAL_ADDRESSES", swap.CodeInvalidPath},
	{"ZERO_ADDRESS", swap.CodeInvalidPath},
}

// classifyRevert decodes a revert reason, when present, and assigns the
// matching swap code. Anything unrecognised is a retryable chain failure.
func classifyRevert(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, coded := xerrors.From(err); coded {
		return err
	}
	reason := err.Error()
	var dataErr gethrpc.DataError
	if stdErrors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if decoded, unpackErr := abi.UnpackRevert(common.FromHex(raw)); unpackErr == nil {
				reason = decoded
			}
		}
	}
	upper := strings.ToUpper(reason)
	for _, p := range revertPatterns {
		if strings.Contains(upper, p.fragment) {
			return xerrors.Wrap(p.code, err, fmt.Sprintf("%s: %s", message, reason))
		}
	}
	return xerrors.Wrap(xerrors.CodeChainFailure, err, message)
}
