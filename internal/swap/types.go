package swap

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
)

// Request describes a single exact-input swap.
type Request struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Recipient    common.Address
	// Deadline is optional; the zero value defers to the executor policy.
	Deadline time.Time
}

// Validate checks the request invariants that do not depend on chain state.
func (r Request) Validate() error {
	var zero common.Address
	if r.TokenIn == zero || r.TokenOut == zero {
		return xerrors.New(CodeInvalidPath, "token 地址不能为空")
	}
	if r.TokenIn == r.TokenOut {
		return xerrors.New(CodeInvalidPath, "tokenIn 与 tokenOut 不能相同")
	}
	if r.Recipient == zero {
		return xerrors.New(CodeInvalidPath, "recipient 地址不能为空")
	}
	if r.AmountIn == nil || r.AmountIn.Sign() <= 0 {
		return xerrors.New(CodeInvalidAmount, "amountIn 必须大于 0")
	}
	if r.MinAmountOut != nil && r.MinAmountOut.Sign() < 0 {
		return xerrors.New(CodeInvalidAmount, "minAmountOut 不能为负数")
	}
	return nil
}

// MinOut returns MinAmountOut with nil treated as zero.
func (r Request) MinOut() *big.Int {
	if r.MinAmountOut == nil {
		return new(big.Int)
	}
	return r.MinAmountOut
}

// Token is a fungible balance ledger. The first address argument of each
// mutating call is the account performing it (msg.sender).
type Token interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) (bool, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error)
	TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) (bool, error)
}

// TokenResolver looks up the ledger for a token address.
type TokenResolver interface {
	Token(address common.Address) (Token, error)
}

// Router executes multi-hop exact-input swaps. sender is the account whose
// allowance the router spends. Implementations must fail without side
// effects when the final amount would fall below amountOutMin, and a zero
// deadline means none.
type Router interface {
	ExactInputSwap(ctx context.Context, sender common.Address, path []common.Address, amountIn, amountOutMin *big.Int, recipient common.Address, deadline time.Time) ([]*big.Int, error)
}

// Quoter is implemented by routers that can price a path without executing it.
type Quoter interface {
	AmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// Journal provides the all-or-nothing guarantee around a swap. Reverting a
// snapshot undoes every write made since, including writes of other callers,
// so swaps sharing a journal must run one at a time (ledger.State.Atomically).
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// Swapper is the capability shared by the in-process executor and the
// on-chain adapter binding.
type Swapper interface {
	Swap(ctx context.Context, caller common.Address, req Request) ([]*big.Int, error)
}

// Quote is a priced path.
type Quote struct {
	Path    []common.Address
	Amounts []*big.Int
}

// AmountOut returns the final amount of the quoted path.
func (q Quote) AmountOut() *big.Int {
	if len(q.Amounts) == 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(q.Amounts[len(q.Amounts)-1])
}

// MinAmountOut applies a slippage tolerance expressed in basis points to the
// quoted output, rounding down.
func (q Quote) MinAmountOut(slippageBps uint32) *big.Int {
	if slippageBps >= 10_000 {
		return new(big.Int)
	}
	out := q.AmountOut()
	out.Mul(out, big.NewInt(int64(10_000-slippageBps)))
	return out.Div(out, big.NewInt(10_000))
}

// State is the per-call lifecycle of a swap.
type State string

const (
	StateIdle      State = "idle"
	StatePulling   State = "pulling"
	StateApproving State = "approving"
	StateSwapping  State = "swapping"
	StateSettled   State = "settled"
	StateAborted   State = "aborted"
)
