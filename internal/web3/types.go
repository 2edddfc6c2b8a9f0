package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"Swapper-Chain/internal/swap"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// TokenInfo is the display metadata of a token.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// SwapReceipt is the outcome of a settled swap.
type SwapReceipt struct {
	Path    []common.Address
	Amounts []*big.Int
	// TxHash is empty for chains without transactions.
	TxHash common.Hash
}

// AmountOut returns the delivered output.
func (r SwapReceipt) AmountOut() *big.Int {
	if len(r.Amounts) == 0 {
		return new(big.Int)
	}
	return r.Amounts[len(r.Amounts)-1]
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can swap on different networks uniformly.
type Client interface {
	Name() string
	// Executor is the account callers must approve before swapping.
	Executor() common.Address
	Swap(ctx context.Context, caller common.Address, req swap.Request) (SwapReceipt, error)
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (swap.Quote, error)
	TokenInfo(ctx context.Context, token common.Address) (TokenInfo, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (common.Hash, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
