// Package simulated runs the swap executor against an in-memory ledger so the
// full swap flow can be exercised without a node.
package simulated

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/ledger"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/pkg/logger"
	"Swapper-Chain/pkg/units"
)

const defaultChainID = 1337

// Client implements web3.Client on top of a ledger.State.
type Client struct {
	name     string
	notes    string
	chainID  int64
	state    *ledger.State
	router   *ledger.Router
	executor *swap.Executor
	// blocks counts committed writes; each successful swap or approval is
	// one block.
	blocks atomic.Uint64
}

// NewClient seeds a ledger from the chain definition.
func NewClient(name string, def web3.ChainDefinition, deadline swap.DeadlinePolicy) (*Client, error) {
	genesis, err := GenesisFromDefinition(def)
	if err != nil {
		return nil, err
	}
	state, router, err := ledger.NewFromGenesis(genesis)
	if err != nil {
		return nil, fmt.Errorf("初始化模拟链 %s 失败: %w", name, err)
	}
	base, err := def.ResolveAddress(def.BaseAsset)
	if err != nil {
		return nil, xerrors.Wrap(swap.CodeInvalidConfig, err, "base_asset 无效")
	}
	self, err := def.ResolveAddress(def.Executor)
	if err != nil {
		return nil, xerrors.Wrap(swap.CodeInvalidConfig, err, "executor 无效")
	}
	chainID := def.ChainID
	if chainID <= 0 {
		chainID = defaultChainID
	}
	return NewClientFromLedger(name, chainID, def.Description, state, router, self, base, deadline)
}

// NewClientFromLedger wraps an existing ledger.
func NewClientFromLedger(name string, chainID int64, notes string, state *ledger.State, router *ledger.Router, self, base common.Address, deadline swap.DeadlinePolicy) (*Client, error) {
	cfg, err := swap.NewConfig(router.Address(), base)
	if err != nil {
		return nil, err
	}
	executor, err := swap.NewExecutor(self, cfg, state, router, state,
		swap.WithDeadlinePolicy(deadline),
		swap.WithLogger(logger.Named("swap").With("chain", name)))
	if err != nil {
		return nil, err
	}
	return &Client{
		name:     name,
		notes:    notes,
		chainID:  chainID,
		state:    state,
		router:   router,
		executor: executor,
	}, nil
}

// GenesisFromDefinition converts token unit amounts of a chain definition to
// base units.
func GenesisFromDefinition(def web3.ChainDefinition) (ledger.Genesis, error) {
	router, err := def.ResolveAddress(def.Router)
	if err != nil {
		return ledger.Genesis{}, fmt.Errorf("router: %w", err)
	}
	g := ledger.Genesis{Router: router}
	for _, tok := range def.Tokens {
		g.Tokens = append(g.Tokens, ledger.TokenSpec{
			Address:       common.HexToAddress(tok.Address),
			Symbol:        tok.Symbol,
			Decimals:      tok.Decimals,
			StrictApprove: tok.StrictApprove,
		})
	}
	for _, pool := range def.Pools {
		tokenA, amountA, err := resolveAmount(def, pool.TokenA, pool.AmountA)
		if err != nil {
			return ledger.Genesis{}, err
		}
		tokenB, amountB, err := resolveAmount(def, pool.TokenB, pool.AmountB)
		if err != nil {
			return ledger.Genesis{}, err
		}
		g.Pools = append(g.Pools, ledger.PoolSpec{TokenA: tokenA, TokenB: tokenB, AmountA: amountA, AmountB: amountB})
	}
	for _, bal := range def.Balances {
		account, err := def.ResolveAddress(bal.Account)
		if err != nil {
			return ledger.Genesis{}, fmt.Errorf("balance account: %w", err)
		}
		token, amount, err := resolveAmount(def, bal.Token, bal.Amount)
		if err != nil {
			return ledger.Genesis{}, err
		}
		g.Balances = append(g.Balances, ledger.BalanceSpec{Account: account, Token: token, Amount: amount})
	}
	for _, a := range def.Allowances {
		owner, err := def.ResolveAddress(a.Owner)
		if err != nil {
			return ledger.Genesis{}, fmt.Errorf("allowance owner: %w", err)
		}
		spender, err := def.ResolveAddress(a.Spender)
		if err != nil {
			return ledger.Genesis{}, fmt.Errorf("allowance spender: %w", err)
		}
		token, amount, err := resolveAmount(def, a.Token, a.Amount)
		if err != nil {
			return ledger.Genesis{}, err
		}
		g.Allowances = append(g.Allowances, ledger.AllowanceSpec{Owner: owner, Spender: spender, Token: token, Amount: amount})
	}
	return g, nil
}

func resolveAmount(def web3.ChainDefinition, tokenRef, amount string) (common.Address, *big.Int, error) {
	tok, ok := def.Token(tokenRef)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("未定义的 token %q", tokenRef)
	}
	value, err := units.Parse(amount, tok.Decimals)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("token %s 数量 %q 无效: %w", tok.Symbol, amount, err)
	}
	return common.HexToAddress(tok.Address), value, nil
}

// Name returns the registry name of the chain.
func (c *Client) Name() string { return c.name }

// Executor returns the executor account callers approve.
func (c *Client) Executor() common.Address { return c.executor.Address() }

// Ledger exposes the underlying state, mainly for seeding in tests.
func (c *Client) Ledger() *ledger.State { return c.state }

// Router exposes the simulated router.
func (c *Client) Router() *ledger.Router { return c.router }

// Swap runs the executor inside one ledger transaction.
func (c *Client) Swap(ctx context.Context, caller common.Address, req swap.Request) (web3.SwapReceipt, error) {
	var amounts []*big.Int
	err := c.state.Atomically(func() error {
		var err error
		amounts, err = c.executor.Swap(ctx, caller, req)
		return err
	})
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	c.blocks.Add(1)
	path, err := swap.BuildPath(req.TokenIn, req.TokenOut, c.executor.Config().BaseAsset())
	if err != nil {
		return web3.SwapReceipt{}, err
	}
	return web3.SwapReceipt{Path: path, Amounts: amounts}, nil
}

// Quote prices the swap on committed reserves.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (quote swap.Quote, err error) {
	err = c.state.View(func() error {
		quote, err = c.executor.Quote(ctx, tokenIn, tokenOut, amountIn)
		return err
	})
	return quote, err
}

// TokenInfo returns the deployed token metadata.
func (c *Client) TokenInfo(_ context.Context, token common.Address) (web3.TokenInfo, error) {
	t, err := c.state.Lookup(token)
	if err != nil {
		return web3.TokenInfo{}, err
	}
	return web3.TokenInfo{Address: token, Symbol: t.Symbol(), Decimals: t.Decimals()}, nil
}

// BalanceOf reads a committed ledger balance; it waits for an in-flight
// swap to settle or abort.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (balance *big.Int, err error) {
	t, err := c.state.Lookup(token)
	if err != nil {
		return nil, err
	}
	err = c.state.View(func() error {
		balance, err = t.BalanceOf(ctx, owner)
		return err
	})
	return balance, err
}

// Allowance reads a committed ledger allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (allowance *big.Int, err error) {
	t, err := c.state.Lookup(token)
	if err != nil {
		return nil, err
	}
	err = c.state.View(func() error {
		allowance, err = t.Allowance(ctx, owner, spender)
		return err
	})
	return allowance, err
}

// Approve sets an allowance on behalf of owner. There is no transaction, so
// the returned hash is always zero.
func (c *Client) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (common.Hash, error) {
	t, err := c.state.Lookup(token)
	if err != nil {
		return common.Hash{}, err
	}
	err = c.state.Atomically(func() error {
		ok, err := t.Approve(ctx, owner, spender, amount)
		if err != nil {
			return xerrors.Wrap(swap.CodeApprovalFailed, err, "approve 失败")
		}
		if !ok {
			return xerrors.New(swap.CodeApprovalFailed, "approve 返回 false")
		}
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	c.blocks.Add(1)
	return common.Hash{}, nil
}

// Fund mints tokens to account.
func (c *Client) Fund(token, account common.Address, amount *big.Int) error {
	t, err := c.state.Lookup(token)
	if err != nil {
		return err
	}
	return c.state.Atomically(func() error { return t.Mint(account, amount) })
}

// FetchChainSnapshot reports the configured chain id and the number of
// committed writes as block height.
func (c *Client) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{
		ChainID:     fmt.Sprintf("0x%x", c.chainID),
		BlockNumber: fmt.Sprintf("0x%x", c.blocks.Load()),
		Notes:       c.notes,
	}, nil
}

// Close is a no-op.
func (c *Client) Close() {}

var _ web3.Client = (*Client)(nil)
