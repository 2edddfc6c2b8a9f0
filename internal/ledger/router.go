package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/swap"
)

const defaultFeeBps = 30

// Pair is a constant-product pool whose reserves are real token balances
// held at the pair address.
type Pair struct {
	address  common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
}

// Address returns the pool account.
func (p *Pair) Address() common.Address { return p.address }

// Router is a UniswapV2-style router over the pairs it created.
type Router struct {
	state   *State
	address common.Address
	feeBps  int64
	now     func() time.Time
	pairs   map[[2]common.Address]*Pair
}

// RouterOption 定义 router 的可选配置。
type RouterOption func(*Router)

// WithFeeBps overrides the 0.3% swap fee.
func WithFeeBps(bps int64) RouterOption {
	return func(r *Router) {
		if bps >= 0 && bps < 10_000 {
			r.feeBps = bps
		}
	}
}

// WithClock overrides the clock used for deadline checks.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a router at address on the given ledger.
func NewRouter(state *State, address common.Address, opts ...RouterOption) *Router {
	r := &Router{
		state:   state,
		address: address,
		feeBps:  defaultFeeBps,
		now:     time.Now,
		pairs:   make(map[[2]common.Address]*Pair),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Address returns the router account that spends allowances.
func (r *Router) Address() common.Address { return r.address }

// PairFor returns the pool for two tokens in either order.
func (r *Router) PairFor(a, b common.Address) (*Pair, bool) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	p, ok := r.pairs[sortPair(a, b)]
	return p, ok
}

// Reserves returns the pool reserves ordered as (a, b).
func (r *Router) Reserves(a, b common.Address) (*big.Int, *big.Int, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	p, ok := r.pairs[sortPair(a, b)]
	if !ok {
		return nil, nil, xerrors.New(swap.CodeLiquidityInsufficient, fmt.Sprintf("%s/%s 交易对不存在", a.Hex(), b.Hex()))
	}
	ra, rb := p.reservesFor(a)
	return new(big.Int).Set(ra), new(big.Int).Set(rb), nil
}

// AddLiquidity mints both sides into the pool, creating it if needed.
func (r *Router) AddLiquidity(a, b common.Address, amountA, amountB *big.Int) (*Pair, error) {
	if a == b {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易对两侧不能相同")
	}
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "流动性数量必须大于 0")
	}
	tokenA, err := r.state.Lookup(a)
	if err != nil {
		return nil, err
	}
	tokenB, err := r.state.Lookup(b)
	if err != nil {
		return nil, err
	}
	key := sortPair(a, b)

	r.state.mu.Lock()
	pair, ok := r.pairs[key]
	if !ok {
		pair = &Pair{
			address:  pairAddress(key),
			token0:   key[0],
			token1:   key[1],
			reserve0: new(big.Int),
			reserve1: new(big.Int),
		}
		r.pairs[key] = pair
	}
	r.state.mu.Unlock()

	if err := tokenA.Mint(pair.address, amountA); err != nil {
		return nil, err
	}
	if err := tokenB.Mint(pair.address, amountB); err != nil {
		return nil, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	r.syncLocked(pair, tokenA, tokenB)
	return pair, nil
}

// AmountsOut implements swap.Quoter.
func (r *Router) AmountsOut(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.amountsOutLocked(amountIn, path)
}

// ExactInputSwap implements swap.Router. It pulls amountIn from sender into
// the first pool and walks the path, sending the final output to recipient.
func (r *Router) ExactInputSwap(ctx context.Context, sender common.Address, path []common.Address, amountIn, amountOutMin *big.Int, recipient common.Address, deadline time.Time) ([]*big.Int, error) {
	if !deadline.IsZero() && r.now().After(deadline) {
		return nil, xerrors.New(swap.CodeDeadlineExpired, fmt.Sprintf("截止时间 %s 已过", deadline.UTC().Format(time.RFC3339)))
	}
	if amountOutMin == nil {
		amountOutMin = new(big.Int)
	}
	amounts, err := r.AmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}
	if out := amounts[len(amounts)-1]; out.Cmp(amountOutMin) < 0 {
		return nil, xerrors.New(swap.CodeSlippageExceeded, fmt.Sprintf("输出 %s 小于最小值 %s", out, amountOutMin))
	}

	snapshot := r.state.Snapshot()
	amounts, err = r.execute(ctx, sender, path, amounts, recipient)
	if err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	return amounts, nil
}

func (r *Router) execute(ctx context.Context, sender common.Address, path []common.Address, amounts []*big.Int, recipient common.Address) ([]*big.Int, error) {
	first, _ := r.PairFor(path[0], path[1])
	tokenIn, err := r.state.Lookup(path[0])
	if err != nil {
		return nil, err
	}
	ok, err := tokenIn.TransferFrom(ctx, r.address, sender, first.address, amounts[0])
	if err != nil {
		return nil, xerrors.Wrap(swap.CodeTransferFailed, err, "router 拉取输入失败")
	}
	if !ok {
		return nil, xerrors.New(swap.CodeTransferFailed, "router transferFrom 返回 false")
	}

	for i := 0; i < len(path)-1; i++ {
		pair, _ := r.PairFor(path[i], path[i+1])
		to := recipient
		if i < len(path)-2 {
			next, _ := r.PairFor(path[i+1], path[i+2])
			to = next.address
		}
		out, err := r.state.Lookup(path[i+1])
		if err != nil {
			return nil, err
		}
		ok, err := out.Transfer(ctx, pair.address, to, amounts[i+1])
		if err != nil {
			return nil, xerrors.Wrap(swap.CodeTransferFailed, err, "交易对转出失败")
		}
		if !ok {
			return nil, xerrors.New(swap.CodeTransferFailed, "交易对转出返回 false")
		}
		in, err := r.state.Lookup(path[i])
		if err != nil {
			return nil, err
		}
		r.state.mu.Lock()
		r.syncLocked(pair, in, out)
		r.state.mu.Unlock()
	}
	return amounts, nil
}

func (r *Router) amountsOutLocked(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, xerrors.New(swap.CodeInvalidPath, "路径至少包含两个 token")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, xerrors.New(swap.CodeInvalidAmount, "amountIn 必须大于 0")
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		pair, ok := r.pairs[sortPair(path[i], path[i+1])]
		if !ok {
			return nil, xerrors.New(swap.CodeLiquidityInsufficient,
				fmt.Sprintf("%s/%s 交易对不存在", path[i].Hex(), path[i+1].Hex()))
		}
		reserveIn, reserveOut := pair.reservesFor(path[i])
		out, err := r.amountOut(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// amountOut is the constant-product formula net of the swap fee.
func (r *Router) amountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, xerrors.New(swap.CodeLiquidityInsufficient, "交易对储备为空")
	}
	withFee := new(big.Int).Mul(amountIn, big.NewInt(10_000-r.feeBps))
	numerator := new(big.Int).Mul(withFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10_000))
	denominator.Add(denominator, withFee)
	out := numerator.Div(numerator, denominator)
	if out.Sign() <= 0 {
		return nil, xerrors.New(swap.CodeLiquidityInsufficient, "输出数量为 0")
	}
	return out, nil
}

// syncLocked sets the reserves to the pool's actual balances.
func (r *Router) syncLocked(p *Pair, a, b *Token) {
	t0, t1 := a, b
	if a.address != p.token0 {
		t0, t1 = b, a
	}
	prev0, prev1 := p.reserve0, p.reserve1
	p.reserve0 = new(big.Int).Set(t0.balanceLocked(p.address))
	p.reserve1 = new(big.Int).Set(t1.balanceLocked(p.address))
	r.state.record(func() { p.reserve0, p.reserve1 = prev0, prev1 })
	r.state.emit(Event{Kind: EventSync, Token: p.address, Amount: new(big.Int).Set(p.reserve0)})
}

func (p *Pair) reservesFor(tokenIn common.Address) (*big.Int, *big.Int) {
	if tokenIn == p.token0 {
		return p.reserve0, p.reserve1
	}
	return p.reserve1, p.reserve0
}

func sortPair(a, b common.Address) [2]common.Address {
	if a.Cmp(b) < 0 {
		return [2]common.Address{a, b}
	}
	return [2]common.Address{b, a}
}

func pairAddress(key [2]common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(key[0].Bytes(), key[1].Bytes())[12:])
}

var (
	_ swap.Router = (*Router)(nil)
	_ swap.Quoter = (*Router)(nil)
)
