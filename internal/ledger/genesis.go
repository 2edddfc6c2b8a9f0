package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
)

// TokenSpec deploys one token.
type TokenSpec struct {
	Address        common.Address
	Symbol         string
	Decimals       uint8
	StrictApprove  bool
	FalseOnFailure bool
	Hook           TransferHook
}

// PoolSpec seeds a pair with reserves in base units.
type PoolSpec struct {
	TokenA  common.Address
	TokenB  common.Address
	AmountA *big.Int
	AmountB *big.Int
}

// BalanceSpec mints a starting balance.
type BalanceSpec struct {
	Account common.Address
	Token   common.Address
	Amount  *big.Int
}

// AllowanceSpec presets an allowance.
type AllowanceSpec struct {
	Owner   common.Address
	Spender common.Address
	Token   common.Address
	Amount  *big.Int
}

// Genesis is the initial content of a simulated chain.
type Genesis struct {
	Router     common.Address
	Tokens     []TokenSpec
	Pools      []PoolSpec
	Balances   []BalanceSpec
	Allowances []AllowanceSpec
}

// NewFromGenesis builds a ledger and its router. The returned state has an
// empty journal.
func NewFromGenesis(g Genesis, opts ...RouterOption) (*State, *Router, error) {
	if g.Router == (common.Address{}) {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "router 地址不能为空")
	}
	state := NewState()
	router := NewRouter(state, g.Router, opts...)

	for _, spec := range g.Tokens {
		var tokenOpts []TokenOption
		if spec.StrictApprove {
			tokenOpts = append(tokenOpts, WithStrictApprove())
		}
		if spec.FalseOnFailure {
			tokenOpts = append(tokenOpts, WithFalseOnFailure())
		}
		if spec.Hook != nil {
			tokenOpts = append(tokenOpts, WithTransferHook(spec.Hook))
		}
		if _, err := state.DeployToken(spec.Address, spec.Symbol, spec.Decimals, tokenOpts...); err != nil {
			return nil, nil, err
		}
	}
	for _, pool := range g.Pools {
		if _, err := router.AddLiquidity(pool.TokenA, pool.TokenB, pool.AmountA, pool.AmountB); err != nil {
			return nil, nil, fmt.Errorf("初始化流动性 %s/%s 失败: %w", pool.TokenA.Hex(), pool.TokenB.Hex(), err)
		}
	}
	for _, bal := range g.Balances {
		token, err := state.Lookup(bal.Token)
		if err != nil {
			return nil, nil, err
		}
		if err := token.Mint(bal.Account, bal.Amount); err != nil {
			return nil, nil, err
		}
	}
	for _, a := range g.Allowances {
		token, err := state.Lookup(a.Token)
		if err != nil {
			return nil, nil, err
		}
		state.mu.Lock()
		token.setAllowanceLocked(a.Owner, a.Spender, a.Amount)
		state.mu.Unlock()
	}

	state.Finalise()
	return state, router, nil
}
