package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
)

// TransferHook runs after a balance move and may veto it.
type TransferHook func(ctx context.Context, from, to common.Address, amount *big.Int) error

// Token is an ERC20-style balance ledger living inside a State.
type Token struct {
	state    *State
	address  common.Address
	symbol   string
	decimals uint8

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int

	strictApprove bool
	returnFalse   bool
	hook          TransferHook
}

// TokenOption 定义 token 的可选行为。
type TokenOption func(*Token)

// WithStrictApprove rejects changing a non-zero allowance to another non-zero
// value, the way USDT does.
func WithStrictApprove() TokenOption {
	return func(t *Token) { t.strictApprove = true }
}

// WithFalseOnFailure makes failed transfers and approvals return false
// instead of an error.
func WithFalseOnFailure() TokenOption {
	return func(t *Token) { t.returnFalse = true }
}

// WithTransferHook installs a hook called after every balance move.
func WithTransferHook(hook TransferHook) TokenOption {
	return func(t *Token) { t.hook = hook }
}

// DeployToken registers a new token at address.
func (s *State) DeployToken(address common.Address, symbol string, decimals uint8, opts ...TokenOption) (*Token, error) {
	if address == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token 地址不能为空")
	}
	t := &Token{
		state:      s,
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[address]; exists {
		return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("token %s 已部署", address.Hex()))
	}
	s.tokens[address] = t
	return t, nil
}

// Address returns the token contract address.
func (t *Token) Address() common.Address { return t.address }

// Symbol returns the ticker.
func (t *Token) Symbol() string { return t.symbol }

// Decimals returns the display precision.
func (t *Token) Decimals() uint8 { return t.decimals }

// TotalSupply returns the minted supply.
func (t *Token) TotalSupply() *big.Int {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

// BalanceOf implements swap.Token.
func (t *Token) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(owner)), nil
}

// Allowance implements swap.Token.
func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	return new(big.Int).Set(t.allowanceLocked(owner, spender)), nil
}

// Mint credits amount to the account and grows the supply.
func (t *Token) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) || amount == nil || amount.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "mint 参数无效")
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	t.setBalanceLocked(to, new(big.Int).Add(t.balanceLocked(to), amount))
	prevSupply := new(big.Int).Set(t.supply)
	t.supply.Add(t.supply, amount)
	t.state.record(func() { t.supply = prevSupply })
	t.state.emit(Event{Kind: EventTransfer, Token: t.address, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Approve implements swap.Token.
func (t *Token) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "授权数量无效")
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.strictApprove && amount.Sign() != 0 && t.allowanceLocked(owner, spender).Sign() != 0 {
		return t.fail(xerrors.New(CodeApprovalRejected, ""))
	}
	t.setAllowanceLocked(owner, spender, amount)
	t.state.emit(Event{Kind: EventApproval, Token: t.address, From: owner, To: spender, Amount: new(big.Int).Set(amount)})
	return true, nil
}

// Transfer implements swap.Token.
func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error) {
	return t.transfer(ctx, from, to, amount, func() error { return nil })
}

// TransferFrom implements swap.Token; spender consumes owner's allowance.
func (t *Token) TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) (bool, error) {
	return t.transfer(ctx, owner, to, amount, func() error {
		allowance := t.allowanceLocked(owner, spender)
		if allowance.Cmp(amount) < 0 {
			return xerrors.New(CodeAllowanceExceeded,
				fmt.Sprintf("%s 对 %s 的授权 %s 小于 %s", owner.Hex(), spender.Hex(), allowance, amount))
		}
		t.setAllowanceLocked(owner, spender, new(big.Int).Sub(allowance, amount))
		return nil
	})
}

// transfer moves amount under the ledger lock, then runs the hook without it
// so hooks can call back into the ledger. A vetoed move is reverted.
func (t *Token) transfer(ctx context.Context, from, to common.Address, amount *big.Int, spend func() error) (bool, error) {
	if to == (common.Address{}) {
		return t.fail(xerrors.New(xerrors.CodeInvalidArgument, "不能转账到零地址"))
	}
	if amount == nil || amount.Sign() < 0 {
		return t.fail(xerrors.New(xerrors.CodeInvalidArgument, "转账数量无效"))
	}
	snapshot := t.state.Snapshot()

	t.state.mu.Lock()
	if err := spend(); err != nil {
		t.state.mu.Unlock()
		t.state.RevertToSnapshot(snapshot)
		return t.fail(err)
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		t.state.mu.Unlock()
		t.state.RevertToSnapshot(snapshot)
		return t.fail(err)
	}
	t.state.mu.Unlock()

	if t.hook != nil {
		if err := t.hook(ctx, from, to, amount); err != nil {
			t.state.RevertToSnapshot(snapshot)
			return t.fail(err)
		}
	}
	return true, nil
}

func (t *Token) moveLocked(from, to common.Address, amount *big.Int) error {
	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return xerrors.New(CodeInsufficientBalance,
			fmt.Sprintf("%s 余额 %s 小于 %s", from.Hex(), balance, amount))
	}
	t.setBalanceLocked(from, new(big.Int).Sub(balance, amount))
	t.setBalanceLocked(to, new(big.Int).Add(t.balanceLocked(to), amount))
	t.state.emit(Event{Kind: EventTransfer, Token: t.address, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (t *Token) balanceLocked(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *Token) setBalanceLocked(owner common.Address, amount *big.Int) {
	prev, existed := t.balances[owner]
	t.balances[owner] = amount
	t.state.record(func() {
		if existed {
			t.balances[owner] = prev
		} else {
			delete(t.balances, owner)
		}
	})
}

func (t *Token) allowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

func (t *Token) setAllowanceLocked(owner, spender common.Address, amount *big.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	prev, existed := m[spender]
	m[spender] = new(big.Int).Set(amount)
	t.state.record(func() {
		if existed {
			m[spender] = prev
		} else {
			delete(m, spender)
		}
	})
}

func (t *Token) fail(err error) (bool, error) {
	if t.returnFalse {
		return false, nil
	}
	return false, err
}
