package ledger

import (
	"context"
	stdErrors "errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Swapper-Chain/internal/swap"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	router = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func newTestLedger(t *testing.T, opts ...RouterOption) (*State, *Router) {
	t.Helper()
	state, r, err := NewFromGenesis(Genesis{
		Router: router,
		Tokens: []TokenSpec{
			{Address: tokenA, Symbol: "AAA", Decimals: 6},
			{Address: tokenB, Symbol: "BBB", Decimals: 18},
			{Address: tokenC, Symbol: "CCC", Decimals: 18, StrictApprove: true},
		},
		Pools: []PoolSpec{
			{TokenA: tokenA, TokenB: tokenB, AmountA: big.NewInt(1_000_000), AmountB: big.NewInt(1_000_000)},
			{TokenA: tokenB, TokenB: tokenC, AmountA: big.NewInt(1_000_000), AmountB: big.NewInt(2_000_000)},
		},
		Balances: []BalanceSpec{{Account: alice, Token: tokenA, Amount: big.NewInt(10_000)}},
	}, opts...)
	if err != nil {
		t.Fatalf("NewFromGenesis returned error: %v", err)
	}
	return state, r
}

func balance(t *testing.T, state *State, token, owner common.Address) *big.Int {
	t.Helper()
	tok, err := state.Lookup(token)
	if err != nil {
		t.Fatalf("lookup token: %v", err)
	}
	b, _ := tok.BalanceOf(context.Background(), owner)
	return b
}

func TestSnapshotRevertRestoresBalancesAndEvents(t *testing.T) {
	state, _ := newTestLedger(t)
	tok, _ := state.Lookup(tokenA)
	eventsBefore := len(state.Events())

	id := state.Snapshot()
	if ok, err := tok.Transfer(context.Background(), alice, bob, big.NewInt(400)); !ok || err != nil {
		t.Fatalf("transfer failed: ok=%v err=%v", ok, err)
	}
	if _, err := tok.Approve(context.Background(), alice, bob, big.NewInt(7)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	state.RevertToSnapshot(id)

	if got := balance(t, state, tokenA, alice); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("alice balance not restored: %s", got)
	}
	if got := balance(t, state, tokenA, bob); got.Sign() != 0 {
		t.Fatalf("bob balance not restored: %s", got)
	}
	if a, _ := tok.Allowance(context.Background(), alice, bob); a.Sign() != 0 {
		t.Fatalf("allowance not restored: %s", a)
	}
	if len(state.Events()) != eventsBefore {
		t.Fatalf("reverted events survived: %d != %d", len(state.Events()), eventsBefore)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	state, _ := newTestLedger(t)
	tok, _ := state.Lookup(tokenA)
	ctx := context.Background()

	if _, err := tok.TransferFrom(ctx, bob, alice, bob, big.NewInt(1)); err == nil {
		t.Fatalf("expected transferFrom without allowance to fail")
	}
	if _, err := tok.Approve(ctx, alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ok, err := tok.TransferFrom(ctx, bob, alice, bob, big.NewInt(60)); !ok || err != nil {
		t.Fatalf("transferFrom failed: ok=%v err=%v", ok, err)
	}
	if a, _ := tok.Allowance(ctx, alice, bob); a.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected remaining allowance 40, got %s", a)
	}
}

func TestStrictApproveRejectsNonZeroToNonZero(t *testing.T) {
	state, _ := newTestLedger(t)
	tok, _ := state.Lookup(tokenC)
	ctx := context.Background()

	if _, err := tok.Approve(ctx, alice, bob, big.NewInt(5)); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := tok.Approve(ctx, alice, bob, big.NewInt(6)); err == nil {
		t.Fatalf("expected non-zero to non-zero approve to fail")
	}
	if _, err := tok.Approve(ctx, alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("reset approve: %v", err)
	}
	if _, err := tok.Approve(ctx, alice, bob, big.NewInt(6)); err != nil {
		t.Fatalf("approve after reset: %v", err)
	}
}

func TestFalseOnFailureToken(t *testing.T) {
	state := NewState()
	tok, err := state.DeployToken(tokenA, "AAA", 6, WithFalseOnFailure())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	ok, err := tok.Transfer(context.Background(), alice, bob, big.NewInt(1))
	if ok || err != nil {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestTransferHookVetoReverts(t *testing.T) {
	state := NewState()
	veto := stdErrors.New("blocked")
	tok, _ := state.DeployToken(tokenA, "AAA", 6, WithTransferHook(func(_ context.Context, _, to common.Address, _ *big.Int) error {
		if to == bob {
			return veto
		}
		return nil
	}))
	if err := tok.Mint(alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := tok.Transfer(context.Background(), alice, bob, big.NewInt(3)); !stdErrors.Is(err, veto) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if got := balance(t, state, tokenA, alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("vetoed transfer moved funds: %s", got)
	}
}

func TestAmountsOutConstantProduct(t *testing.T) {
	_, r := newTestLedger(t)
	amounts, err := r.AmountsOut(context.Background(), big.NewInt(1000), []common.Address{tokenA, tokenB})
	if err != nil {
		t.Fatalf("AmountsOut: %v", err)
	}
	// 1000*9970*1e6 / (1e6*10000 + 1000*9970) = 996
	if amounts[1].Cmp(big.NewInt(996)) != 0 {
		t.Fatalf("unexpected output %s", amounts[1])
	}
	if _, err := r.AmountsOut(context.Background(), big.NewInt(1000), []common.Address{tokenA, tokenC}); !stdErrors.Is(err, swap.ErrLiquidityInsufficient) {
		t.Fatalf("expected missing pair to be insufficient liquidity, got %v", err)
	}
}

func TestExactInputSwapMultiHop(t *testing.T) {
	state, r := newTestLedger(t)
	ctx := context.Background()
	tok, _ := state.Lookup(tokenA)
	if _, err := tok.Approve(ctx, alice, router, big.NewInt(1000)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	path := []common.Address{tokenA, tokenB, tokenC}
	amounts, err := r.ExactInputSwap(ctx, alice, path, big.NewInt(1000), big.NewInt(1), bob, time.Time{})
	if err != nil {
		t.Fatalf("ExactInputSwap: %v", err)
	}
	if len(amounts) != 3 {
		t.Fatalf("expected 3 amounts, got %d", len(amounts))
	}
	if got := balance(t, state, tokenC, bob); got.Cmp(amounts[2]) != 0 {
		t.Fatalf("recipient got %s, router reported %s", got, amounts[2])
	}
	if got := balance(t, state, tokenA, alice); got.Cmp(big.NewInt(9000)) != 0 {
		t.Fatalf("sender balance %s", got)
	}
	ra, rb, _ := r.Reserves(tokenA, tokenB)
	if ra.Cmp(big.NewInt(1_001_000)) != 0 || rb.Cmp(new(big.Int).Sub(big.NewInt(1_000_000), amounts[1])) != 0 {
		t.Fatalf("reserves not synced: %s %s", ra, rb)
	}
}

func TestExactInputSwapSlippageAndDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state, r := newTestLedger(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	tok, _ := state.Lookup(tokenA)
	_, _ = tok.Approve(ctx, alice, router, big.NewInt(1000))
	path := []common.Address{tokenA, tokenB}

	if _, err := r.ExactInputSwap(ctx, alice, path, big.NewInt(1000), big.NewInt(997), bob, time.Time{}); !stdErrors.Is(err, swap.ErrSlippageExceeded) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	if _, err := r.ExactInputSwap(ctx, alice, path, big.NewInt(1000), nil, bob, now.Add(-time.Second)); !stdErrors.Is(err, swap.ErrDeadlineExpired) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if got := balance(t, state, tokenA, alice); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("failed swaps moved funds: %s", got)
	}
}

func TestExactInputSwapRevertsOnMissingAllowance(t *testing.T) {
	state, r := newTestLedger(t)
	_, err := r.ExactInputSwap(context.Background(), alice, []common.Address{tokenA, tokenB}, big.NewInt(10), nil, bob, time.Time{})
	if !stdErrors.Is(err, swap.ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	ra, _, _ := r.Reserves(tokenA, tokenB)
	if ra.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("reserves changed: %s", ra)
	}
	if got := balance(t, state, tokenB, bob); got.Sign() != 0 {
		t.Fatalf("recipient credited on failure: %s", got)
	}
}

func TestAtomicallySerialises(t *testing.T) {
	state := NewState()
	calls := 0
	err := state.Atomically(func() error {
		calls++
		return stdErrors.New("stop")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected fn error to propagate once, calls=%d err=%v", calls, err)
	}
}

func TestViewSeesOnlyCommittedState(t *testing.T) {
	state, _ := newTestLedger(t)
	ctx := context.Background()
	tok, err := state.Lookup(tokenA)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	moved := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- state.Atomically(func() error {
			id := state.Snapshot()
			if _, err := tok.Transfer(ctx, alice, bob, big.NewInt(100)); err != nil {
				return err
			}
			close(moved)
			<-release
			state.RevertToSnapshot(id)
			return stdErrors.New("abort")
		})
	}()
	<-moved

	seen := make(chan *big.Int, 1)
	go func() {
		_ = state.View(func() error {
			b, err := tok.BalanceOf(ctx, alice)
			seen <- b
			return err
		})
	}()
	select {
	case b := <-seen:
		t.Fatalf("View ran inside an open transaction and saw %s", b)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-done; err == nil {
		t.Fatalf("expected aborted transaction")
	}
	if b := <-seen; b.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("View saw %s, want committed 10000", b)
	}
}
