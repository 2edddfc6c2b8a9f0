package simulated

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Swapper-Chain/internal/ledger"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/pkg/units"
)

const chainsYAML = `
chains:
  sandbox:
    type: simulated
    chain_id: 31337
    description: local sandbox
    router: 0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D
    base_asset: WETH
    executor: 0x5E11e45000000000000000000000000000005E11
    tokens:
      - symbol: WETH
        address: 0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2
        decimals: 18
      - symbol: USDT
        address: 0xdAC17F958D2ee523a2206206994597C13D831ec7
        decimals: 6
        strict_approve: true
      - symbol: MATIC
        address: 0x7D1AfA7B718fb893dB30A3aBc0Cfc608AaCfeBB0
        decimals: 18
    pools:
      - token_a: USDT
        token_b: WETH
        amount_a: "1000000"
        amount_b: "1000000"
      - token_a: WETH
        token_b: MATIC
        amount_a: "1000000"
        amount_b: "1000000"
    balances:
      - account: 0x46f8C7f3A6A2bC0aF2e9d52c2bB1a8b5F5aBc001
        token: USDT
        amount: "5000"
`

var (
	holder    = common.HexToAddress("0x46f8C7f3A6A2bC0aF2e9d52c2bB1a8b5F5aBc001")
	recipient = common.HexToAddress("0x46f8C7f3A6A2bC0aF2e9d52c2bB1a8b5F5aBc002")
	usdt      = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	matic     = common.HexToAddress("0x7D1AfA7B718fb893dB30A3aBc0Cfc608AaCfeBB0")
	weth      = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func newSandbox(t *testing.T) *Client {
	t.Helper()
	defs, err := web3.ParseChainDefinitions([]byte(chainsYAML))
	if err != nil {
		t.Fatalf("parse chains: %v", err)
	}
	client, err := NewClient("sandbox", defs.Chains["sandbox"], swap.DeadlinePolicy{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSandboxSwapSettles(t *testing.T) {
	client := newSandbox(t)
	ctx := context.Background()
	amountIn := units.MustParse("1000", 6)

	if _, err := client.Approve(ctx, usdt, holder, client.Executor(), amountIn); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	quote, err := client.Quote(ctx, usdt, matic, amountIn)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	receipt, err := client.Swap(ctx, holder, swap.Request{
		TokenIn:      usdt,
		TokenOut:     matic,
		AmountIn:     amountIn,
		MinAmountOut: quote.MinAmountOut(50),
		Recipient:    recipient,
	})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if len(receipt.Path) != 3 || receipt.Path[1] != weth {
		t.Fatalf("expected path through WETH, got %v", receipt.Path)
	}
	if receipt.AmountOut().Cmp(quote.AmountOut()) != 0 {
		t.Fatalf("delivered %s, quoted %s", receipt.AmountOut(), quote.AmountOut())
	}

	got, _ := client.BalanceOf(ctx, matic, recipient)
	if got.Cmp(receipt.AmountOut()) != 0 {
		t.Fatalf("recipient holds %s, want %s", got, receipt.AmountOut())
	}
	left, _ := client.BalanceOf(ctx, usdt, holder)
	if left.Cmp(units.MustParse("4000", 6)) != 0 {
		t.Fatalf("holder has %s USDT left", units.Format(left, 6))
	}
	for _, token := range []common.Address{usdt, weth, matic} {
		if bal, _ := client.BalanceOf(ctx, token, client.Executor()); bal.Sign() != 0 {
			t.Fatalf("executor kept %s of %s", bal, token.Hex())
		}
	}

	snapshot, _ := client.FetchChainSnapshot(ctx)
	if snapshot.ChainID != "0x7a69" || snapshot.BlockNumber != "0x2" || snapshot.Notes != "local sandbox" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestSandboxSwapWithoutApproval(t *testing.T) {
	client := newSandbox(t)
	ctx := context.Background()

	_, err := client.Swap(ctx, holder, swap.Request{
		TokenIn:   usdt,
		TokenOut:  matic,
		AmountIn:  units.MustParse("10", 6),
		Recipient: recipient,
	})
	if !errors.Is(err, swap.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if bal, _ := client.BalanceOf(ctx, usdt, holder); bal.Cmp(units.MustParse("5000", 6)) != 0 {
		t.Fatalf("failed swap moved funds: %s", bal)
	}
	if snapshot, _ := client.FetchChainSnapshot(ctx); snapshot.BlockNumber != "0x0" {
		t.Fatalf("failed swap should not produce a block, got %s", snapshot.BlockNumber)
	}
}

func TestSandboxStrictApproveRejectsOverwrite(t *testing.T) {
	client := newSandbox(t)
	ctx := context.Background()

	if _, err := client.Approve(ctx, usdt, holder, client.Executor(), big.NewInt(10)); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := client.Approve(ctx, usdt, holder, client.Executor(), big.NewInt(20))
	if !errors.Is(err, swap.ErrApprovalFailed) {
		t.Fatalf("expected approval failure, got %v", err)
	}
	if a, _ := client.Allowance(ctx, usdt, holder, client.Executor()); a.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("allowance changed to %s", a)
	}
}

func TestSandboxTokenInfoAndFund(t *testing.T) {
	client := newSandbox(t)
	ctx := context.Background()

	info, err := client.TokenInfo(ctx, usdt)
	if err != nil || info.Symbol != "USDT" || info.Decimals != 6 {
		t.Fatalf("unexpected token info %+v (%v)", info, err)
	}
	if _, err := client.TokenInfo(ctx, common.HexToAddress("0x01")); err == nil {
		t.Fatalf("unknown token should fail")
	}
	if err := client.Fund(matic, holder, big.NewInt(7)); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if bal, _ := client.BalanceOf(ctx, matic, holder); bal.Int64() != 7 {
		t.Fatalf("funded balance %s", bal)
	}
}

func TestGenesisFromDefinitionRejectsUnknownToken(t *testing.T) {
	defs, err := web3.ParseChainDefinitions([]byte(chainsYAML))
	if err != nil {
		t.Fatalf("parse chains: %v", err)
	}
	def := defs.Chains["sandbox"]
	def.Pools = append(def.Pools, web3.PoolDefinition{TokenA: "DAI", TokenB: "WETH", AmountA: "1", AmountB: "1"})
	if _, err := GenesisFromDefinition(def); err == nil {
		t.Fatalf("expected unknown token error")
	}
}

func TestSandboxReadsWaitForInFlightSwap(t *testing.T) {
	defs, err := web3.ParseChainDefinitions([]byte(chainsYAML))
	if err != nil {
		t.Fatalf("parse chains: %v", err)
	}
	genesis, err := GenesisFromDefinition(defs.Chains["sandbox"])
	if err != nil {
		t.Fatalf("GenesisFromDefinition: %v", err)
	}

	// The USDT hook parks the swap right after the caller has been debited.
	entered := make(chan struct{})
	release := make(chan struct{})
	releaseOnce := sync.OnceFunc(func() { close(release) })
	defer releaseOnce()
	var parked sync.Once
	for i := range genesis.Tokens {
		if genesis.Tokens[i].Address != usdt {
			continue
		}
		genesis.Tokens[i].Hook = func(_ context.Context, from, _ common.Address, _ *big.Int) error {
			if from == holder {
				parked.Do(func() {
					close(entered)
					<-release
				})
			}
			return nil
		}
	}
	state, router, err := ledger.NewFromGenesis(genesis)
	if err != nil {
		t.Fatalf("NewFromGenesis: %v", err)
	}
	executor := common.HexToAddress("0x5E11e45000000000000000000000000000005E11")
	client, err := NewClientFromLedger("sandbox", 31337, "", state, router, executor, weth, swap.DeadlinePolicy{})
	if err != nil {
		t.Fatalf("NewClientFromLedger: %v", err)
	}

	ctx := context.Background()
	amountIn := units.MustParse("1000", 6)
	if _, err := client.Approve(ctx, usdt, holder, executor, amountIn); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	swapErr := make(chan error, 1)
	go func() {
		_, err := client.Swap(ctx, holder, swap.Request{
			TokenIn:      usdt,
			TokenOut:     matic,
			AmountIn:     amountIn,
			MinAmountOut: units.MustParse("1000000", 18),
			Recipient:    recipient,
		})
		swapErr <- err
	}()
	<-entered

	observed := make(chan *big.Int, 1)
	go func() {
		bal, _ := client.BalanceOf(ctx, usdt, holder)
		observed <- bal
	}()
	select {
	case bal := <-observed:
		t.Fatalf("read %s USDT while the swap was in flight", units.Format(bal, 6))
	case <-time.After(50 * time.Millisecond):
	}

	releaseOnce()
	if err := <-swapErr; !errors.Is(err, swap.ErrSlippageExceeded) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	if bal := <-observed; bal.Cmp(units.MustParse("5000", 6)) != 0 {
		t.Fatalf("observer saw %s USDT, want the committed 5000", units.Format(bal, 6))
	}
	if a, _ := client.Allowance(ctx, usdt, holder, executor); a.Cmp(amountIn) != 0 {
		t.Fatalf("aborted swap consumed allowance, left %s", a)
	}
}

func TestSandboxConcurrentSwapsStayConsistent(t *testing.T) {
	client := newSandbox(t)
	ctx := context.Background()
	amountIn := units.MustParse("100", 6)
	if _, err := client.Approve(ctx, usdt, holder, client.Executor(), units.MustParse("400", 6)); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	const swaps = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered = new(big.Int)
		settled   int
	)
	for i := 0; i < swaps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			minOut := big.NewInt(1)
			if i%2 == 1 {
				minOut = units.MustParse("1000000", 18)
			}
			receipt, err := client.Swap(ctx, holder, swap.Request{
				TokenIn:      usdt,
				TokenOut:     matic,
				AmountIn:     amountIn,
				MinAmountOut: minOut,
				Recipient:    recipient,
			})
			if err != nil {
				if i%2 == 0 {
					t.Errorf("swap %d: %v", i, err)
				}
				return
			}
			mu.Lock()
			delivered.Add(delivered, receipt.AmountOut())
			settled++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if settled != swaps/2 {
		t.Fatalf("settled %d swaps, want %d", settled, swaps/2)
	}
	if bal, _ := client.BalanceOf(ctx, usdt, holder); bal.Cmp(units.MustParse("4600", 6)) != 0 {
		t.Fatalf("holder has %s USDT, want 4600", units.Format(bal, 6))
	}
	if bal, _ := client.BalanceOf(ctx, matic, recipient); bal.Cmp(delivered) != 0 {
		t.Fatalf("recipient holds %s, receipts report %s", bal, delivered)
	}
	for _, token := range []common.Address{usdt, weth, matic} {
		if bal, _ := client.BalanceOf(ctx, token, client.Executor()); bal.Sign() != 0 {
			t.Fatalf("executor kept %s of %s", bal, token.Hex())
		}
	}
}
