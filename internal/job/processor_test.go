package job

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/observability/alerting"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/internal/web3/provider"
	"Swapper-Chain/internal/web3/simulated"
	"Swapper-Chain/pkg/units"
)

const sandboxYAML = `
chains:
  sandbox:
    type: simulated
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
)

func newSandbox(t *testing.T) *simulated.Client {
	t.Helper()
	defs, err := web3.ParseChainDefinitions([]byte(sandboxYAML))
	if err != nil {
		t.Fatalf("parse chains: %v", err)
	}
	client, err := simulated.NewClient("sandbox", defs.Chains["sandbox"], swap.DeadlinePolicy{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Approve(context.Background(), usdt, holder, client.Executor(), units.MustParse("5000", 6)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return client
}

// flakyClient 在前 failures 次 swap 时返回 err，之后交给底层客户端。
type flakyClient struct {
	web3.Client
	failures int32
	err      error
	receipt  web3.SwapReceipt
	calls    atomic.Int32
}

func (f *flakyClient) Swap(ctx context.Context, caller common.Address, req swap.Request) (web3.SwapReceipt, error) {
	if f.calls.Add(1) <= f.failures {
		return f.receipt, f.err
	}
	return f.Client.Swap(ctx, caller, req)
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

type harness struct {
	service *Service
	alerts  *recordingAlerter
}

func startHarness(t *testing.T, client web3.Client, maxRetries int) *harness {
	t.Helper()
	registry, err := provider.NewStaticRegistry("sandbox", map[string]web3.Client{"sandbox": client})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	alerts := &recordingAlerter{}
	service := NewService(store, queue, registry, maxRetries)
	processor := NewProcessor(registry, store, queue, queue, WithWorkerCount(2), WithAlertDispatcher(alerts))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{service: service, alerts: alerts}
}

func (h *harness) run(t *testing.T, req Request) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := h.service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return done
}

func swapRequest(minOut string) Request {
	return Request{
		Caller:       holder.Hex(),
		TokenIn:      usdt.Hex(),
		TokenOut:     matic.Hex(),
		AmountIn:     units.MustParse("1000", 6).String(),
		MinAmountOut: minOut,
		Recipient:    recipient.Hex(),
	}
}

func TestProcessorSettlesSwap(t *testing.T) {
	client := newSandbox(t)
	quote, err := client.Quote(context.Background(), usdt, matic, units.MustParse("1000", 6))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	h := startHarness(t, client, 3)

	job := h.run(t, swapRequest(quote.MinAmountOut(50).String()))
	if job.Status != StatusSucceeded || job.Attempts != 1 || job.Chain != "sandbox" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Result == nil || len(job.Result.Path) != 3 || job.Result.AmountOut != quote.AmountOut().String() {
		t.Fatalf("unexpected result %+v", job.Result)
	}
	if len(job.Result.Balances) != 2 {
		t.Fatalf("expected two balance changes, got %+v", job.Result.Balances)
	}
	in, out := job.Result.Balances[0], job.Result.Balances[1]
	if in.Before != units.MustParse("5000", 6).String() || in.After != units.MustParse("4000", 6).String() {
		t.Fatalf("unexpected caller balances %+v", in)
	}
	if out.Before != "0" || out.After != quote.AmountOut().String() {
		t.Fatalf("unexpected recipient balances %+v", out)
	}
	if len(h.alerts.snapshot()) != 0 {
		t.Fatalf("settled swap should not alert")
	}
}

func TestProcessorSlippageIsTerminal(t *testing.T) {
	client := newSandbox(t)
	h := startHarness(t, client, 3)

	job := h.run(t, swapRequest(units.MustParse("1000000", 18).String()))
	if job.Status != StatusFailed || job.Attempts != 1 {
		t.Fatalf("slippage should fail without retry, got %+v", job)
	}
	if job.ErrorCode != string(swap.CodeSlippageExceeded) {
		t.Fatalf("unexpected error code %s", job.ErrorCode)
	}
	balance, _ := client.BalanceOf(context.Background(), usdt, holder)
	if balance.Cmp(units.MustParse("5000", 6)) != 0 {
		t.Fatalf("failed swap must not move funds, holder has %s", balance)
	}
	alerts := h.alerts.snapshot()
	if len(alerts) != 1 || alerts[0].Metadata["stage"] != "non_retryable" || alerts[0].JobID != job.ID {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestProcessorRetriesChainFailure(t *testing.T) {
	client := &flakyClient{
		Client:   newSandbox(t),
		failures: 1,
		err:      xerrors.New(xerrors.CodeChainFailure, "rpc unavailable"),
	}
	h := startHarness(t, client, 3)

	job := h.run(t, swapRequest("0"))
	if job.Status != StatusSucceeded || job.Attempts != 2 {
		t.Fatalf("expected success on second attempt, got %+v", job)
	}
	if client.calls.Load() != 2 {
		t.Fatalf("expected two swap calls, got %d", client.calls.Load())
	}
	alerts := h.alerts.snapshot()
	if len(alerts) != 1 || alerts[0].Metadata["stage"] != "retry" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestProcessorNeverResubmitsSentTransaction(t *testing.T) {
	txHash := common.HexToHash("0xabc")
	client := &flakyClient{
		Client:   newSandbox(t),
		failures: 1,
		err:      xerrors.New(xerrors.CodeTimeout, "等待交易上链失败"),
		receipt:  web3.SwapReceipt{TxHash: txHash},
	}
	h := startHarness(t, client, 3)

	job := h.run(t, swapRequest("0"))
	if job.Status != StatusFailed || job.Attempts != 1 || job.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("sent transaction must not be retried, got %+v", job)
	}
	if client.calls.Load() != 1 {
		t.Fatalf("swap should be attempted once, got %d", client.calls.Load())
	}
	alerts := h.alerts.snapshot()
	if len(alerts) != 1 || alerts[0].Metadata["tx_hash"] != txHash.Hex() {
		t.Fatalf("alert should carry tx hash, got %+v", alerts)
	}
}

func TestProcessorExhaustsRetries(t *testing.T) {
	client := &flakyClient{
		Client:   newSandbox(t),
		failures: 10,
		err:      xerrors.New(xerrors.CodeChainFailure, "rpc unavailable"),
	}
	h := startHarness(t, client, 2)

	job := h.run(t, swapRequest("0"))
	if job.Status != StatusFailed || job.Attempts != 2 {
		t.Fatalf("expected failure after 2 attempts, got %+v", job)
	}
	alerts := h.alerts.snapshot()
	if len(alerts) != 2 || alerts[1].Metadata["stage"] != "terminal" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}
