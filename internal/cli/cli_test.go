package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"

	"Swapper-Chain/internal/api"
	"Swapper-Chain/internal/job"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/internal/web3/provider"
	"Swapper-Chain/internal/web3/simulated"
	"Swapper-Chain/sdk/go/swapper"
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
    allowances:
      - owner: 0x46f8C7f3A6A2bC0aF2e9d52c2bB1a8b5F5aBc001
        spender: 0x5E11e45000000000000000000000000000005E11
        token: USDT
        amount: "1"
`

const (
	holder = "0x46f8C7f3A6A2bC0aF2e9d52c2bB1a8b5F5aBc001"
	usdt   = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	matic  = "0x7D1AfA7B718fb893dB30A3aBc0Cfc608AaCfeBB0"
)

func startServer(t *testing.T) string {
	t.Helper()
	color.NoColor = true

	defs, err := web3.ParseChainDefinitions([]byte(sandboxYAML))
	if err != nil {
		t.Fatalf("parse chains: %v", err)
	}
	chain, err := simulated.NewClient("sandbox", defs.Chains["sandbox"], swap.DeadlinePolicy{})
	if err != nil {
		t.Fatalf("simulated client: %v", err)
	}
	registry, err := provider.NewStaticRegistry("sandbox", map[string]web3.Client{"sandbox": chain})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := job.NewMemoryStore()
	queue := job.NewMemoryQueue(8)
	jobs := job.NewService(store, queue, registry, 3)
	processor := job.NewProcessor(registry, store, queue, queue)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.Start(ctx)
	}()
	srv := httptest.NewServer(api.NewServer(api.Options{}, jobs, registry, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv.URL
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api", url, "--api-key", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSwapCommandApprovesAndSettles(t *testing.T) {
	url := startServer(t)

	// 初始授权为 1 USDT，strict token 要求先清零再授权。
	out, err := run(t, url, "swap", "1000", usdt, matic, "--caller", holder, "--approve", "--poll", "10ms", "--json")
	if err != nil {
		t.Fatalf("swap failed: %v\n%s", err, out)
	}
	var report struct {
		Job      swapper.Job `json:"job"`
		Balances []struct {
			Label  string `json:"label"`
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"balances"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if report.Job.Status != swapper.StatusSucceeded || report.Job.Result == nil || len(report.Job.Result.Path) != 3 {
		t.Fatalf("unexpected job %+v", report.Job)
	}
	if len(report.Balances) != 2 {
		t.Fatalf("unexpected balances %+v", report.Balances)
	}
	caller := report.Balances[0]
	if caller.Before != "5000000000" || caller.After != "4000000000" {
		t.Fatalf("caller should pay exactly 1000 USDT, got %+v", caller)
	}
	if got := report.Balances[1]; got.Before != "0" || got.After != report.Job.Result.AmountOut {
		t.Fatalf("recipient should receive amount_out, got %+v", got)
	}

	out, err = run(t, url, "balance", usdt, holder)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !strings.Contains(out, "4000 USDT") || !strings.Contains(out, "Allowance:       0 USDT") {
		t.Fatalf("unexpected balance output:\n%s", out)
	}
}

func TestSwapCommandReportsSlippage(t *testing.T) {
	url := startServer(t)

	if _, err := run(t, url, "approve", "1000", usdt, holder); err == nil {
		t.Fatalf("strict token should refuse overwriting a non-zero allowance")
	}
	if _, err := run(t, url, "approve", "0", usdt, holder); err != nil {
		t.Fatalf("reset allowance: %v", err)
	}
	if _, err := run(t, url, "approve", "1000", usdt, holder); err != nil {
		t.Fatalf("approve: %v", err)
	}

	out, err := run(t, url, "swap", "1000", usdt, matic, "--caller", holder, "--min-out", "1000000", "--poll", "10ms")
	if err == nil || !strings.Contains(err.Error(), string(swap.CodeSlippageExceeded)) {
		t.Fatalf("expected slippage failure, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "failed") || !strings.Contains(out, "5000 -> 5000") {
		t.Fatalf("failed swap must leave balances untouched:\n%s", out)
	}

	out, err = run(t, url, "jobs", "list", "--status", "failed")
	if err != nil || strings.Count(out, "failed") != 1 {
		t.Fatalf("expected one failed job, got %v\n%s", err, out)
	}
	out, err = run(t, url, "jobs", "stats", "--json")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats swapper.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil || stats.Failed != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats %+v (%v)", stats, err)
	}
}

func TestQuoteAndChainsCommands(t *testing.T) {
	url := startServer(t)

	out, err := run(t, url, "quote", "10", usdt, matic)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !strings.Contains(out, "Quote on sandbox") || strings.Count(out, "->") != 2 {
		t.Fatalf("unexpected quote output:\n%s", out)
	}

	out, err = run(t, url, "chains")
	if err != nil || !strings.Contains(out, "sandbox (default)") {
		t.Fatalf("unexpected chains output %v:\n%s", err, out)
	}

	if _, err := run(t, url, "quote", "-1", usdt, matic); err == nil {
		t.Fatalf("negative amount should be rejected")
	}
	if _, err := run(t, url, "swap", "1", usdt, matic); err == nil {
		t.Fatalf("--caller is required")
	}
}
