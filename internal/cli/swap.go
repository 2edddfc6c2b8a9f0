package cli

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"Swapper-Chain/pkg/units"
	"Swapper-Chain/sdk/go/swapper"
)

type swapOptions struct {
	caller      string
	recipient   string
	slippageBps uint32
	minOut      string
	raw         bool
	approve     bool
	deadline    time.Duration
	id          string
	noWait      bool
	poll        time.Duration
}

// balanceReport 记录 swap 前后调用方与接收方的余额。
type balanceReport struct {
	Label  string `json:"label"`
	Token  string `json:"token"`
	Symbol string `json:"symbol"`
	Before string `json:"before"`
	After  string `json:"after"`

	decimals uint8
}

func newSwapCommand(g *globalOptions) *cobra.Command {
	opts := &swapOptions{}
	cmd := &cobra.Command{
		Use:   "swap <amount> <token-in> <token-out>",
		Short: "Swap an exact amount of token-in for token-out",
		Long: `Quote the swap, optionally approve the executor, submit the job and wait for
it to settle. Amounts are in token units unless --raw is set.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwap(cmd, g, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.caller, "caller", "", "account paying token-in (required)")
	f.StringVar(&opts.recipient, "recipient", "", "account receiving token-out, defaults to --caller")
	f.Uint32Var(&opts.slippageBps, "slippage-bps", 50, "tolerated slippage against the quote in basis points")
	f.StringVar(&opts.minOut, "min-out", "", "explicit minimum output, overrides --slippage-bps")
	f.BoolVar(&opts.raw, "raw", false, "amounts are base-unit integers")
	f.BoolVar(&opts.approve, "approve", false, "approve the executor for the amount before submitting")
	f.DurationVar(&opts.deadline, "deadline", 0, "swap deadline from now, 0 uses the server default")
	f.StringVar(&opts.id, "id", "", "idempotency id of the job")
	f.BoolVar(&opts.noWait, "no-wait", false, "return after the job is queued")
	f.DurationVar(&opts.poll, "poll", time.Second, "job polling interval")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func runSwap(cmd *cobra.Command, g *globalOptions, opts *swapOptions, args []string) error {
	client, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context(cmd)
	defer cancel()
	out := cmd.OutOrStdout()

	recipient := opts.recipient
	if recipient == "" {
		recipient = opts.caller
	}
	tokenIn, err := client.Token(ctx, g.chain, args[1])
	if err != nil {
		return fmt.Errorf("读取 token-in 失败: %w", err)
	}
	tokenOut, err := client.Token(ctx, g.chain, args[2])
	if err != nil {
		return fmt.Errorf("读取 token-out 失败: %w", err)
	}
	amountIn, err := parseAmount(args[0], tokenIn.Decimals, opts.raw)
	if err != nil {
		return err
	}

	reports := []*balanceReport{
		{Label: "caller", Token: tokenIn.Address, Symbol: tokenIn.Symbol, decimals: tokenIn.Decimals},
		{Label: "recipient", Token: tokenOut.Address, Symbol: tokenOut.Symbol, decimals: tokenOut.Decimals},
	}
	owners := []string{opts.caller, recipient}
	for i, r := range reports {
		bal, err := client.Balance(ctx, g.chain, r.Token, owners[i])
		if err != nil {
			return fmt.Errorf("读取余额失败: %w", err)
		}
		r.Before = bal.Balance
		if i == 0 && opts.approve {
			if err := approveExact(ctx, client, g.chain, bal, amountIn); err != nil {
				return err
			}
		}
	}

	minOut := opts.minOut
	if minOut != "" {
		v, err := parseUnits(minOut, tokenOut.Decimals, opts.raw)
		if err != nil {
			return err
		}
		minOut = v.String()
	} else {
		stop := g.progress(cmd, "Fetching quote...")
		quote, err := client.Quote(ctx, swapper.QuoteRequest{
			Chain:       g.chain,
			TokenIn:     tokenIn.Address,
			TokenOut:    tokenOut.Address,
			AmountIn:    amountIn.String(),
			SlippageBps: opts.slippageBps,
		})
		stop()
		if err != nil {
			return fmt.Errorf("询价失败: %w", err)
		}
		minOut = quote.MinAmountOut
	}

	req := swapper.SwapRequest{
		ID:           opts.id,
		Chain:        g.chain,
		Caller:       opts.caller,
		TokenIn:      tokenIn.Address,
		TokenOut:     tokenOut.Address,
		AmountIn:     amountIn.String(),
		MinAmountOut: minOut,
		Recipient:    recipient,
	}
	if opts.deadline > 0 {
		req.Deadline = time.Now().Add(opts.deadline).Unix()
	}
	job, err := client.SubmitSwap(ctx, req)
	if err != nil {
		return fmt.Errorf("提交 swap 失败: %w", err)
	}
	if opts.noWait {
		if g.json {
			return printJSON(out, job)
		}
		fmt.Fprintf(out, "queued %s\n", color.CyanString(job.ID))
		return nil
	}

	stop := g.progress(cmd, "Waiting for job "+job.ID+"...")
	job, err = client.WaitSwap(ctx, job.ID, opts.poll)
	stop()
	if err != nil {
		return fmt.Errorf("等待任务失败: %w", err)
	}

	for i, r := range reports {
		bal, err := client.Balance(ctx, g.chain, r.Token, owners[i])
		if err != nil {
			return fmt.Errorf("读取余额失败: %w", err)
		}
		r.After = bal.Balance
	}

	if g.json {
		if err := printJSON(out, map[string]any{"job": job, "balances": reports}); err != nil {
			return err
		}
	} else {
		printSwap(cmd, job, tokenIn, tokenOut, reports)
	}
	if job.Status != swapper.StatusSucceeded {
		return fmt.Errorf("swap %s 失败: %s %s", job.ID, job.ErrorCode, job.LastError)
	}
	return nil
}

// approveExact 先把非零授权清零再设置新值，兼容拒绝非零覆盖的代币。
func approveExact(ctx context.Context, client *swapper.Client, chain string, bal swapper.Balance, amount *big.Int) error {
	if bal.Allowance != "0" && bal.Allowance != "" {
		if _, err := client.Approve(ctx, swapper.ApproveRequest{Chain: chain, Token: bal.Token, Owner: bal.Owner, Amount: "0"}); err != nil {
			return fmt.Errorf("重置授权失败: %w", err)
		}
	}
	if _, err := client.Approve(ctx, swapper.ApproveRequest{Chain: chain, Token: bal.Token, Owner: bal.Owner, Amount: amount.String()}); err != nil {
		return fmt.Errorf("授权失败: %w", err)
	}
	return nil
}

func printSwap(cmd *cobra.Command, job swapper.Job, tokenIn, tokenOut swapper.Token, reports []*balanceReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nSwap %s\n", color.CyanString(job.ID))
	printField(out, "Status", statusColor(job.Status))
	printField(out, "Chain", job.Chain)
	printField(out, "Attempts", fmt.Sprintf("%d/%d", job.Attempts, job.MaxRetries))
	printField(out, "Amount in", formatAmount(job.AmountIn, tokenIn))
	if job.Result != nil {
		printField(out, "Amount out", color.GreenString(formatAmount(job.Result.AmountOut, tokenOut)))
		printField(out, "Hops", fmt.Sprintf("%d", len(job.Result.Path)-1))
		if job.Result.TxHash != "" {
			printField(out, "Tx", color.CyanString(job.Result.TxHash))
		}
	} else {
		printField(out, "Min out", formatAmount(job.MinAmountOut, tokenOut))
	}
	if job.LastError != "" {
		printField(out, "Error", color.RedString("%s %s", job.ErrorCode, job.LastError))
	}
	fmt.Fprintln(out, "\n  Balances:")
	for _, r := range reports {
		fmt.Fprintf(out, "    %-10s %s: %s -> %s\n", r.Label, r.Symbol,
			units.Format(parseBig(r.Before), r.decimals), units.Format(parseBig(r.After), r.decimals))
	}
	fmt.Fprintln(out)
}

func parseUnits(value string, decimals uint8, raw bool) (*big.Int, error) {
	if raw {
		return units.ParseBaseUnits(value)
	}
	return units.Parse(value, decimals)
}

func parseAmount(value string, decimals uint8, raw bool) (*big.Int, error) {
	v, err := parseUnits(value, decimals, raw)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("数量 %q 必须大于 0", value)
	}
	return v, nil
}

func formatAmount(baseUnits string, token swapper.Token) string {
	return units.Format(parseBig(baseUnits), token.Decimals) + " " + token.Symbol
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
