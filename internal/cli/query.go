package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"Swapper-Chain/sdk/go/swapper"
)

func newQuoteCommand(g *globalOptions) *cobra.Command {
	var (
		slippage uint32
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "quote <amount> <token-in> <token-out>",
		Short: "Price a swap on current reserves",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			tokenIn, err := client.Token(ctx, g.chain, args[1])
			if err != nil {
				return err
			}
			tokenOut, err := client.Token(ctx, g.chain, args[2])
			if err != nil {
				return err
			}
			amountIn, err := parseAmount(args[0], tokenIn.Decimals, raw)
			if err != nil {
				return err
			}
			quote, err := client.Quote(ctx, swapper.QuoteRequest{
				Chain:       g.chain,
				TokenIn:     tokenIn.Address,
				TokenOut:    tokenOut.Address,
				AmountIn:    amountIn.String(),
				SlippageBps: slippage,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, quote)
			}
			fmt.Fprintf(out, "\nQuote on %s\n", color.CyanString(quote.Chain))
			printField(out, "Amount in", formatAmount(amountIn.String(), tokenIn))
			printField(out, "Amount out", color.GreenString(formatAmount(quote.AmountOut, tokenOut)))
			printField(out, "Min out", formatAmount(quote.MinAmountOut, tokenOut))
			printField(out, "Path", strings.Join(quote.Path, " -> "))
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&slippage, "slippage-bps", 50, "tolerated slippage in basis points")
	cmd.Flags().BoolVar(&raw, "raw", false, "amount is a base-unit integer")
	return cmd
}

func newBalanceCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <token> <owner>",
		Short: "Show a token balance and the allowance granted to the executor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			bal, err := client.Balance(ctx, g.chain, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, bal)
			}
			token := swapper.Token{Symbol: bal.Symbol, Decimals: bal.Decimals}
			fmt.Fprintf(out, "\n%s on %s\n", color.CyanString(bal.Owner), bal.Chain)
			printField(out, "Balance", color.GreenString(formatAmount(bal.Balance, token)))
			printField(out, "Allowance", formatAmount(bal.Allowance, token))
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newApproveCommand(g *globalOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "approve <amount> <token> <owner>",
		Short: "Set the allowance owner grants to the chain executor",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			token, err := client.Token(ctx, g.chain, args[1])
			if err != nil {
				return err
			}
			amount, err := parseUnits(args[0], token.Decimals, raw)
			if err != nil {
				return err
			}
			approval, err := client.Approve(ctx, swapper.ApproveRequest{
				Chain:  g.chain,
				Token:  token.Address,
				Owner:  args[2],
				Amount: amount.String(),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, approval)
			}
			color.New(color.FgGreen).Fprintf(out, "\napproved %s for %s\n", formatAmount(amount.String(), token), approval.Spender)
			if approval.TxHash != "" {
				printField(out, "Tx", color.CyanString(approval.TxHash))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "amount is a base-unit integer")
	return cmd
}

func newChainsCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List the chains served by swapperd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			chains, err := client.Chains(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, chains)
			}
			for _, c := range chains {
				name := c.Name
				if c.Default {
					name += " (default)"
				}
				fmt.Fprintf(out, "%s\n", color.CyanString(name))
				printField(out, "Executor", c.Executor)
				if c.Error != "" {
					printField(out, "Error", color.RedString(c.Error))
					continue
				}
				printField(out, "Chain id", c.ChainID)
				printField(out, "Block", c.BlockNumber)
			}
			return nil
		},
	}
}

func newJobsCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect swap jobs",
	}

	var filter swapper.ListFilter
	var statuses string
	var since time.Duration
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			f := filter
			f.Chain = g.chain
			if statuses != "" {
				f.Statuses = strings.Split(statuses, ",")
			}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			jobs, err := client.ListSwaps(ctx, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, jobs)
			}
			if len(jobs) == 0 {
				color.New(color.FgYellow).Fprintln(out, "no jobs found")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(out, "%-36s  %-9s  %-8s  %d/%d  %s\n",
					j.ID, statusColor(j.Status), j.Chain, j.Attempts, j.MaxRetries,
					time.Unix(j.UpdatedAt, 0).Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().StringVar(&statuses, "status", "", "comma separated statuses")
	list.Flags().StringVar(&filter.Caller, "caller", "", "filter by caller")
	list.Flags().StringVarP(&filter.Query, "query", "q", "", "search id, tokens, tx hash and errors")
	list.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of jobs")
	list.Flags().IntVar(&filter.Offset, "offset", 0, "jobs to skip")
	list.Flags().DurationVar(&since, "since", 0, "only jobs updated within this window")
	list.Flags().BoolVar(&filter.Oldest, "oldest", false, "oldest first")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			job, err := client.GetSwap(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, job)
			}
			fmt.Fprintf(out, "\nSwap %s\n", color.CyanString(job.ID))
			printField(out, "Status", statusColor(job.Status))
			printField(out, "Chain", job.Chain)
			printField(out, "Caller", job.Caller)
			printField(out, "Recipient", job.Recipient)
			printField(out, "Token in", job.TokenIn)
			printField(out, "Token out", job.TokenOut)
			printField(out, "Amount in", job.AmountIn)
			printField(out, "Min out", job.MinAmountOut)
			printField(out, "Attempts", fmt.Sprintf("%d/%d", job.Attempts, job.MaxRetries))
			if job.Result != nil {
				printField(out, "Amount out", color.GreenString(job.Result.AmountOut))
				if job.Result.TxHash != "" {
					printField(out, "Tx", job.Result.TxHash)
				}
				for _, b := range job.Result.Balances {
					printField(out, "Balance", fmt.Sprintf("%s %s: %s -> %s", b.Account, b.Token, b.Before, b.After))
				}
			}
			if job.LastError != "" {
				printField(out, "Error", color.RedString("%s %s", job.ErrorCode, job.LastError))
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count jobs by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()

			s, err := client.SwapStats(ctx, swapper.ListFilter{Chain: g.chain})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, s)
			}
			printField(out, "Total", fmt.Sprintf("%d", s.Total))
			printField(out, "Pending", color.YellowString("%d", s.Pending))
			printField(out, "Running", color.YellowString("%d", s.Running))
			printField(out, "Succeeded", color.GreenString("%d", s.Succeeded))
			printField(out, "Failed", color.RedString("%d", s.Failed))
			return nil
		},
	}

	cmd.AddCommand(list, get, stats)
	return cmd
}
