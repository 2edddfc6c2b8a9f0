// Package cli implements swapperctl, the operator command line for the
// swapper API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"Swapper-Chain/sdk/go/swapper"
)

type globalOptions struct {
	apiURL  string
	apiKey  string
	chain   string
	json    bool
	timeout time.Duration
}

// NewRootCommand 构造 swapperctl 的命令树。
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "swapperctl",
		Short: "Submit and inspect token swaps through the swapper API",
		Long: `swapperctl talks to a running swapperd.

Examples:
  swapperctl quote 1000 <usdt> <matic>
  swapperctl swap 1000 <usdt> <matic> --caller 0x... --approve
  swapperctl balance <usdt> 0x...
  swapperctl jobs list --status failed`,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", envOr("SWAPPER_API_URL", "http://localhost:8080"), "swapperd base URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("SWAPPER_API_KEY"), "API key sent as X-API-Key")
	flags.StringVar(&opts.chain, "chain", "", "chain name, empty for the server default")
	flags.BoolVarP(&opts.json, "json", "j", false, "print JSON instead of text")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall timeout of a command")

	root.AddCommand(
		newSwapCommand(opts),
		newQuoteCommand(opts),
		newBalanceCommand(opts),
		newApproveCommand(opts),
		newChainsCommand(opts),
		newJobsCommand(opts),
	)
	return root
}

// Execute 运行 swapperctl。
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *globalOptions) client() (*swapper.Client, error) {
	return swapper.NewClient(o.apiURL, swapper.WithAPIKey(o.apiKey))
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// progress 在终端上显示一个 spinner，JSON 输出时不显示。
func (o *globalOptions) progress(cmd *cobra.Command, suffix string) func() {
	if o.json {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(status string) string {
	switch status {
	case swapper.StatusSucceeded:
		return color.GreenString(status)
	case swapper.StatusFailed:
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %-16s %s\n", label+":", value)
}
