package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"Swapper-Chain/sdk/go/swapper"
)

// 演示如何通过 SDK 询价、授权并提交一笔 swap。
func main() {
	baseURL := envOr("SWAPPER_API_URL", "http://localhost:8080")
	client, err := swapper.NewClient(baseURL, swapper.WithAPIKey(os.Getenv("SWAPPER_API_KEY")))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	caller := envOr("SWAPPER_CALLER", "0x46f8C7f3A6A2bC0aF2e9d52c2bB1a8b5F5aBc001")
	tokenIn := envOr("SWAPPER_TOKEN_IN", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
	tokenOut := envOr("SWAPPER_TOKEN_OUT", "0x7D1AfA7B718fb893dB30A3aBc0Cfc608AaCfeBB0")
	amountIn := envOr("SWAPPER_AMOUNT_IN", "1000000")

	quote, err := client.Quote(ctx, swapper.QuoteRequest{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn, SlippageBps: 50})
	if err != nil {
		log.Fatalf("询价失败: %v", err)
	}
	fmt.Printf("path=%v amount_out=%s min_out=%s\n", quote.Path, quote.AmountOut, quote.MinAmountOut)

	if _, err := client.Approve(ctx, swapper.ApproveRequest{Token: tokenIn, Owner: caller, Amount: amountIn}); err != nil {
		log.Fatalf("授权失败: %v", err)
	}

	job, err := client.SubmitSwap(ctx, swapper.SwapRequest{
		Caller:       caller,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: quote.MinAmountOut,
		Recipient:    caller,
	})
	if err != nil {
		log.Fatalf("提交失败: %v", err)
	}
	job, err = client.WaitSwap(ctx, job.ID, time.Second)
	if err != nil {
		log.Fatalf("等待任务失败: %v", err)
	}
	fmt.Printf("job %s: %s %s\n", job.ID, job.Status, job.LastError)
	if job.Result != nil {
		fmt.Printf("amount_out=%s tx=%s\n", job.Result.AmountOut, job.Result.TxHash)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
