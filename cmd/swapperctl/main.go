package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"Swapper-Chain/internal/cli"
)

func main() {
	// .env 可选，用于保存 SWAPPER_API_URL 与 SWAPPER_API_KEY。
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
