package web3

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
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
    pools:
      - token_a: USDT
        token_b: WETH
        amount_a: "1000000"
        amount_b: "500"
`

func TestLoadChainDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(sandboxYAML), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("LoadChainDefinitions returned error: %v", err)
	}
	def, ok := defs.Chains["sandbox"]
	if !ok {
		t.Fatalf("sandbox chain missing")
	}
	base, err := def.ResolveAddress(def.BaseAsset)
	if err != nil || base != common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") {
		t.Fatalf("base asset resolved to %s (%v)", base.Hex(), err)
	}
	tok, ok := def.Token("usdt")
	if !ok || tok.Decimals != 6 || !tok.StrictApprove {
		t.Fatalf("unexpected token lookup %+v", tok)
	}
	if _, ok := def.Token("0xdac17f958d2ee523a2206206994597c13d831ec7"); !ok {
		t.Fatalf("lookup by address should ignore case")
	}
}

func TestParseChainDefinitionsRejectsBadChains(t *testing.T) {
	cases := map[string]string{
		"missing rpc":     "chains:\n  main:\n    type: evm\n    router: 0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D\n",
		"unknown type":    "chains:\n  x:\n    type: solana\n",
		"bad base symbol": strings.Replace(sandboxYAML, "base_asset: WETH", "base_asset: DOGE", 1),
	}
	for name, doc := range cases {
		if _, err := ParseChainDefinitions([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %v (%v)", defs, err)
	}
}
