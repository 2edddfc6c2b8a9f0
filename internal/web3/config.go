package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	ChainTypeEVM       = "evm"
	ChainTypeSimulated = "simulated"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain and the swap contracts on it.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	Description string `yaml:"description"`

	Router    string `yaml:"router"`
	BaseAsset string `yaml:"base_asset"`
	// Executor is the deployed swapper contract on evm chains and the
	// executor account on simulated ones.
	Executor string `yaml:"executor"`

	PrivateKeyEnv string `yaml:"private_key_env"`
	GasLimit      uint64 `yaml:"gas_limit"`

	Tokens     []TokenDefinition     `yaml:"tokens"`
	Pools      []PoolDefinition      `yaml:"pools"`
	Balances   []BalanceDefinition   `yaml:"balances"`
	Allowances []AllowanceDefinition `yaml:"allowances"`
}

// TokenDefinition names a token; StrictApprove only affects simulated chains.
type TokenDefinition struct {
	Symbol        string `yaml:"symbol"`
	Address       string `yaml:"address"`
	Decimals      uint8  `yaml:"decimals"`
	StrictApprove bool   `yaml:"strict_approve"`
}

// PoolDefinition seeds a simulated pair. Amounts are in token units.
type PoolDefinition struct {
	TokenA  string `yaml:"token_a"`
	TokenB  string `yaml:"token_b"`
	AmountA string `yaml:"amount_a"`
	AmountB string `yaml:"amount_b"`
}

// BalanceDefinition seeds a simulated balance in token units.
type BalanceDefinition struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
}

// AllowanceDefinition seeds a simulated allowance in token units.
type AllowanceDefinition struct {
	Owner   string `yaml:"owner"`
	Spender string `yaml:"spender"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes and validates chain definitions.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		if def.Type == "" {
			def.Type = ChainTypeEVM
			defs.Chains[name] = def
		}
		if err := def.Validate(); err != nil {
			return ChainDefinitions{}, fmt.Errorf("链 %s 配置无效: %w", name, err)
		}
	}
	return defs, nil
}

// Validate checks the addresses every chain type needs.
func (d ChainDefinition) Validate() error {
	switch strings.ToLower(d.Type) {
	case ChainTypeEVM:
		if strings.TrimSpace(d.RPCURL) == "" {
			return fmt.Errorf("evm 链必须配置 rpc_url")
		}
	case ChainTypeSimulated:
	default:
		return fmt.Errorf("不支持的链类型 %s", d.Type)
	}
	for field, value := range map[string]string{"router": d.Router, "base_asset": d.BaseAsset, "executor": d.Executor} {
		if _, err := d.resolveAddress(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	for _, tok := range d.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("token %s 地址无效: %q", tok.Symbol, tok.Address)
		}
	}
	return nil
}

// Token resolves a token by symbol (case-insensitive) or address.
func (d ChainDefinition) Token(ref string) (TokenDefinition, bool) {
	ref = strings.TrimSpace(ref)
	for _, tok := range d.Tokens {
		if strings.EqualFold(tok.Symbol, ref) {
			return tok, true
		}
		if common.IsHexAddress(ref) && common.HexToAddress(tok.Address) == common.HexToAddress(ref) {
			return tok, true
		}
	}
	return TokenDefinition{}, false
}

// ResolveAddress turns a token symbol or hex string into an address.
func (d ChainDefinition) ResolveAddress(ref string) (common.Address, error) {
	return d.resolveAddress(ref)
}

func (d ChainDefinition) resolveAddress(ref string) (common.Address, error) {
	ref = strings.TrimSpace(ref)
	if tok, ok := d.Token(ref); ok {
		return common.HexToAddress(tok.Address), nil
	}
	if !common.IsHexAddress(ref) {
		return common.Address{}, fmt.Errorf("无法解析地址或 token 符号 %q", ref)
	}
	addr := common.HexToAddress(ref)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("地址不能为零地址")
	}
	return addr, nil
}
