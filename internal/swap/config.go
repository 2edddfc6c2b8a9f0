package swap

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
)

// Config holds the router and base asset an executor is bound to. It cannot
// be changed after construction.
type Config struct {
	router    common.Address
	baseAsset common.Address
}

// NewConfig validates and freezes the executor configuration.
func NewConfig(router, baseAsset common.Address) (Config, error) {
	if router == (common.Address{}) {
		return Config{}, xerrors.New(CodeInvalidConfig, "router 地址不能为空")
	}
	if baseAsset == (common.Address{}) {
		return Config{}, xerrors.New(CodeInvalidConfig, "base asset 地址不能为空")
	}
	return Config{router: router, baseAsset: baseAsset}, nil
}

// Router returns the exchange router address.
func (c Config) Router() common.Address { return c.router }

// BaseAsset returns the intermediate hop token.
func (c Config) BaseAsset() common.Address { return c.baseAsset }

// Valid reports whether the config came from NewConfig.
func (c Config) Valid() bool {
	return c.router != (common.Address{}) && c.baseAsset != (common.Address{})
}
