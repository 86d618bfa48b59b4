package bridge

import (
	"github.com/soundloop/continuo/internal/logger"
	"github.com/soundloop/continuo/sdk/contracts"
)

// applyDefaultOptions sets default values for BridgeOptions if not
// explicitly provided.
func applyDefaultOptions(opts ...contracts.Option) contracts.BridgeOptions {
	options := &contracts.BridgeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogLevel == 0 {
		options.LogLevel = contracts.InfoLevel
	}
	options.Logger.SetLevel(options.LogLevel)

	return *options
}
