//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, log *logger.Logger) (*server.App, error) {
	wire.Build(ProviderSet)
	return &server.App{}, nil
}
