//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/seofernando25/catfish/internal/server"
)

func InitializeApp(cfg server.Config) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
