// Command sercha-sync runs the sync orchestration engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driving/cli"
	"github.com/custodia-labs/sercha-sync/internal/app"
	"github.com/custodia-labs/sercha-sync/internal/config"
)

// version is set by -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetBootstrap(func(configPath string) (*cli.Services, func() error, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		a, err := app.New(context.Background(), cfg)
		if err != nil {
			return nil, nil, err
		}
		return &cli.Services{
			Sync:        a.Sync,
			Sources:     a.Sources,
			Server:      a,
			CallbackURL: cfg.CallbackURL,
		}, a.Close, nil
	})

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
