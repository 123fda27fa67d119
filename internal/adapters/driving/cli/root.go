// Package cli provides the sercha-sync command line.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// version is set at build time.
var version = "dev"

// Runner is a long-running component started by serve.
type Runner interface {
	Run(ctx context.Context) error
}

// Services are the core services commands act on.
type Services struct {
	Sync    driving.SyncOrchestrator
	Sources driving.SourceService

	// Server runs the webhook receiver, workers, watches and scheduler.
	Server Runner

	// CallbackURL returns the webhook callback for a provider.
	CallbackURL func(domain.ProviderType) string
}

// Bootstrap builds services from a config file path. The returned func
// releases them.
type Bootstrap func(configPath string) (*Services, func() error, error)

var (
	configPath string
	verbose    bool

	bootstrap Bootstrap
	services  *Services
	release   func() error
)

var errNotConfigured = errors.New("services not configured")

var rootCmd = &cobra.Command{
	Use:   "sercha-sync",
	Short: "Sync orchestration engine",
	Long: `sercha-sync keeps indexed content consistent with upstream sources.

It connects Git hosting providers, cloud document stores and local folders,
turns provider webhooks into sync jobs and feeds changed files through the
normalise, chunk, embed and graph pipeline.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetVerbose(true)
		}
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		return releaseServices()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./sercha-sync.{toml,yaml})")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetBootstrap sets how commands build their services.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// SetServices injects ready-made services. Used by tests.
func SetServices(s *Services) {
	services = s
}

// SetVersion sets the reported version.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command. Services built by the bootstrap are
// released even when the command fails.
func Execute() error {
	err := rootCmd.Execute()
	if rerr := releaseServices(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// loadServices returns the injected services or builds them on first use.
func loadServices() (*Services, error) {
	if services != nil {
		return services, nil
	}
	if bootstrap == nil {
		return nil, errNotConfigured
	}
	s, closer, err := bootstrap(configPath)
	if err != nil {
		return nil, err
	}
	services, release = s, closer
	return services, nil
}

func releaseServices() error {
	if release == nil {
		return nil
	}
	err := release()
	release = nil
	services = nil
	return err
}
