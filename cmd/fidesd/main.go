// Command fidesd runs the settings document manager as a long-lived
// daemon: it loads the trusted bootstrap document, replays any blobs
// already on disk, and serves the HTTP API until signaled to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fides/pkg/api"
	"github.com/cuemby/fides/pkg/blobstore"
	"github.com/cuemby/fides/pkg/bootstrap"
	"github.com/cuemby/fides/pkg/container"
	"github.com/cuemby/fides/pkg/delegate"
	"github.com/cuemby/fides/pkg/log"
	"github.com/cuemby/fides/pkg/manager"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fidesd",
	Short:   "fidesd serves a trusted, multi-source settings document store",
	Version: version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fidesd version %s (%s)\n", version, commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("listen", ":8080", "HTTP API listen address")
	rootCmd.Flags().String("blob-dir", "./data/blobs", "Directory for the blob store")
	rootCmd.Flags().String("trusted-doc", "./trusted.yaml", "Path to the trusted document manifest")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	blobDir, _ := cmd.Flags().GetString("blob-dir")
	trustedDocPath, _ := cmd.Flags().GetString("trusted-doc")

	blobs, err := blobstore.Open(blobDir)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	containers := container.NewRegistry()
	delegates := delegate.NewRegistry()
	registerDelegateFactories(delegates)

	mgr := manager.New(blobs, containers, delegates)

	trustedDoc, err := bootstrap.LoadTrustedDocument(trustedDocPath)
	if err != nil {
		return fmt.Errorf("loading trusted document: %w", err)
	}
	if err := mgr.Init(trustedDoc); err != nil {
		return fmt.Errorf("initializing manager: %w", err)
	}

	collector := manager.NewCollector(mgr)
	collector.Start(15 * time.Second)
	defer collector.Stop()

	srv := api.NewServer(mgr)
	httpServer := &http.Server{Addr: listen, Handler: srv}

	go func() {
		log.Logger.Info().Str("addr", listen).Msg("fidesd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// registerDelegateFactories wires the built-in delegate types into the
// registry. Cert delegates need per-source key material, typically loaded
// from the trust configuration itself, so they are left to be registered
// by whatever loads that configuration; only the stateless types are
// registered here.
func registerDelegateFactories(registry *delegate.Registry) {
	registry.Register("trusted", func(sourceID string) delegate.Delegate { return delegate.Trusted{} })
	registry.Register("install-attributes", func(sourceID string) delegate.Delegate { return delegate.InstallAttributes{} })
}
