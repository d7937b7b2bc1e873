package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deniskipeles/swalang-sandbox/internal/config"
	"github.com/deniskipeles/swalang-sandbox/internal/logging"
	"github.com/deniskipeles/swalang-sandbox/internal/metrics"
	"github.com/deniskipeles/swalang-sandbox/internal/transcript"
	"github.com/deniskipeles/swalang-sandbox/internal/workspace"
	"github.com/deniskipeles/swalang-sandbox/pkg/cache"
	"github.com/deniskipeles/swalang-sandbox/pkg/client"
	"github.com/deniskipeles/swalang-sandbox/pkg/sandbox"
)

// app carries state shared by every command of one invocation.
type app struct {
	configPath  string
	metricsAddr string
	version     string
	verbose     bool

	root        *cobra.Command
	cfg         *config.Config
	stopMetrics context.CancelFunc
	metricsDone chan struct{}
}

func newApp() *app {
	a := &app{}
	a.root = a.newRootCmd()
	return a
}

// Execute runs the command line. Whatever setup started is released
// afterwards, whether or not the command succeeded.
func (a *app) Execute() error {
	defer a.teardown()
	return a.root.Execute()
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "playground",
		Short:        "Swalang playground client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (default $PLAYGROUND_CONFIG)")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	root.PersistentFlags().StringVar(&a.version, "at", "", "project version to load (default latest)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newTreeCmd(a),
		newCatCmd(a),
		newRunCmd(a),
		newPullCmd(a),
		newPushCmd(a),
		newLogsCmd(a),
		newCacheCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	a.cfg = cfg

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("logging init: %w", err)
	}
	if a.verbose {
		logging.SetLevel("debug")
	}

	if cfg.MetricsAddr != "" {
		mctx, cancel := context.WithCancel(ctx)
		a.stopMetrics = cancel
		a.metricsDone = make(chan struct{})
		go func() {
			defer close(a.metricsDone)
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metrics.Serve(mctx, cfg.MetricsAddr, logging.Middleware); err != nil {
				logging.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	return nil
}

func (a *app) teardown() {
	if a.stopMetrics != nil {
		a.stopMetrics()
		<-a.metricsDone
		a.stopMetrics = nil
	}
	_ = logging.Sync()
}

func (a *app) storage() *client.Client {
	return client.New(client.Config{
		BaseURL:   a.cfg.StorageURL,
		AuthToken: a.cfg.Token,
	})
}

func (a *app) sandboxConfig() sandbox.Config {
	return sandbox.Config{
		BaseURL:    a.cfg.SandboxURL,
		Attempts:   a.cfg.SessionAttempts,
		RetryDelay: a.cfg.SessionRetryDelay,
		Settle:     a.cfg.RunSettle,
		Secure:     a.cfg.SecureStream,
	}
}

// openWorkspace loads a project. The content cache is best effort.
func (a *app) openWorkspace(ctx context.Context, project string, tr *transcript.Store) (*workspace.Workspace, error) {
	var c *cache.Cache
	if a.cfg.CacheDir != "" {
		var err error
		c, err = cache.New(a.cfg.CacheDir, a.cfg.MaxCacheSize)
		if err != nil {
			logging.Warn("content cache disabled", zap.String("dir", a.cfg.CacheDir), zap.Error(err))
			c = nil
		}
	}
	return workspace.Open(ctx, workspace.Config{
		ProjectID:   project,
		Version:     a.version,
		Storage:     a.storage(),
		Sandbox:     a.sandboxConfig(),
		Cache:       c,
		Transcripts: tr,
	})
}

var errNoTranscripts = errors.New("transcripts are disabled; set TRANSCRIPT_DB")

func (a *app) openTranscripts() (*transcript.Store, error) {
	if a.cfg.TranscriptDB == "" {
		return nil, nil
	}
	return transcript.Open(a.cfg.TranscriptDB)
}
