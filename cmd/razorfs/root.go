package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/app"
	"github.com/justyntemme/razorfs/internal/config"
	"github.com/justyntemme/razorfs/internal/debug"
)

// cli holds the state shared by every subcommand. The session is opened
// before a subcommand runs and closed after it returns.
type cli struct {
	root *cobra.Command

	configPath  string
	metricsAddr string

	session     *app.Session
	stopMetrics context.CancelFunc
	metricsDone chan error
}

func newCLI() *cli {
	c := &cli{}
	c.root = &cobra.Command{
		Use:   "razorfs",
		Short: "Drive the razor filesystem core from the command line",
		Long: `razorfs exercises the filesystem registry used by the razor file manager:
every listing, copy, move and removal goes through the same cache, ignore
rules and change signals the UI relies on.

Configuration is read from ~/.config/razor/config.json (or --config) and may
be overridden with RAZOR_* environment variables, e.g. RAZOR_LOG_LEVEL=debug.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.open,
	}
	c.root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ~/.config/razor/config.json)")
	c.root.PersistentFlags().StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	c.root.AddCommand(
		c.lsCmd(),
		c.cpCmd(),
		c.mvCmd(),
		c.rmCmd(),
		c.renameCmd(),
		c.mkdirCmd(),
		c.ignoreCmd(),
		c.watchCmd(),
		c.tabsCmd(),
	)
	return c
}

// execute runs the command line args and always closes the session.
func (c *cli) execute(ctx context.Context, args []string) error {
	c.root.SetArgs(args)
	err := c.root.ExecuteContext(ctx)
	if cerr := c.close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (c *cli) open(cmd *cobra.Command, args []string) error {
	m := config.NewManager()
	path := c.configPath
	if path == "" {
		path = config.ConfigPath()
	}
	if err := m.LoadFrom(path); err != nil {
		return err
	}
	if perr := m.ParseError(); perr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s is invalid, using defaults: %v\n", path, perr)
	}
	if c.metricsAddr != "" {
		m.SetMetricsAddr(c.metricsAddr)
	}
	cfg := m.Get()

	if err := debug.Init(cfg.Log.DebugConfig()); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	s, err := app.Open(cfg)
	if err != nil {
		return err
	}
	c.session = s

	if addr := cfg.Metrics.Addr; addr != "" {
		ctx, cancel := context.WithCancel(cmd.Context())
		c.stopMetrics = cancel
		c.metricsDone = make(chan error, 1)
		go func() { c.metricsDone <- s.ServeMetrics(ctx, addr) }()
	}
	return nil
}

func (c *cli) close() error {
	if c.stopMetrics != nil {
		c.stopMetrics()
		if err := <-c.metricsDone; err != nil {
			debug.Logger(debug.APP).Warn("metrics server", zap.Error(err))
		}
		c.stopMetrics = nil
	}
	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	debug.Sync()
	return err
}
