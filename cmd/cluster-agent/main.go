// Command cluster-agent watches the Kubernetes API server from inside the
// cluster and forwards normalized lifecycle events to the Epsagon collector.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/epsagon/cluster-agent/internal/agent"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := agent.DefaultConfig()
	var debugFlag bool

	cmd := &cobra.Command{
		Use:           "cluster-agent",
		Short:         "Watch the Kubernetes API server and forward lifecycle events to the Epsagon collector",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, debugFlag)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Token, "token", envOr("EPSAGON_TOKEN", ""), "collector auth token")
	flags.StringVar(&cfg.ClusterName, "cluster-name", envOr("EPSAGON_CLUSTER_NAME", ""), "cluster label attached to every envelope")
	flags.StringVar(&cfg.CollectorURL, "collector-url", envOr("EPSAGON_COLLECTOR_URL", cfg.CollectorURL), "collector POST endpoint")
	flags.BoolVar(&debugFlag, "debug", envBoolOr("EPSAGON_DEBUG", false), "force debug logging")
	flags.BoolVar(&cfg.CollectResources, "collect-resources", envBoolOr("EPSAGON_COLLECT_RESOURCES", cfg.CollectResources), "watch Pod/Node/Namespace/Deployment")
	flags.BoolVar(&cfg.CollectEvents, "collect-events", envBoolOr("EPSAGON_COLLECT_EVENTS", cfg.CollectEvents), "watch core/v1 Event objects")
	flags.StringVar(&cfg.ConfDir, "conf-dir", envOr("EPSAGON_CONF_DIR", cfg.ConfDir), "directory holding the debug flag file")
	flags.IntVar(&cfg.MaxWorkers, "max-workers", envIntOr("EPSAGON_MAX_WORKERS", cfg.MaxWorkers), "forwarder worker pool size")
	flags.IntVar(&cfg.MaxEventsToRead, "max-events-to-read", envIntOr("EPSAGON_MAX_EVENTS_TO_READ", cfg.MaxEventsToRead), "forwarder batch size")
	flags.IntVar(&cfg.RetryIntervalSeconds, "retry-interval-seconds", envIntOr("EPSAGON_RETRY_INTERVAL_SECONDS", cfg.RetryIntervalSeconds), "cluster discovery restart backoff, in seconds")

	return cmd
}

func run(ctx context.Context, cfg agent.Config, debugFlag bool) error {
	cfg.Debug = debugFlag || agent.ReadDebugFlag(cfg.ConfDir, debugFlag)

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Error("invalid configuration, exiting")
		return nil
	}

	logger, closer, err := agent.NewLogger(cfg, cfg.Debug)
	if err != nil {
		return err
	}
	defer closer.Close()
	entry := logrus.NewEntry(logger)

	supervisor, err := agent.NewSupervisor(cfg, entry)
	if err != nil {
		entry.WithError(err).Error("failed to initialize supervisor, exiting")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	defer signal.Stop(reloadCh)

	go agent.WatchDebugFlag(runCtx, cfg.ConfDir, debugFlag, logger, reloadCh)

	go func() {
		<-sigCh
		entry.Info("received shutdown signal")
		cancel()
	}()

	return supervisor.Run(runCtx)
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

func envIntOr(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
