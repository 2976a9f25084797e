package agent

import (
	"fmt"
	"time"
)

// Config holds every runtime parameter for the cluster agent. It is
// normally populated from environment variables with CLI flag overrides
// (see cmd/cluster-agent), matching the ManagerConfig/DefaultManagerConfig
// documentation style this corpus uses for its own configuration structs.
type Config struct {
	// Token authenticates envelopes to the collector as the HTTP Basic
	// username. Required; no default.
	Token string

	// ClusterName labels every envelope sent to the collector. Required;
	// no default.
	ClusterName string

	// CollectorURL is the POST target for event envelopes.
	// Default: https://collector.epsagon.com/resources/v1
	CollectorURL string

	// Debug selects DEBUG-level logging for the logger NewLogger builds.
	// cmd/cluster-agent sets it when --debug/EPSAGON_DEBUG is true or the
	// conf-dir debug flag reads "true"; once running, WatchDebugFlag sets
	// the level from ReadDebugFlag instead. Default: false.
	Debug bool

	// CollectResources enables list+watch of Pod/Node/Namespace/Deployment.
	// Default: true.
	CollectResources bool

	// CollectEvents enables watching core/v1 Event objects across all
	// namespaces. Default: false.
	CollectEvents bool

	// ConfDir holds the debug-flag file polled/watched for log-level
	// reload. Default: /etc/epsagon.
	ConfDir string

	// MaxWorkers bounds the Forwarder's concurrent send workers.
	// Default: 5.
	MaxWorkers int

	// MaxEventsToRead bounds the size of a single Forwarder batch.
	// Default: 100.
	MaxEventsToRead int

	// GetEventsTimeout bounds how long the Forwarder waits for the first
	// event of a batch. Default: 1s.
	GetEventsTimeout time.Duration

	// RetryIntervalSeconds is ClusterDiscovery's outer restart backoff.
	// Default: 30.
	RetryIntervalSeconds int

	// QueueCapacity bounds the EventsManager's in-memory buffer.
	// Default: 10000.
	QueueCapacity int
}

// DefaultConfig returns a Config with every optional field set to its
// documented default.
func DefaultConfig() Config {
	return Config{
		CollectorURL:         "https://collector.epsagon.com/resources/v1",
		CollectResources:     true,
		CollectEvents:        false,
		ConfDir:              "/etc/epsagon",
		MaxWorkers:           DefaultMaxWorkers,
		MaxEventsToRead:      DefaultMaxEventsToRead,
		GetEventsTimeout:     DefaultGetEventsTimeout,
		RetryIntervalSeconds: 30,
		QueueCapacity:        DefaultQueueCapacity,
	}
}

// Validate checks required fields and numeric bounds, returning
// ErrConfiguration-wrapped errors on failure.
func (c Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: EPSAGON_TOKEN is required", ErrConfiguration)
	}
	if c.ClusterName == "" {
		return fmt.Errorf("%w: EPSAGON_CLUSTER_NAME is required", ErrConfiguration)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("%w: max_workers must be >= 1", ErrConfiguration)
	}
	if c.MaxEventsToRead < 1 {
		return fmt.Errorf("%w: max_events_to_read must be >= 1", ErrConfiguration)
	}
	if c.RetryIntervalSeconds < 0 {
		return fmt.Errorf("%w: retry_interval_seconds must be >= 0", ErrConfiguration)
	}
	return nil
}
