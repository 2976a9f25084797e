package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// DefaultRestartWaitSeconds matches the Python source's RESTART_WAIT_TIME_SECONDS.
const DefaultRestartWaitSeconds = 60

// Supervisor composes EventsManager, ClusterDiscovery, Forwarder, and the
// RemoteClient, owning the restart/shutdown policy described in
// SPEC_FULL.md §4.5.
type Supervisor struct {
	eventsManager *EventsManager
	discovery     *ClusterDiscovery
	forwarder     *Forwarder
	remoteClient  *HTTPRemoteClient
	logger        *logrus.Entry
	restartWait   time.Duration
}

// NewSupervisor validates cfg, loads in-cluster credentials, and wires every
// pipeline component.
func NewSupervisor(cfg Config, logger *logrus.Entry) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: load in-cluster config: %v", ErrRecoverableTransport, err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: build kubernetes client: %v", ErrRecoverableTransport, err)
	}

	return newSupervisor(cfg, clientset, logger)
}

// newSupervisor wires components given an already-constructed clientset,
// split out so tests can supply a fake kubernetes.Interface.
func newSupervisor(cfg Config, clientset kubernetes.Interface, logger *logrus.Entry) (*Supervisor, error) {
	em := NewEventsManager(cfg.QueueCapacity)

	remoteClient, err := NewHTTPRemoteClient(cfg.Token, logger.WithField("component", "remote_client"))
	if err != nil {
		return nil, err
	}

	sender := NewEventsSender(remoteClient, cfg.Token, cfg.ClusterName, cfg.CollectorURL)

	discoveryCfg := DiscoveryConfig{
		RetryIntervalSeconds: cfg.RetryIntervalSeconds,
		CollectResources:     cfg.CollectResources,
		CollectEvents:        cfg.CollectEvents,
	}
	discovery, err := NewClusterDiscovery(clientset, em.WriteEvent, discoveryCfg, logger.WithField("component", "discovery"))
	if err != nil {
		return nil, err
	}

	forwarderCfg := ForwarderConfig{
		MaxWorkers:       cfg.MaxWorkers,
		MaxEventsToRead:  cfg.MaxEventsToRead,
		GetEventsTimeout: cfg.GetEventsTimeout,
	}
	forwarder, err := NewForwarder(forwarderCfg, em, sender, logger.WithField("component", "forwarder"))
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		eventsManager: em,
		discovery:     discovery,
		forwarder:     forwarder,
		remoteClient:  remoteClient,
		logger:        logger,
		restartWait:   DefaultRestartWaitSeconds * time.Second,
	}, nil
}

// Run starts the discovery+forwarder pair and owns the restart/shutdown
// policy: a recoverable-transport error drains the queue and restarts after
// a backoff; any other error closes the RemoteClient and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.discovery.Start(gctx) })
		g.Go(func() error { return s.forwarder.Start(gctx) })

		err := g.Wait()

		if ctx.Err() != nil {
			s.remoteClient.Close()
			return nil
		}
		if err == nil {
			s.remoteClient.Close()
			return nil
		}

		if isRecoverableTransport(err) {
			s.logger.WithError(err).Warn("recoverable transport error, restarting pipeline")
			s.discovery.Stop()
			s.eventsManager.Clean()

			select {
			case <-time.After(s.restartWait):
				continue
			case <-ctx.Done():
				s.remoteClient.Close()
				return nil
			}
		}

		s.logger.WithError(err).Error("unexpected error, shutting down")
		s.remoteClient.Close()
		return err
	}
}
