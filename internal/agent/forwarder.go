package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Defaults mirror the Python Forwarder's DEFAULT_* constants.
const (
	DefaultMaxWorkers       = 5
	DefaultMaxEventsToRead  = 100
	DefaultGetEventsTimeout = time.Second
)

// EventsSender ships a batch of events to the collector.
type EventsSender interface {
	SendEvents(ctx context.Context, events []Event) error
}

// ForwarderConfig bounds the Forwarder's worker pool and batch size.
type ForwarderConfig struct {
	// MaxWorkers bounds concurrent send workers. Must be >= 1. Default: 5.
	MaxWorkers int

	// MaxEventsToRead bounds events read per batch. Must be >= 1. Default: 100.
	MaxEventsToRead int

	// GetEventsTimeout bounds how long a batch read waits for its first
	// event. Default: 1s.
	GetEventsTimeout time.Duration
}

// DefaultForwarderConfig returns the documented defaults.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		MaxWorkers:       DefaultMaxWorkers,
		MaxEventsToRead:  DefaultMaxEventsToRead,
		GetEventsTimeout: DefaultGetEventsTimeout,
	}
}

// Forwarder reads batches off an EventsManager and ships them through an
// EventsSender using a bounded worker pool. The pool bound is enforced by a
// weighted semaphore rather than a counted WaitGroup, so "running workers <=
// max workers" holds by construction.
type Forwarder struct {
	cfg           ForwarderConfig
	eventsManager *EventsManager
	sender        EventsSender
	sem           *semaphore.Weighted
	logger        *logrus.Entry
}

// NewForwarder validates cfg and builds a Forwarder.
func NewForwarder(cfg ForwarderConfig, em *EventsManager, sender EventsSender, logger *logrus.Entry) (*Forwarder, error) {
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("%w: max_workers must be >= 1", ErrConfiguration)
	}
	if cfg.MaxEventsToRead < 1 {
		return nil, fmt.Errorf("%w: max_events_to_read must be >= 1", ErrConfiguration)
	}
	if cfg.GetEventsTimeout <= 0 {
		cfg.GetEventsTimeout = DefaultGetEventsTimeout
	}
	return &Forwarder{
		cfg:           cfg,
		eventsManager: em,
		sender:        sender,
		sem:           semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		logger:        logger,
	}, nil
}

// Start runs the main batch-read/spawn loop until ctx is cancelled or a
// worker fails with a non-cancellation error, which is promoted to the
// caller after every other in-flight worker is cancelled and drained.
func (f *Forwarder) Start(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed error
	)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		if ctx.Err() != nil {
			cancel()
			wg.Wait()
			return nil
		}

		mu.Lock()
		err := failed
		mu.Unlock()
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}

		batch := f.eventsManager.GetEvents(ctx, f.cfg.MaxEventsToRead, f.cfg.GetEventsTimeout)
		if len(batch) == 0 {
			continue
		}

		if acquireErr := f.sem.Acquire(workerCtx, 1); acquireErr != nil {
			// workerCtx was cancelled while waiting for a free slot, either
			// externally or by a failed worker whose error is promoted.
			wg.Wait()
			mu.Lock()
			err := failed
			mu.Unlock()
			return err
		}

		wg.Add(1)
		go func(batch []Event) {
			defer wg.Done()
			defer f.sem.Release(1)

			if sendErr := f.sender.SendEvents(workerCtx, batch); sendErr != nil {
				if workerCtx.Err() != nil {
					return // cancellation, not promoted
				}
				mu.Lock()
				if failed == nil {
					failed = sendErr
				}
				mu.Unlock()
				cancel()
			}
		}(batch)
	}
}
