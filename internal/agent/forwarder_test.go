package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

type fakeSender struct {
	mu          sync.Mutex
	received    []Event
	maxInFlight int32
	inFlight    int32
	failOn      func(batch []Event) error
	delay       time.Duration
}

func (f *fakeSender) SendEvents(ctx context.Context, events []Event) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&f.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxInFlight, cur, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if f.failOn != nil {
		if err := f.failOn(events); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.received = append(f.received, events...)
	f.mu.Unlock()
	return nil
}

type ForwarderTestSuite struct {
	suite.Suite
}

func TestForwarderSuite(t *testing.T) {
	suite.Run(t, new(ForwarderTestSuite))
}

func (s *ForwarderTestSuite) TestConstructionValidatesBounds() {
	em := NewEventsManager(10)
	logger := logrus.NewEntry(logrus.New())

	s.Run("max_workers must be >= 1", func() {
		_, err := NewForwarder(ForwarderConfig{MaxWorkers: 0, MaxEventsToRead: 10}, em, &fakeSender{}, logger)
		s.ErrorIs(err, ErrConfiguration)
	})

	s.Run("max_events_to_read must be >= 1", func() {
		_, err := NewForwarder(ForwarderConfig{MaxWorkers: 1, MaxEventsToRead: 0}, em, &fakeSender{}, logger)
		s.ErrorIs(err, ErrConfiguration)
	})
}

func (s *ForwarderTestSuite) TestBatchingAndConcurrencyBound() {
	s.Run("1000 events arrive exactly once, never exceeding max_workers in flight", func() {
		em := NewEventsManager(2000)
		sender := &fakeSender{delay: 2 * time.Millisecond}
		logger := logrus.NewEntry(logrus.New())

		fwd, err := NewForwarder(ForwarderConfig{MaxWorkers: 2, MaxEventsToRead: 10, GetEventsTimeout: 50 * time.Millisecond}, em, sender, logger)
		s.Require().NoError(err)

		for i := 0; i < 1000; i++ {
			s.Require().NoError(em.WriteEvent(context.Background(), NewWatchEvent(WatchAdded, map[string]interface{}{"i": float64(i)})))
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- fwd.Start(ctx) }()

		s.Eventually(func() bool {
			sender.mu.Lock()
			defer sender.mu.Unlock()
			return len(sender.received) == 1000
		}, 5*time.Second, 5*time.Millisecond)

		cancel()
		<-done

		s.LessOrEqual(atomic.LoadInt32(&sender.maxInFlight), int32(2))
	})
}

func (s *ForwarderTestSuite) TestFailurePromotion() {
	s.Run("a worker failure is promoted and cancels the pipeline", func() {
		em := NewEventsManager(10)
		wantErr := errors.New("boom")
		sender := &fakeSender{failOn: func(batch []Event) error { return wantErr }}
		logger := logrus.NewEntry(logrus.New())

		fwd, err := NewForwarder(ForwarderConfig{MaxWorkers: 1, MaxEventsToRead: 10, GetEventsTimeout: 20 * time.Millisecond}, em, sender, logger)
		s.Require().NoError(err)

		s.Require().NoError(em.WriteEvent(context.Background(), NewClusterEvent("v1.18")))

		err = fwd.Start(context.Background())
		s.ErrorIs(err, wantErr)
	})
}

func (s *ForwarderTestSuite) TestCancellationReturnsNilWithoutPromotion() {
	s.Run("external cancellation stops the loop without an error", func() {
		em := NewEventsManager(10)
		sender := &fakeSender{}
		logger := logrus.NewEntry(logrus.New())

		fwd, err := NewForwarder(ForwarderConfig{MaxWorkers: 1, MaxEventsToRead: 10, GetEventsTimeout: 20 * time.Millisecond}, em, sender, logger)
		s.Require().NoError(err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		s.NoError(fwd.Start(ctx))
	})
}
