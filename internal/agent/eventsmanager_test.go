package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type EventsManagerTestSuite struct {
	suite.Suite
}

func TestEventsManagerSuite(t *testing.T) {
	suite.Run(t, new(EventsManagerTestSuite))
}

func (s *EventsManagerTestSuite) TestGetEventsEmptyAfterTimeout() {
	s.Run("returns empty when the queue stays empty for the full timeout", func() {
		m := NewEventsManager(10)
		batch := m.GetEvents(context.Background(), 5, 20*time.Millisecond)
		s.Empty(batch)
	})
}

func (s *EventsManagerTestSuite) TestGetEventsRejectsNonPositiveMaxSize() {
	s.Run("maxSize < 1 returns empty immediately", func() {
		m := NewEventsManager(10)
		s.Require().NoError(m.WriteEvent(context.Background(), NewClusterEvent("v1.18")))
		s.Empty(m.GetEvents(context.Background(), 0, time.Second))
	})
}

func (s *EventsManagerTestSuite) TestGetEventsDrainsWithoutBlockingAgain() {
	s.Run("first event blocks, the rest drain non-blockingly up to maxSize", func() {
		m := NewEventsManager(10)
		for i := 0; i < 3; i++ {
			s.Require().NoError(m.WriteEvent(context.Background(), NewClusterEvent("v1.18")))
		}

		batch := m.GetEvents(context.Background(), 2, time.Second)
		s.Len(batch, 2)
		s.True(m.IsEmpty() == false, "one event should remain after a bounded drain")
	})

	s.Run("drain stops when the queue empties before maxSize", func() {
		m := NewEventsManager(10)
		s.Require().NoError(m.WriteEvent(context.Background(), NewClusterEvent("v1.18")))

		batch := m.GetEvents(context.Background(), 10, time.Second)
		s.Len(batch, 1)
	})
}

func (s *EventsManagerTestSuite) TestCleanDropsPendingEvents() {
	s.Run("Clean followed by IsEmpty returns true", func() {
		m := NewEventsManager(10)
		s.Require().NoError(m.WriteEvent(context.Background(), NewClusterEvent("v1.18")))
		m.Clean()
		s.True(m.IsEmpty())
	})
}

func (s *EventsManagerTestSuite) TestCloseUnblocksReaders() {
	s.Run("a blocked GetEvent returns immediately once Close is called", func() {
		m := NewEventsManager(10)
		done := make(chan bool, 1)

		go func() {
			_, ok := m.GetEvent(context.Background())
			done <- ok
		}()

		time.Sleep(10 * time.Millisecond)
		m.Close()

		select {
		case ok := <-done:
			s.False(ok)
		case <-time.After(time.Second):
			s.Fail("GetEvent did not return after Close")
		}
	})
}

func (s *EventsManagerTestSuite) TestOrderingPreserved() {
	s.Run("events are delivered in write order", func() {
		m := NewEventsManager(10)
		for i := 0; i < 5; i++ {
			s.Require().NoError(m.WriteEvent(context.Background(), NewWatchEvent(WatchAdded, map[string]interface{}{"i": float64(i)})))
		}

		batch := m.GetEvents(context.Background(), 5, time.Second)
		s.Require().Len(batch, 5)
		for i, e := range batch {
			we := e.(WatchEvent)
			s.Equal(float64(i), we.Object["i"])
		}
	})
}
