package agent

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) TestDefaultConfigIsInvalidWithoutCredentials() {
	s.Run("a default Config still requires token and cluster name", func() {
		cfg := DefaultConfig()
		s.ErrorIs(cfg.Validate(), ErrConfiguration)
	})
}

func (s *ConfigTestSuite) TestValidConfigPasses() {
	s.Run("token and cluster name satisfy validation against the defaults", func() {
		cfg := DefaultConfig()
		cfg.Token = "tok"
		cfg.ClusterName = "prod"
		s.NoError(cfg.Validate())
	})
}

func (s *ConfigTestSuite) TestBoundsAreEnforced() {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Token = "tok"
		cfg.ClusterName = "prod"
		return cfg
	}

	s.Run("max_workers below 1 is rejected", func() {
		cfg := base()
		cfg.MaxWorkers = 0
		s.ErrorIs(cfg.Validate(), ErrConfiguration)
	})

	s.Run("max_events_to_read below 1 is rejected", func() {
		cfg := base()
		cfg.MaxEventsToRead = 0
		s.ErrorIs(cfg.Validate(), ErrConfiguration)
	})

	s.Run("negative retry_interval_seconds is rejected", func() {
		cfg := base()
		cfg.RetryIntervalSeconds = -1
		s.ErrorIs(cfg.Validate(), ErrConfiguration)
	})
}
