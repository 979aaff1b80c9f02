package bootstrap

import (
	"github.com/sony/gobreaker"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/pkg/circuitbreaker"
)

// NewBreaker builds the breaker for an outbound collaborator, or nil when
// breaking is disabled.
func NewBreaker(name string, cfg config.CircuitBreakerConfig) *circuitbreaker.Wrapper {
	if !cfg.Enabled {
		return nil
	}

	breakerCfg := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		breakerCfg.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		breakerCfg.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		breakerCfg.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		ratio := cfg.FailureRatio
		minRequests := cfg.MinRequests
		breakerCfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		}
	}

	return circuitbreaker.NewWrapper(breakerCfg)
}
