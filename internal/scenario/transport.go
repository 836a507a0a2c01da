package scenario

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loopcheck-ai/loopcheck/internal/learner"
)

// Factory builds the learner constructor the orchestrator calls, both at
// the start of the run and again after a restart transition. Fault and
// rate-limit decorators from the transport config wrap every handle the
// factory hands out.
func (s *Scenario) Factory(logger *slog.Logger, harnessVersion string) (learner.Factory, error) {
	var base learner.Factory

	switch s.Transport.Kind {
	case TransportMock:
		cfg := learner.MockConfig{}
		if m := s.Transport.Mock; m != nil {
			cfg.Qualities = m.Qualities
			cfg.InputTokens = m.InputTokens
			cfg.OutputTokens = m.OutputTokens
			cfg.Latency = time.Duration(m.LatencyMS) * time.Millisecond
			cfg.EvolveEvery = m.EvolveEvery
		}
		root, namespace := s.MemoriesDir, s.Namespace
		base = func() (learner.Learner, error) {
			return learner.NewMockLearner(root, namespace, cfg)
		}

	case TransportRPC:
		cfg := learner.RPCConfig{
			Command:         s.Transport.Command,
			Namespace:       s.Namespace,
			PersistenceRoot: s.MemoriesDir,
			HarnessVersion:  harnessVersion,
		}
		base = func() (learner.Learner, error) {
			return learner.StartRPC(cfg, logger)
		}

	default:
		return nil, fmt.Errorf("unknown transport kind %q", s.Transport.Kind)
	}

	fault := s.Transport.Fault
	limit := s.Transport.RateLimit
	if fault == nil && limit == nil {
		return base, nil
	}

	return func() (learner.Learner, error) {
		l, err := base()
		if err != nil {
			return nil, err
		}
		if fault != nil {
			cfg := learner.FaultConfig{
				TransientRate: fault.TransientRate,
				FatalRate:     fault.FatalRate,
				LatencyJitter: time.Duration(fault.LatencyJitterMS) * time.Millisecond,
				TimeoutAfter:  time.Duration(fault.TimeoutAfterMS) * time.Millisecond,
			}
			if fault.Seed != 0 {
				l = learner.NewFaultInjectorWithSeed(l, cfg, fault.Seed)
			} else {
				l = learner.NewFaultInjector(l, cfg)
			}
		}
		if limit != nil {
			limited, err := learner.NewRateLimitedLearner(l, learner.RateLimitConfig{
				RequestsPerMinute: limit.RequestsPerMinute,
				Burst:             limit.Burst,
			})
			if err != nil {
				l.Close()
				return nil, err
			}
			l = limited
		}
		return l, nil
	}, nil
}
