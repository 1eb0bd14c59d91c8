// Package resilience provides named policies combining circuit breaking,
// retries with exponential backoff, and optional fallbacks for remote calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

// ErrCircuitOpen is returned when a call is rejected without invoking the
// underlying operation.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Well-known policy keys, one per remote dependency.
const (
	PolicyOpenAIChat      = "openai.chat"
	PolicyOpenAIEmbed     = "openai.embed"
	PolicySearchQuery     = "search.query"
	PolicySearchUpsert    = "search.upsert"
	PolicyDocIntelAnalyze = "docintel.analyze"
	PolicyWebSearchFetch  = "websearch.fetch"
)

// Operation is a single attempt against a remote dependency.
type Operation func(ctx context.Context) (any, error)

// Fallback produces a substitute value once the policy has given up.
type Fallback func(ctx context.Context, cause error) (any, error)

// Policy binds a breaker, the shared retry settings, and an optional fallback.
type Policy struct {
	name     string
	breaker  *gobreaker.CircuitBreaker
	retry    config.RetryConfig
	fallback Fallback
}

// Service is the registry of named resilience policies.
type Service struct {
	logger *observability.Logger
	retry  config.RetryConfig

	mu       sync.RWMutex
	policies map[string]*Policy
	breakers map[string]config.BreakerConfig
}

// NewService creates the policy registry from configuration. Policies for the
// well-known keys are created lazily on first use.
func NewService(logger *observability.Logger, cfg config.ResilienceConfig) *Service {
	retry := cfg.Retry
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 30 * time.Second
	}

	return &Service{
		logger:   logger.WithComponent("resilience"),
		retry:    retry,
		policies: make(map[string]*Policy),
		breakers: cfg.CircuitBreaker,
	}
}

// WithFallback attaches a fallback to the named policy.
func (s *Service) WithFallback(key string, fb Fallback) {
	p := s.policy(key)
	s.mu.Lock()
	p.fallback = fb
	s.mu.Unlock()
}

// policy returns the named policy, creating it if absent.
func (s *Service) policy(key string) *Policy {
	s.mu.RLock()
	p, ok := s.policies[key]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[key]; ok {
		return p
	}

	bc := s.breakers[key]
	if bc.FailureThreshold <= 0 {
		bc.FailureThreshold = 5
	}
	if bc.BreakDuration <= 0 {
		bc.BreakDuration = 30 * time.Second
	}

	logger := s.logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     bc.BreakDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(bc.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("policy", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	p = &Policy{name: key, breaker: breaker, retry: s.retry}
	s.policies[key] = p
	return p
}

// State reports the breaker state for a policy key.
func (s *Service) State(key string) gobreaker.State {
	return s.policy(key).breaker.State()
}

// Execute runs op under the named policy: each attempt is admitted by the
// circuit breaker, failed attempts retry with exponential backoff while the
// error classifies as transient, and the fallback (when configured) absorbs
// the final error. Only CircuitOpen, Timeout, UpstreamTerminal, or a
// fallback-produced value leave this layer.
func (s *Service) Execute(ctx context.Context, key string, op Operation) (any, error) {
	ctx, cid := observability.EnsureCorrelationID(ctx)
	p := s.policy(key)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retry.BaseDelay
	bo.MaxInterval = p.retry.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		result, err := p.breaker.Execute(func() (any, error) {
			return op(ctx)
		})
		if err == nil {
			return result, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastErr = domain.NewError(domain.KindCircuitOpen, p.name, ErrCircuitOpen)
			break
		}

		lastErr = err
		if !domain.IsRetryable(err) || attempt == p.retry.MaxRetries {
			break
		}

		delay := bo.NextBackOff()
		if ra := retryAfterOf(err); ra > 0 {
			delay = ra
		}
		if delay > p.retry.MaxDelay {
			delay = p.retry.MaxDelay
		}

		s.logger.WithContext(ctx).Debug().
			Str("policy", p.name).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after transient failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = p.retry.MaxRetries
		}
	}

	s.mu.RLock()
	fb := p.fallback
	s.mu.RUnlock()

	if fb != nil {
		s.logger.WithContext(ctx).Warn().
			Str("policy", p.name).
			Str("correlation_id", cid).
			Err(lastErr).
			Msg("Policy exhausted, invoking fallback")
		return fb(ctx, lastErr)
	}

	return nil, classifyFinal(p.name, lastErr)
}

// Do is a typed wrapper around Execute.
func Do[T any](ctx context.Context, s *Service, key string, op func(ctx context.Context) (T, error)) (T, error) {
	result, err := s.Execute(ctx, key, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := result.(T)
	if !ok {
		var zero T
		return zero, domain.NewError(domain.KindInternal, "unexpected result type from policy execution", nil)
	}
	return v, nil
}

// classifyFinal folds the surviving error into one of the kinds that may
// leave the resilience layer.
func classifyFinal(policy string, err error) error {
	if err == nil {
		return domain.NewError(domain.KindInternal, policy+": no result and no error", nil)
	}
	switch domain.KindOf(err) {
	case domain.KindCircuitOpen, domain.KindTimeout, domain.KindUpstreamTerminal, domain.KindNotFound:
		return err
	case domain.KindUpstreamTransient:
		return domain.NewError(domain.KindUpstreamTerminal, policy+": retries exhausted", err)
	default:
		return err
	}
}

// retryAfterOf extracts an upstream-requested delay, if any.
func retryAfterOf(err error) time.Duration {
	var he *domain.HTTPError
	if errors.As(err, &he) {
		return he.RetryAfter
	}
	return 0
}
