package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"sync"
	"syscall"
	"time"
)

// Retry policy defaults.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultMultiplier  = 2.0
	defaultMaxDelay    = 30 * time.Second
)

// RetryPolicy controls retry behaviour for transient failures.
// Supplied at construction, immutable thereafter.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first try included.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Default: 1s.
	BaseDelay time.Duration

	// Multiplier is the exponential backoff factor. Default: 2.0.
	Multiplier float64

	// MaxDelay caps each computed delay. Default: 30s.
	MaxDelay time.Duration

	// Jitter scales each delay by a uniform factor in [0.5, 1.0].
	Jitter bool
}

// withDefaults returns the policy with zero fields replaced by defaults.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaultMultiplier
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Delay returns the backoff before retry n, counting from 0: the first
// retry waits BaseDelay, the second BaseDelay×Multiplier, and so on,
// capped at MaxDelay. Jitter is applied by the executor, not here.
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry)))
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	return d
}

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// IsTransient is the default classifier: network timeouts, refused and
// reset connections, and closed-pipe errors are transient. Everything
// else (protocol rejections, authentication failures, state vetoes) is
// terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Executor applies the retry policy and circuit breaker around device
// operations. One Executor exists per device; operations are named so
// statistics can be kept per operation.
//
// Thread Safety: all methods are safe for concurrent use.
type Executor struct {
	policy  RetryPolicy
	breaker *Breaker

	classify Classifier
	sleep    func(ctx context.Context, d time.Duration) error
	randF    func() float64

	stats   map[string]*opStats
	statsMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewExecutor creates an Executor around the given breaker.
//
// Parameters:
//   - policy: Retry policy; zero fields take documented defaults
//   - breaker: Circuit breaker shared with nothing else (one per device)
func NewExecutor(policy RetryPolicy, breaker *Breaker) *Executor {
	return &Executor{
		policy:   policy.withDefaults(),
		breaker:  breaker,
		classify: IsTransient,
		sleep:    sleepCtx,
		randF:    rand.Float64,
		stats:    make(map[string]*opStats),
	}
}

// SetClassifier replaces the transient-error classifier.
func (e *Executor) SetClassifier(c Classifier) {
	if c != nil {
		e.classify = c
	}
}

// SetLogger sets the logger for this executor.
func (e *Executor) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

// Breaker returns the executor's circuit breaker for state inspection.
func (e *Executor) Breaker() *Breaker {
	return e.breaker
}

// Execute runs fn under the breaker and retry policy.
//
// Transient failures are retried with backoff until the policy is
// exhausted; the last error is then returned. Terminal errors return on
// first occurrence. The breaker records one outcome per Execute call, so
// its consecutive-failure count advances per operation, not per attempt.
//
// Parameters:
//   - ctx: Cancels backoff sleeps and is passed through to fn
//   - op: Operation name for statistics ("power_on", "query_status", ...)
//   - fn: The operation; must honour ctx
//
// Returns:
//   - error: nil on success; *CircuitOpenError when short-circuited;
//     otherwise the final attempt's error
func (e *Executor) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	st := e.opStats(op)

	if err := e.breaker.Allow(); err != nil {
		st.rejection()
		return err
	}

	start := time.Now()
	var err error
	for retry := 0; ; retry++ {
		st.attempt()
		err = fn(ctx)
		if err == nil {
			e.breaker.RecordSuccess()
			st.success(time.Since(start))
			return nil
		}

		if !e.classify(err) {
			// Terminal: the device answered or the call was vetoed
			// before the network. Retrying cannot change the outcome.
			break
		}
		if retry >= e.policy.MaxAttempts-1 {
			break
		}

		delay := e.policy.Delay(retry)
		if e.policy.Jitter {
			// Uniform factor in [0.5, 1.0].
			delay = time.Duration(float64(delay) * (0.5 + 0.5*e.randF()))
		}
		e.logWarn("transient failure, retrying", "op", op, "retry", retry+1, "delay", delay.String(), "error", err)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			err = fmt.Errorf("retry abandoned: %w", sleepErr)
			break
		}
	}

	e.breaker.RecordFailure()
	st.failure(time.Since(start))
	return err
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// logWarn logs a warning if a logger is set.
func (e *Executor) logWarn(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
