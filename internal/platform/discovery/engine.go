// Package discovery reconstructs a user's upstream balance through the
// provider's only primitive: "consume amount if available". The engine
// drains the balance with probes of halving denominations, tolerating
// timeouts and gateway failures without double-counting.
package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wizardbeard/onepass/internal/platform/upstream"
)

// ErrAccountNotFound reports that the provider has no account for the
// uid and nothing was drained.
var ErrAccountNotFound = errors.New("no upstream account for uid")

const (
	// topDenomination is the first, widest pass: 10,000.00 in cents.
	topDenomination = 1_000_000

	defaultTopParallel = 30
	defaultProbeCap    = 100

	// Launch ramp for wide passes: the first worker starts at once,
	// the next rampWorkers launches are spaced rampDelay apart, the
	// rest start without delay. Avoids a synchronized burst beyond the
	// provider's probe concurrency.
	rampWorkers      = 28
	defaultRampDelay = 10 * time.Millisecond
)

// Prober issues one probe RPC. Satisfied by *upstream.Client and by the
// metering decorator in the server package.
type Prober interface {
	GetPay(ctx context.Context, uid, amount int64, corrID string) upstream.Outcome
}

type Engine struct {
	Prober Prober

	// Timeout bounds each probe attempt locally. A lapsed attempt is
	// retried with the same correlation id, never abandoned.
	Timeout time.Duration

	// TopParallel is the worker budget for the first pass at
	// topDenomination. Halved passes always run with budget 2.
	TopParallel int

	// KeepConsumedOnNotFound controls what a worker reports when the
	// provider answers 404 after earlier Consumed responses. The
	// provider contract says prior debits were spurious and the total
	// is zero; set true to keep them instead.
	KeepConsumedOnNotFound bool

	Log *zap.Logger

	rampDelay time.Duration
	sem       *semaphore.Weighted
}

// NewEngine builds an engine with the default budgets and a probe cap of
// 100 in-flight requests shared by every discovery run.
func NewEngine(p Prober, timeout time.Duration, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Prober:      p,
		Timeout:     timeout,
		TopParallel: defaultTopParallel,
		Log:         log,
		rampDelay:   defaultRampDelay,
		sem:         semaphore.NewWeighted(defaultProbeCap),
	}
}

// Discover drains and returns uid's total upstream balance in cents.
// It runs one wide pass at the top denomination, then halves the
// denomination down to one cent, draining residuals at each step.
// Returns ErrAccountNotFound when the provider reports no account and
// nothing was drained.
func (e *Engine) Discover(ctx context.Context, uid int64) (int64, error) {
	started := time.Now()

	total, missing := e.extractAt(ctx, uid, topDenomination, e.topParallel())
	for denom := int64(topDenomination / 2); denom >= 1; denom /= 2 {
		got, miss := e.extractAt(ctx, uid, denom, 2)
		total += got
		missing = missing || miss
	}

	if missing && total == 0 {
		return 0, ErrAccountNotFound
	}
	e.Log.Info("discovery complete",
		zap.Int64("uid", uid),
		zap.Int64("cents", total),
		zap.Duration("took", time.Since(started)))
	return total, nil
}

func (e *Engine) topParallel() int {
	if e.TopParallel < 2 {
		return defaultTopParallel
	}
	return e.TopParallel
}

// extractAt drains as many units of amount as possible using up to
// budget concurrent workers. Each worker independently consumes units
// until the provider refuses; the result is the sum of their takes.
// missing reports whether any worker saw a 404.
func (e *Engine) extractAt(ctx context.Context, uid, amount int64, budget int) (drained int64, missing bool) {
	var (
		total    atomic.Int64
		notFound atomic.Bool
		wg       sync.WaitGroup
	)
	for i := 0; i < budget; i++ {
		if budget > 2 && i >= 1 && i <= rampWorkers {
			time.Sleep(e.rampDelay)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, found := e.singleProbe(ctx, uid, amount)
			total.Add(got)
			if !found {
				notFound.Store(true)
			}
		}()
	}
	wg.Wait()
	return total.Load(), notFound.Load()
}

// singleProbe consumes units of amount one at a time until the provider
// answers Insufficient or NotFound. The correlation id rotates only
// after a definite Consumed; every unknown outcome retries with the same
// id so the provider can deduplicate a request it may already have
// applied. found is false iff the provider reported 404.
func (e *Engine) singleProbe(ctx context.Context, uid, amount int64) (acc int64, found bool) {
	corrID := uuid.NewString()
	for {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return acc, true
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.Timeout)
		out := e.Prober.GetPay(attemptCtx, uid, amount, corrID)
		cancel()
		e.sem.Release(1)

		switch out.Class {
		case upstream.Consumed:
			acc += amount
			corrID = uuid.NewString()
		case upstream.Insufficient:
			return acc, true
		case upstream.NotFound:
			if e.KeepConsumedOnNotFound {
				return acc, false
			}
			return 0, false
		default:
			// GatewayTimeout, TransportError, BusinessOther, local
			// timeout: outcome unknown, keep corrID and retry.
		}

		if ctx.Err() != nil {
			return acc, true
		}
	}
}
