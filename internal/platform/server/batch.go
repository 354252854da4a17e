package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wizardbeard/onepass/internal/platform/clock"
	"github.com/wizardbeard/onepass/internal/platform/discovery"
	"github.com/wizardbeard/onepass/internal/platform/ledger"
)

const defaultFinishTimeout = 600 * time.Millisecond

// Finisher acknowledges batch completion to the upstream. Satisfied by
// *upstream.Client.
type Finisher interface {
	BatchPayFinish(ctx context.Context, batchID string) error
}

// BatchService runs admitted batches to completion in the background:
// discovery fan-out over all uids, ledger credits, then the finish
// notification loop. Admission itself happens in the HTTP handler; once
// a batch is running nothing cancels it short of process exit.
type BatchService struct {
	Ledger   *ledger.Ledger
	Engine   *discovery.Engine
	Upstream Finisher
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *Metrics

	// FinishTimeout bounds each batchPayFinish attempt. Attempts repeat
	// until the upstream answers 200.
	FinishTimeout time.Duration
}

func NewBatchService(l *ledger.Ledger, e *discovery.Engine, f Finisher, clk clock.Clock, log *zap.Logger, m *Metrics) *BatchService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchService{
		Ledger:        l,
		Engine:        e,
		Upstream:      f,
		Clock:         clk,
		Log:           log,
		Metrics:       m,
		FinishTimeout: defaultFinishTimeout,
	}
}

// Run starts the batch on a detached background task and returns
// immediately. The returned channel closes once the upstream has
// acknowledged the finish notification; callers other than tests ignore
// it.
func (s *BatchService) Run(batchID string, uids []int64) <-chan struct{} {
	done := make(chan struct{})
	go s.run(context.Background(), batchID, uids, done)
	return done
}

func (s *BatchService) run(ctx context.Context, batchID string, uids []int64, done chan<- struct{}) {
	defer close(done)
	started := s.Clock.Now()
	s.Log.Info("batch started",
		zap.String("batchPayId", batchID), zap.Int("users", len(uids)))

	g, gctx := errgroup.WithContext(ctx)
	for _, uid := range uids {
		uid := uid
		s.Metrics.batchUsersTotal.Inc()
		g.Go(func() error {
			amount, err := s.Engine.Discover(gctx, uid)
			if errors.Is(err, discovery.ErrAccountNotFound) {
				s.Log.Info("uid has no upstream account",
					zap.String("batchPayId", batchID), zap.Int64("uid", uid))
				return nil
			}
			if err != nil {
				return err
			}
			s.Ledger.Credit(uid, amount)
			s.Metrics.discoveredCents.Add(float64(amount))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.Log.Error("batch discovery aborted",
			zap.String("batchPayId", batchID), zap.Error(err))
	}

	s.notifyFinish(ctx, batchID)
	s.Log.Info("batch finished",
		zap.String("batchPayId", batchID),
		zap.Duration("took", s.Clock.Now().Sub(started)))
}

// notifyFinish retries batchPayFinish until the upstream answers 200.
// Each attempt gets its own timeout; 504s, transport errors and lapsed
// attempts all loop.
func (s *BatchService) notifyFinish(ctx context.Context, batchID string) {
	timeout := s.FinishTimeout
	if timeout <= 0 {
		timeout = defaultFinishTimeout
	}
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.Upstream.BatchPayFinish(attemptCtx, batchID)
		cancel()
		if err == nil {
			s.Metrics.finishAttemptsTotal.WithLabelValues("ok").Inc()
			return
		}
		s.Metrics.finishAttemptsTotal.WithLabelValues("retry").Inc()
		s.Log.Warn("batchPayFinish retry",
			zap.String("batchPayId", batchID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if ctx.Err() != nil {
			return
		}
	}
}
