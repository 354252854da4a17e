package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wizardbeard/onepass/internal/platform/discovery"
	"github.com/wizardbeard/onepass/internal/platform/ledger"
	"github.com/wizardbeard/onepass/internal/platform/upstream"
)

func newBatchStack(t *testing.T, mp *mockProvider) (*BatchService, *ledger.Ledger, *upstream.Client) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	bank := ledger.New()
	client := upstream.NewClient(mp.urls(), zap.NewNop())
	client.HTTP = mp.server.Client()
	engine := discovery.NewEngine(NewMeteredProber(client, metrics), 500*time.Millisecond, zap.NewNop())
	clk := fixedClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	svc := NewBatchService(bank, engine, client, clk, zap.NewNop(), metrics)
	return svc, bank, client
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatalf("batch did not complete")
	}
}

func TestBatchLifecycleCreditsDiscoveredFunds(t *testing.T) {
	mp := newMockProvider(t)
	svc, bank, client := newBatchStack(t, mp)

	if err := client.InitFunds(context.Background(), []upstream.Fund{{UID: 100001, Amount: 88.91}}); err != nil {
		t.Fatalf("seed upstream: %v", err)
	}

	waitDone(t, svc.Run("b1", []int64{100001}))

	got, err := bank.Balance(100001)
	if err != nil {
		t.Fatalf("balance err: %v", err)
	}
	if got != 8891 {
		t.Fatalf("credited balance: got=%d want=8891", got)
	}
	if left := mp.remaining(100001); left != 0 {
		t.Fatalf("upstream residual after drain: %d", left)
	}

	finishes := mp.finishes()
	if len(finishes) != 1 || finishes[0] != "b1" {
		t.Fatalf("finish calls: got=%v want=[b1]", finishes)
	}
}

func TestBatchFansOutOverAllUsers(t *testing.T) {
	mp := newMockProvider(t)
	svc, bank, client := newBatchStack(t, mp)

	seed := []upstream.Fund{
		{UID: 600001, Amount: 88.91},
		{UID: 600002, Amount: 10000.93},
	}
	if err := client.InitFunds(context.Background(), seed); err != nil {
		t.Fatalf("seed upstream: %v", err)
	}

	waitDone(t, svc.Run("b-fanout", []int64{600001, 600002}))

	if got, _ := bank.Balance(600001); got != 8891 {
		t.Fatalf("uid 600001: got=%d want=8891", got)
	}
	if got, _ := bank.Balance(600002); got != 1000093 {
		t.Fatalf("uid 600002: got=%d want=1000093", got)
	}
}

func TestBatchSkipsUsersWithoutUpstreamAccount(t *testing.T) {
	mp := newMockProvider(t)
	svc, bank, _ := newBatchStack(t, mp)

	waitDone(t, svc.Run("b-missing", []int64{424242}))

	if _, err := bank.Balance(424242); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("missing upstream user must not create a ledger account, err=%v", err)
	}
	if finishes := mp.finishes(); len(finishes) != 1 {
		t.Fatalf("finish must still run, calls=%v", finishes)
	}
}

func TestFinishNotificationRetriesUntilAck(t *testing.T) {
	mp := newMockProvider(t)
	mp.finishFailures = 2
	svc, _, _ := newBatchStack(t, mp)

	waitDone(t, svc.Run("b-retry", nil))

	finishes := mp.finishes()
	if len(finishes) != 3 {
		t.Fatalf("finish attempts: got=%d want=3 (two 504s then 200)", len(finishes))
	}
	for _, id := range finishes {
		if id != "b-retry" {
			t.Fatalf("finish batchPayId: got=%v", finishes)
		}
	}
}

func TestFinishNotificationHonorsCustomAttemptTimeout(t *testing.T) {
	mp := newMockProvider(t)
	svc, _, _ := newBatchStack(t, mp)
	svc.FinishTimeout = 50 * time.Millisecond

	waitDone(t, svc.Run("b-slow", nil))

	if finishes := mp.finishes(); len(finishes) == 0 {
		t.Fatalf("expected at least one finish call")
	}
}
