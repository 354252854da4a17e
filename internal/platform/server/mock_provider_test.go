package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wizardbeard/onepass/internal/platform/config"
	"github.com/wizardbeard/onepass/internal/platform/money"
	"github.com/wizardbeard/onepass/internal/platform/upstream"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// mockProvider implements the upstream wire protocol over HTTP: per-uid
// balances, transactionId deduplication, requestId echo, seeding, and a
// scriptable run of finish failures.
type mockProvider struct {
	mu             sync.Mutex
	balances       map[int64]int64
	applied        map[string]struct{}
	finishFailures int
	finishCalls    []string

	server *httptest.Server
}

func newMockProvider(t *testing.T) *mockProvider {
	t.Helper()
	mp := &mockProvider{
		balances: make(map[int64]int64),
		applied:  make(map[string]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/getPay", mp.getPay)
	mux.HandleFunc("/initFunds", mp.initFunds)
	mux.HandleFunc("/batchPayFinish", mp.batchPayFinish)
	mp.server = httptest.NewServer(mux)
	t.Cleanup(mp.server.Close)
	return mp
}

func (mp *mockProvider) urls() config.URLs {
	return config.URLs{
		GetPay:         mp.server.URL + "/getPay",
		InitFunds:      mp.server.URL + "/initFunds",
		BatchPayFinish: mp.server.URL + "/batchPayFinish",
	}
}

type providerPayRequest struct {
	TransactionID string  `json:"transactionId"`
	UID           int64   `json:"uid"`
	Amount        float64 `json:"amount"`
}

func (mp *mockProvider) getPay(w http.ResponseWriter, r *http.Request) {
	var req providerPayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	amount := money.ToCents(req.Amount)
	echo := r.Header.Get(upstream.HeaderRequestID)

	mp.mu.Lock()
	code := int32(200)
	switch {
	case !mp.has(req.UID):
		code = 404
	case mp.replay(req.TransactionID):
		code = 200
	case mp.balances[req.UID] < amount:
		code = 501
	default:
		mp.balances[req.UID] -= amount
		mp.applied[req.TransactionID] = struct{}{}
	}
	mp.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":      code,
		"requestId": echo,
		"msg":       "ok",
		"data":      "",
	})
}

func (mp *mockProvider) has(uid int64) bool {
	_, ok := mp.balances[uid]
	return ok
}

func (mp *mockProvider) replay(transactionID string) bool {
	_, ok := mp.applied[transactionID]
	return ok
}

func (mp *mockProvider) initFunds(w http.ResponseWriter, r *http.Request) {
	var funds []upstream.Fund
	if err := json.NewDecoder(r.Body).Decode(&funds); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	mp.mu.Lock()
	for _, f := range funds {
		mp.balances[f.UID] = money.ToCents(f.Amount)
	}
	mp.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (mp *mockProvider) batchPayFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchPayID string `json:"batchPayId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	mp.mu.Lock()
	mp.finishCalls = append(mp.finishCalls, req.BatchPayID)
	failing := mp.finishFailures > 0
	if failing {
		mp.finishFailures--
	}
	mp.mu.Unlock()

	if failing {
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (mp *mockProvider) finishes() []string {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return append([]string(nil), mp.finishCalls...)
}

func (mp *mockProvider) remaining(uid int64) int64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.balances[uid]
}
