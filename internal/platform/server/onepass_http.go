package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wizardbeard/onepass/internal/platform/idempotency"
	"github.com/wizardbeard/onepass/internal/platform/ledger"
	"github.com/wizardbeard/onepass/internal/platform/money"
	"github.com/wizardbeard/onepass/internal/platform/upstream"
)

// OnePassHandler serves the three reconciliation endpoints under
// /onePass. Batch admission answers synchronously; discovery and finish
// notification run on the batch service's background task.
type OnePassHandler struct {
	Batches *BatchService
	Ledger  *ledger.Ledger
	Cache   *idempotency.Cache
	Metrics *Metrics
	Log     *zap.Logger
}

func (h *OnePassHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/onePass/batchPay", h.batchPay)
	mux.HandleFunc("/onePass/userTrade", h.userTrade)
	mux.HandleFunc("/onePass/queryUserAmount", h.queryUserAmount)
}

type batchPayRequest struct {
	BatchPayID string  `json:"batchPayId"`
	UIDs       []int64 `json:"uids"`
}

type userTradeRequest struct {
	SourceUID int64   `json:"sourceUid"`
	TargetUID int64   `json:"targetUid"`
	Amount    float64 `json:"amount"`
}

type userAmount struct {
	UID    int64   `json:"uid"`
	Amount float64 `json:"amount"`
}

type okResponse struct {
	Msg       string `json:"msg"`
	Code      int    `json:"code"`
	RequestID string `json:"requestId"`
}

type queryResponse struct {
	Code      int          `json:"code"`
	Msg       string       `json:"msg"`
	RequestID string       `json:"requestId"`
	Data      []userAmount `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, requestID string) {
	writeJSON(w, http.StatusOK, okResponse{Msg: "ok", Code: 200, RequestID: requestID})
}

func writeError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *OnePassHandler) batchPay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := r.Header.Get(upstream.HeaderRequestID)

	var req batchPayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "malformed request body")
		return
	}
	if req.BatchPayID == "" {
		writeError(w, "batchPayId is required")
		return
	}
	if !h.Cache.AdmitBatch(req.BatchPayID) {
		h.Metrics.batchesTotal.WithLabelValues("duplicate").Inc()
		writeError(w, "batchPayId already exist")
		return
	}

	h.Metrics.batchesTotal.WithLabelValues("ok").Inc()
	h.Batches.Run(req.BatchPayID, req.UIDs)
	writeOK(w, requestID)
}

func (h *OnePassHandler) userTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := r.Header.Get(upstream.HeaderRequestID)
	if requestID == "" {
		h.Metrics.tradesTotal.WithLabelValues("invalid").Inc()
		writeError(w, "X-KSY-REQUEST-ID is required")
		return
	}

	var req userTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Metrics.tradesTotal.WithLabelValues("invalid").Inc()
		writeError(w, "malformed request body")
		return
	}
	amount := money.ToCents(req.Amount)
	if amount <= 0 {
		h.Metrics.tradesTotal.WithLabelValues("invalid").Inc()
		writeError(w, "amount must be positive")
		return
	}

	// The request id doubles as the trade idempotency key. Admission
	// precedes the transfer, so a rejected transfer still consumes it.
	if !h.Cache.AdmitTrade(requestID) {
		h.Metrics.tradesTotal.WithLabelValues("duplicate").Inc()
		writeError(w, "requestId already exist")
		return
	}

	err := h.Ledger.Transfer(req.SourceUID, req.TargetUID, amount)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		h.Metrics.tradesTotal.WithLabelValues("not_found").Inc()
		writeError(w, "can not find the account")
		return
	case errors.Is(err, ledger.ErrInsufficientFunds):
		h.Metrics.tradesTotal.WithLabelValues("insufficient").Inc()
		writeError(w, "insufficient balance")
		return
	case err != nil:
		h.Metrics.tradesTotal.WithLabelValues("invalid").Inc()
		writeError(w, err.Error())
		return
	}

	h.Metrics.tradesTotal.WithLabelValues("ok").Inc()
	h.Log.Info("trade applied",
		zap.Int64("sourceUid", req.SourceUID),
		zap.Int64("targetUid", req.TargetUID),
		zap.Int64("cents", amount))
	writeOK(w, requestID)
}

func (h *OnePassHandler) queryUserAmount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := r.Header.Get(upstream.HeaderRequestID)

	var uids []int64
	if err := json.NewDecoder(r.Body).Decode(&uids); err != nil {
		writeError(w, "malformed request body")
		return
	}

	data := make([]userAmount, 0, len(uids))
	for _, uid := range uids {
		balance, err := h.Ledger.Balance(uid)
		if err != nil {
			balance = 0
		}
		data = append(data, userAmount{UID: uid, Amount: money.FromCents(balance)})
	}
	writeJSON(w, http.StatusOK, queryResponse{Code: 200, Msg: "ok", RequestID: requestID, Data: data})
}
