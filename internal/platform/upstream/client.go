// Package upstream speaks the payment provider's HTTP protocol: the
// probe-and-consume getPay RPC, the batchPayFinish acknowledgement, and
// the initFunds seeding endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wizardbeard/onepass/internal/platform/config"
	"github.com/wizardbeard/onepass/internal/platform/money"
)

const (
	// HeaderRequestID carries a fresh UUIDv4 per HTTP attempt. The
	// provider echoes it back in the response body's requestId.
	HeaderRequestID = "X-KSY-REQUEST-ID"
	// HeaderKingstarID identifies this integration to the provider.
	HeaderKingstarID = "X-KSY-KINGSTAR-ID"

	kingstarID = "20004"
)

// Class is the caller-facing classification of one probe attempt.
type Class int

const (
	// Consumed means the provider definitely debited the probed amount.
	Consumed Class = iota
	// Insufficient means the probed amount exceeds the remaining
	// balance. Nothing was debited.
	Insufficient
	// NotFound means the provider has no account for the uid.
	NotFound
	// BusinessOther is any other business code; treated as transient.
	BusinessOther
	// GatewayTimeout is HTTP 504. The probe outcome is unknown: the
	// provider may or may not have debited.
	GatewayTimeout
	// TransportError covers network errors, unexpected HTTP statuses,
	// unparseable bodies and requestId mismatches. Outcome unknown.
	TransportError
)

func (c Class) String() string {
	switch c {
	case Consumed:
		return "consumed"
	case Insufficient:
		return "insufficient"
	case NotFound:
		return "not_found"
	case BusinessOther:
		return "business_other"
	case GatewayTimeout:
		return "gateway_timeout"
	default:
		return "transport_error"
	}
}

// Outcome is the result of one getPay attempt. Code is the business code
// when the provider answered at all.
type Outcome struct {
	Class Class
	Code  int32
}

// Fund seeds one upstream account; used only through InitFunds.
type Fund struct {
	UID    int64   `json:"uid"`
	Amount float64 `json:"amount"`
}

type getPayRequest struct {
	TransactionID string  `json:"transactionId"`
	UID           int64   `json:"uid"`
	Amount        float64 `json:"amount"`
}

type getPayResponse struct {
	Code      int32  `json:"code"`
	RequestID string `json:"requestId"`
	Msg       string `json:"msg"`
	Data      string `json:"data"`
}

type finishRequest struct {
	BatchPayID string `json:"batchPayId"`
}

type Client struct {
	HTTP *http.Client
	URLs config.URLs
	Log  *zap.Logger
}

func NewClient(urls config.URLs, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{HTTP: &http.Client{}, URLs: urls, Log: log}
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set(HeaderKingstarID, kingstarID)
	return c.HTTP.Do(req)
}

// GetPay issues one probe for amount cents against uid, identified by
// corrID. The provider deduplicates on corrID, so a caller that reuses
// it across retries is asking for the same logical debit.
func (c *Client) GetPay(ctx context.Context, uid, amount int64, corrID string) Outcome {
	body, err := json.Marshal(getPayRequest{
		TransactionID: corrID,
		UID:           uid,
		Amount:        money.FromCents(amount),
	})
	if err != nil {
		return Outcome{Class: TransportError}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URLs.GetPay, bytes.NewReader(body))
	if err != nil {
		return Outcome{Class: TransportError}
	}
	attemptID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, attemptID)
	req.Header.Set(HeaderKingstarID, kingstarID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{Class: TransportError}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGatewayTimeout {
		return Outcome{Class: GatewayTimeout}
	}
	if resp.StatusCode != http.StatusOK {
		c.Log.Debug("getPay unexpected status",
			zap.Int64("uid", uid), zap.Int("status", resp.StatusCode))
		return Outcome{Class: TransportError}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Class: TransportError}
	}
	var parsed getPayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Outcome{Class: TransportError}
	}
	if parsed.RequestID != attemptID {
		c.Log.Debug("getPay requestId mismatch",
			zap.Int64("uid", uid), zap.String("got", parsed.RequestID))
		return Outcome{Class: TransportError}
	}

	switch parsed.Code {
	case 200:
		return Outcome{Class: Consumed, Code: parsed.Code}
	case 501:
		return Outcome{Class: Insufficient, Code: parsed.Code}
	case 404:
		return Outcome{Class: NotFound, Code: parsed.Code}
	default:
		return Outcome{Class: BusinessOther, Code: parsed.Code}
	}
}

// BatchPayFinish tells the provider the batch is complete. Only the HTTP
// status is consulted; anything but 200 is an error the caller retries.
func (c *Client) BatchPayFinish(ctx context.Context, batchID string) error {
	body, err := json.Marshal(finishRequest{BatchPayID: batchID})
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, c.URLs.BatchPayFinish, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("batchPayFinish status %d", resp.StatusCode)
	}
	return nil
}

// InitFunds seeds provider accounts. The response body is ignored; only
// transport failures surface. Used by tests and operational tooling.
func (c *Client) InitFunds(ctx context.Context, funds []Fund) error {
	body, err := json.Marshal(funds)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, c.URLs.InitFunds, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
