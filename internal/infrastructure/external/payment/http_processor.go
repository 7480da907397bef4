package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// ErrGateway is returned when the gateway cannot be reached or answers with
// a server error
var ErrGateway = errors.New("payment gateway error")

// Config holds payment gateway configuration
type Config struct {
	URL       string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 for unlimited
	Burst     int
}

// chargeRequest is the body POSTed to the gateway
type chargeRequest struct {
	PaymentRequestID string  `json:"payment_request_id"`
	OrgID            string  `json:"org_id"`
	RequesterID      string  `json:"requester_id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Category         string  `json:"category,omitempty"`
	Description      string  `json:"description,omitempty"`
}

type chargeResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// HTTPProcessor implements port.PaymentProcessor against a JSON payment
// gateway. The payment request id is sent as idempotency key, so a retried
// charge is not applied twice by the gateway.
type HTTPProcessor struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPProcessor creates a gateway client
func NewHTTPProcessor(cfg Config, logger *zap.Logger) *HTTPProcessor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPProcessor{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

var _ port.PaymentProcessor = (*HTTPProcessor)(nil)

// Process charges the payment request. A 2xx or 4xx answer is a decision of
// the gateway; 5xx answers and transport failures are errors.
func (p *HTTPProcessor) Process(ctx context.Context, req *entity.PaymentRequest) (*entity.PaymentResult, error) {
	if req == nil {
		return nil, fmt.Errorf("payment request cannot be nil")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("payment rate limit: %w", err)
	}

	body, err := json.Marshal(chargeRequest{
		PaymentRequestID: req.ID,
		OrgID:            req.OrgID,
		RequesterID:      req.RequesterID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Category:         req.Category,
		Description:      req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ID)
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.Error("Payment gateway unreachable", zap.String("request_id", req.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrGateway, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		p.logger.Error("Payment gateway failed",
			zap.String("request_id", req.ID),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	var out chargeResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: invalid response: %v", ErrGateway, err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		out.Success = false
		if out.Message == "" {
			out.Message = fmt.Sprintf("declined with status %d", resp.StatusCode)
		}
	}

	p.logger.Info("Payment processed",
		zap.String("request_id", req.ID),
		zap.Bool("success", out.Success),
		zap.String("transaction_id", out.TransactionID))

	return &entity.PaymentResult{
		Success:       out.Success,
		TransactionID: out.TransactionID,
		Message:       out.Message,
	}, nil
}
