package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// SimulatedProcessor approves every payment up to a limit without moving
// money. It remembers charged requests and answers repeats with the first
// transaction id.
type SimulatedProcessor struct {
	limit  float64
	logger *zap.Logger

	mu      sync.Mutex
	charged map[string]string
}

// NewSimulatedProcessor creates a simulated processor. Amounts above limit
// are declined; a limit of 0 accepts everything.
func NewSimulatedProcessor(limit float64, logger *zap.Logger) *SimulatedProcessor {
	return &SimulatedProcessor{
		limit:   limit,
		logger:  logger,
		charged: make(map[string]string),
	}
}

var _ port.PaymentProcessor = (*SimulatedProcessor)(nil)

// Process simulates a charge
func (p *SimulatedProcessor) Process(_ context.Context, req *entity.PaymentRequest) (*entity.PaymentResult, error) {
	if req == nil {
		return nil, fmt.Errorf("payment request cannot be nil")
	}

	if p.limit > 0 && req.Amount > p.limit {
		p.logger.Info("Simulated payment declined",
			zap.String("request_id", req.ID),
			zap.Float64("amount", req.Amount))
		return &entity.PaymentResult{
			Success: false,
			Message: fmt.Sprintf("amount %.2f exceeds limit %.2f", req.Amount, p.limit),
		}, nil
	}

	p.mu.Lock()
	tx, seen := p.charged[req.ID]
	if !seen {
		tx = "sim-" + uuid.NewString()
		p.charged[req.ID] = tx
	}
	p.mu.Unlock()

	p.logger.Info("Simulated payment processed",
		zap.String("request_id", req.ID),
		zap.String("transaction_id", tx),
		zap.Bool("repeat", seen))

	return &entity.PaymentResult{Success: true, TransactionID: tx, Message: "simulated"}, nil
}
