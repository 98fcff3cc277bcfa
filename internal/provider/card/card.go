package card

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cradoe/lendflow/internal/models"
)

var (
	ErrDeclined    = errors.New("card declined")
	ErrTimeout     = errors.New("gateway timeout")
	ErrServer      = errors.New("gateway 5xx")
	ErrClient      = errors.New("gateway 4xx")
	ErrCircuitOpen = errors.New("circuit open")
)

type ChargeRequest struct {
	Token          string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Description    string
}

type ChargeResult struct {
	ProviderTxID string
}

// Provider charges a tokenized card synchronously. Requests carrying an IdempotencyKey
// that was already charged return the original result.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// PaymentMethodVault looks up the saved instrument used for recurring charges.
type PaymentMethodVault interface {
	Default(ctx context.Context, userID string) (*models.SavedPaymentMethod, bool, error)
}

// Sandbox approves every charge except tokens prefixed with "tok_decline". It keeps
// idempotency keys in memory.
type Sandbox struct {
	mu   sync.Mutex
	seen map[string]ChargeResult
	seq  int
}

func NewSandbox() *Sandbox {
	return &Sandbox{seen: make(map[string]ChargeResult)}
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}

	if req.Amount <= 0 {
		return ChargeResult{}, fmt.Errorf("%w: amount must be positive", ErrClient)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.seen[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return res, nil
	}

	if strings.HasPrefix(req.Token, "tok_decline") {
		return ChargeResult{}, ErrDeclined
	}

	s.seq++
	res := ChargeResult{ProviderTxID: fmt.Sprintf("sandbox_%06d", s.seq)}
	if req.IdempotencyKey != "" {
		s.seen[req.IdempotencyKey] = res
	}

	return res, nil
}
