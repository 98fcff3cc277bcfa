package mocks

import (
	"context"

	"github.com/cradoe/lendflow/internal/provider/card"
	"github.com/stretchr/testify/mock"
)

type MockCardProvider struct {
	mock.Mock
}

func (m *MockCardProvider) Charge(ctx context.Context, req card.ChargeRequest) (card.ChargeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(card.ChargeResult), args.Error(1)
}
