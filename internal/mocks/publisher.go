package mocks

import "github.com/stretchr/testify/mock"

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) ProduceMessage(topic, message string) error {
	args := m.Called(topic, message)
	return args.Error(0)
}
