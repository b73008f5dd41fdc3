package mocks

import (
	"context"

	"github.com/dukex/capgraph/pkg/credentials"
	"github.com/stretchr/testify/mock"
)

var _ credentials.Store = (*MockCredentialStore)(nil)

// MockCredentialStore is a mock implementation of credentials.Store.
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Get(ctx context.Context, id string) (map[string]any, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}
