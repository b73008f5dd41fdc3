package mocks

import (
	"context"

	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/stretchr/testify/mock"
)

var _ tracing.Sink = (*MockSink)(nil)

// MockSink is a mock implementation of tracing.Sink.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Record(ctx context.Context, event tracing.Event) {
	m.Called(ctx, event)
}
