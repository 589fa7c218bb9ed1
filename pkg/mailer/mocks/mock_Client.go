// Package mocks provides test doubles for the mailer client.
package mocks

import (
	"context"

	mailer "github.com/sells-group/procure-cli/pkg/mailer"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Send provides a mock function with given fields: ctx, msg
func (_m *MockClient) Send(ctx context.Context, msg mailer.Message) (*mailer.SendResult, error) {
	ret := _m.Called(ctx, msg)

	if len(ret) == 0 {
		panic("no return value specified for Send")
	}

	var r0 *mailer.SendResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, mailer.Message) (*mailer.SendResult, error)); ok {
		return rf(ctx, msg)
	}
	if rf, ok := ret.Get(0).(func(context.Context, mailer.Message) *mailer.SendResult); ok {
		r0 = rf(ctx, msg)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*mailer.SendResult)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, mailer.Message) error); ok {
		r1 = rf(ctx, msg)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
