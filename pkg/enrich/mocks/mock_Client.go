// Package mocks provides test doubles for the enrich client.
package mocks

import (
	"context"

	enrich "github.com/sells-group/procure-cli/pkg/enrich"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Lookup provides a mock function with given fields: ctx, req
func (_m *MockClient) Lookup(ctx context.Context, req enrich.LookupRequest) (*enrich.Signals, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Lookup")
	}

	var r0 *enrich.Signals
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, enrich.LookupRequest) (*enrich.Signals, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, enrich.LookupRequest) *enrich.Signals); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*enrich.Signals)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, enrich.LookupRequest) error); ok {
		r1 = rf(ctx, req)
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
