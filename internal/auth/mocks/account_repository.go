// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/credpolicy/internal/auth"
)

// MockAccountRepository is a mock auth.AccountRepository.
//
// Update calls fn with the *auth.Account returned by the expectation when it
// is non-nil, so tests can observe what the callback did.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a MockAccountRepository whose
// expectations are asserted when the test ends.
func NewMockAccountRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

// GetByUsername provides a mock function.
func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	args := m.Called(ctx, username)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

// Update provides a mock function. The expectation returns
// (*auth.Account, error); a non-nil account is passed to fn and fn's error
// is returned when the expectation's error is nil.
func (m *MockAccountRepository) Update(ctx context.Context, username string, fn auth.UpdateFunc) error {
	args := m.Called(ctx, username, fn)
	if err := args.Error(1); err != nil {
		return err
	}
	if account, ok := args.Get(0).(*auth.Account); ok && account != nil {
		return fn(account)
	}
	return nil
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)
