// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks holds testify mocks for the auth interfaces.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/holomush/credpolicy/internal/auth"
)

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are
// asserted when the test ends.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash provides a mock function.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify provides a mock function.
func (m *MockPasswordHasher) Verify(password, digest string) (bool, error) {
	args := m.Called(password, digest)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade provides a mock function.
func (m *MockPasswordHasher) NeedsUpgrade(digest string) bool {
	args := m.Called(digest)
	return args.Bool(0)
}

var _ auth.PasswordHasher = (*MockPasswordHasher)(nil)
