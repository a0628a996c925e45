package interp

import (
	"context"
	"fmt"
	"sync"

	"relief/pkg/proto"
)

// MockInterpreter provides a controllable Interpreter for testing. Errors
// drain before results, matching how a flaky backend fails then recovers.
type MockInterpreter struct {
	mu          sync.Mutex
	results     []Result
	resultIndex int
	errors      []error
	errorIndex  int
	calls       int
}

// NewMock creates a mock interpreter with predefined results and errors.
func NewMock(results []Result, errors []error) *MockInterpreter {
	return &MockInterpreter{results: results, errors: errors}
}

// Interpret returns the next predefined error or result.
func (m *MockInterpreter) Interpret(_ context.Context, _ proto.Persona, _ string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.errorIndex < len(m.errors) && m.errors[m.errorIndex] != nil {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		return Result{}, err
	}

	if m.resultIndex >= len(m.results) {
		return Result{}, fmt.Errorf("mock interpreter: no more results")
	}

	res := m.results[m.resultIndex]
	m.resultIndex++
	return res, nil
}

// Calls reports how many times Interpret was invoked.
func (m *MockInterpreter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
