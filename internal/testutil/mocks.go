// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/providers"
)

// MockProvider implements providers.Provider for testing. Exchanges succeed
// for codes registered with AddCode; refreshes use RefreshFunc.
type MockProvider struct {
	mu    sync.Mutex
	key   string
	codes map[string]*providers.Grant
	calls map[string]int

	// RefreshFunc computes the refresh result. Defaults to a fresh one-hour token.
	RefreshFunc func(refreshToken string) (*providers.Grant, error)
	// RefreshGate, when non-nil, blocks every Refresh until it is closed or ctx ends.
	RefreshGate chan struct{}
	// Revoked records every token passed to Revoke.
	Revoked []string

	// Control error injection
	ErrorOnMethod map[string]error
}

// NewMockProvider creates a mock registered under key
func NewMockProvider(key string) *MockProvider {
	return &MockProvider{
		key:           key,
		codes:         make(map[string]*providers.Grant),
		calls:         make(map[string]int),
		ErrorOnMethod: make(map[string]error),
	}
}

// AddCode makes ExchangeCode(code) return grant
func (m *MockProvider) AddCode(code string, grant *providers.Grant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[code] = grant
}

// SetError makes method fail with err; nil clears it
func (m *MockProvider) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.ErrorOnMethod, method)
		return
	}
	m.ErrorOnMethod[method] = err
}

// Calls returns how often method was invoked
func (m *MockProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockProvider) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	return m.ErrorOnMethod[method]
}

func (m *MockProvider) Key() string {
	return m.key
}

func (m *MockProvider) AuthorizationURL(state string) string {
	return fmt.Sprintf("https://%s.example.com/authorize?state=%s", m.key, url.QueryEscape(state))
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code string) (*providers.Grant, error) {
	if err := m.record("ExchangeCode"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	grant, ok := m.codes[code]
	m.mu.Unlock()
	if !ok {
		return nil, errors.ExchangeError(m.key, fmt.Errorf("unknown code %q", code)).WithCode(errors.CodeRejected)
	}
	copied := *grant
	return &copied, nil
}

func (m *MockProvider) Refresh(ctx context.Context, refreshToken string) (*providers.Grant, error) {
	err := m.record("Refresh")

	m.mu.Lock()
	gate := m.RefreshGate
	fn := m.RefreshFunc
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errors.RefreshError(m.key, false, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(refreshToken)
	}
	return &providers.Grant{
		AccessToken: "refreshed-" + refreshToken,
		ExpiresIn:   time.Hour,
		TokenType:   "Bearer",
	}, nil
}

func (m *MockProvider) Revoke(ctx context.Context, token string) error {
	if err := m.record("Revoke"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Revoked = append(m.Revoked, token)
	return nil
}

var _ providers.Provider = (*MockProvider)(nil)

// FakeClock is a manually advanced clock safe for concurrent use
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a clock at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
