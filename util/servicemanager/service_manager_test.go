package servicemanager

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	name      string
	failOn    string
	notReady  bool
	healthy   bool
	mu        sync.Mutex
	order     *[]string
	initCount int
	stopCount int
}

func newMockService(name string, order *[]string) *mockService {
	return &mockService{name: name, healthy: true, order: order}
}

func (m *mockService) Init(_ context.Context) error {
	m.mu.Lock()
	m.initCount++
	m.mu.Unlock()

	if m.failOn == "init" {
		return errors.NewServiceError("%s init failed", m.name)
	}

	return nil
}

func (m *mockService) Start(ctx context.Context, readyCh chan<- struct{}) error {
	m.mu.Lock()
	if m.order != nil {
		*m.order = append(*m.order, m.name)
	}
	m.mu.Unlock()

	if m.failOn == "start" {
		return errors.NewServiceError("%s start failed", m.name)
	}

	if !m.notReady {
		close(readyCh)
	}

	<-ctx.Done()

	return ctx.Err()
}

func (m *mockService) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCount++

	return nil
}

func (m *mockService) Health(_ context.Context, _ bool) (int, string, error) {
	if !m.healthy {
		return http.StatusServiceUnavailable, "degraded", nil
	}

	return http.StatusOK, "ok", nil
}

func TestServiceManagerStartsInOrder(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})

	var order []string

	services := []*mockService{
		newMockService("store", &order),
		newMockService("chain", &order),
		newMockService("lottery", &order),
	}

	for _, s := range services {
		require.NoError(t, sm.AddService(s.name, s))
	}

	require.NoError(t, sm.WaitForServicesToBeReady())
	assert.Empty(t, sm.ServicesNotReady())

	assert.Equal(t, []string{"store", "chain", "lottery"}, order)

	sm.Shutdown()
	require.NoError(t, sm.Wait())

	for _, s := range services {
		assert.Equal(t, 1, s.initCount)
		assert.Equal(t, 1, s.stopCount)
	}
}

func TestServiceManagerInitFailure(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})
	defer sm.Shutdown()

	failing := newMockService("broken", nil)
	failing.failOn = "init"

	err := sm.AddService("broken", failing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceError))
}

func TestServiceManagerStartFailureStopsOthers(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})

	healthy := newMockService("healthy", nil)
	failing := newMockService("failing", nil)
	failing.failOn = "start"

	require.NoError(t, sm.AddService("healthy", healthy))
	require.NoError(t, sm.AddService("failing", failing))

	err := sm.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceError))
	assert.Equal(t, 1, healthy.stopCount)
	assert.Equal(t, 1, failing.stopCount)
}

func TestServiceManagerReadyTimeout(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})
	sm.readyTimeout = 20 * time.Millisecond

	stuck := newMockService("stuck", nil)
	stuck.notReady = true

	require.NoError(t, sm.AddService("stuck", stuck))
	require.NoError(t, sm.AddService("next", newMockService("next", nil)))

	err := sm.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.ElementsMatch(t, []string{"stuck", "next"}, sm.ServicesNotReady())
}

func TestServiceManagerHealthHandler(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})
	defer sm.Shutdown()

	a := newMockService("a", nil)
	b := newMockService("b", nil)

	require.NoError(t, sm.AddService("a", a))
	require.NoError(t, sm.AddService("b", b))

	status, body, err := sm.HealthHandler(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"service": "a"`)

	b.healthy = false

	status, body, err = sm.HealthHandler(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "degraded")
}
