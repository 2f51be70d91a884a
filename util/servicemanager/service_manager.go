package servicemanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/ulogger"
	"golang.org/x/sync/errgroup"
)

// Service is a long running component of a node.  Start blocks until the
// context is cancelled or the service fails, and closes readyCh once the
// service accepts work.
type Service interface {
	Init(ctx context.Context) error
	Start(ctx context.Context, readyCh chan<- struct{}) error
	Stop(ctx context.Context) error
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
}

type serviceWrapper struct {
	name     string
	instance Service
	readyCh  chan struct{}
}

// ServiceManager starts services in registration order, each one after the
// previous one reported ready, and stops them in reverse order.
type ServiceManager struct {
	mu           sync.Mutex
	services     []serviceWrapper
	logger       ulogger.Logger
	Ctx          context.Context
	cancelFunc   context.CancelFunc
	g            *errgroup.Group
	readyTimeout time.Duration
	stopTimeout  time.Duration
}

// NewServiceManager returns a manager whose context is cancelled on SIGINT or
// SIGTERM, or when any service fails.
func NewServiceManager(ctx context.Context, logger ulogger.Logger) *ServiceManager {
	ctx, cancelFunc := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	sm := &ServiceManager{
		services:     make([]serviceWrapper, 0),
		logger:       logger,
		Ctx:          ctx,
		cancelFunc:   cancelFunc,
		g:            g,
		readyTimeout: 5 * time.Second,
		stopTimeout:  5 * time.Second,
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)

		select {
		case <-sigs:
			sm.logger.Infof("🟠 Received shutdown signal. Stopping services...")
			sm.cancelFunc()
		case <-ctx.Done():
		}
	}()

	return sm
}

// AddService initializes the service and schedules its start.
func (sm *ServiceManager) AddService(name string, service Service) error {
	sm.mu.Lock()

	var previous chan struct{}
	if len(sm.services) > 0 {
		previous = sm.services[len(sm.services)-1].readyCh
	}

	sw := serviceWrapper{
		name:     name,
		instance: service,
		readyCh:  make(chan struct{}),
	}

	sm.services = append(sm.services, sw)
	sm.mu.Unlock()

	sm.logger.Infof("⚪️ Initializing service %s...", name)

	if err := service.Init(sm.Ctx); err != nil {
		return errors.NewServiceError("[%s] failed to initialize", name, err)
	}

	sm.g.Go(func() error {
		if previous != nil {
			if err := sm.waitForPreviousServiceToBeReady(sw, previous); err != nil {
				return err
			}
		}

		sm.logger.Infof("🟢 Starting service %s...", name)

		if err := service.Start(sm.Ctx, sw.readyCh); err != nil {
			sm.logger.Errorf("Error from service start %s: %v", name, err)
			return err
		}

		return nil
	})

	return nil
}

func (sm *ServiceManager) waitForPreviousServiceToBeReady(sw serviceWrapper, previous chan struct{}) error {
	timer := time.NewTimer(sm.readyTimeout)
	defer timer.Stop()

	select {
	case <-previous:
		return nil
	case <-sm.Ctx.Done():
		return sm.Ctx.Err()
	case <-timer.C:
		return errors.NewServiceError("%s timed out waiting for previous service to be ready", sw.name)
	}
}

// WaitForServicesToBeReady blocks until every registered service is ready or
// the manager context is done.
func (sm *ServiceManager) WaitForServicesToBeReady() error {
	sm.mu.Lock()
	services := append([]serviceWrapper(nil), sm.services...)
	sm.mu.Unlock()

	for _, s := range services {
		select {
		case <-s.readyCh:
		case <-sm.Ctx.Done():
			return sm.Ctx.Err()
		}
	}

	return nil
}

// ServicesNotReady returns the names of services that have not signalled readiness.
func (sm *ServiceManager) ServicesNotReady() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var notReady []string

	for _, s := range sm.services {
		select {
		case <-s.readyCh:
		default:
			notReady = append(notReady, s.name)
		}
	}

	return notReady
}

// Shutdown cancels the manager context, which makes every Start return.
func (sm *ServiceManager) Shutdown() {
	sm.cancelFunc()
}

// Wait blocks until all services returned, then stops them in reverse order.
// A shutdown through context cancellation is not an error.
func (sm *ServiceManager) Wait() error {
	err := sm.g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sm.logger.Errorf("Received error: %v", err)
	}

	sm.mu.Lock()
	services := append([]serviceWrapper(nil), sm.services...)
	sm.mu.Unlock()

	for i := len(services) - 1; i >= 0; i-- {
		service := services[i]

		stopCtx, stopCancel := context.WithTimeout(context.Background(), sm.stopTimeout)

		sm.logger.Infof("🟠 Stopping service %s...", service.name)

		if stopErr := service.instance.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("[%s] Failed to stop service: %v", service.name, stopErr)
		} else {
			sm.logger.Infof("[%s] Service stopped gracefully", service.name)
		}

		stopCancel()
	}

	sm.logger.Infof("🛑 All services stopped.")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// HealthHandler aggregates the health of all services.  The status is
// http.StatusServiceUnavailable if any service is unhealthy.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	sm.mu.Lock()
	services := append([]serviceWrapper(nil), sm.services...)
	sm.mu.Unlock()

	overallStatus := http.StatusOK
	msgs := make([]string, 0, len(services))

	for _, service := range services {
		status, details, err := service.instance.Health(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			overallStatus = http.StatusServiceUnavailable
		}

		msgs = append(msgs, fmt.Sprintf(`{"service": %q, "status": %d, "details": %s}`, service.name, status, strconv.Quote(details)))
	}

	jsonStr := fmt.Sprintf(`{"status": %d, "services": [%s]}`, overallStatus, strings.Join(msgs, ",\n"))

	var jsonFormatted bytes.Buffer
	if err := json.Indent(&jsonFormatted, []byte(jsonStr), "", "  "); err == nil {
		jsonStr = jsonFormatted.String()
	}

	return overallStatus, jsonStr, nil
}
