package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type shutdownStage struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the API server and then runs the registered
// stages in registration order, all within one deadline. A failing stage
// is logged and the rest still run.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu     sync.Mutex
	stages []shutdownStage
	once   sync.Once
	err    error
}

// NewShutdownManager creates a new shutdown manager. server may be nil.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// Register adds a named stage.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stages = append(sm.stages, shutdownStage{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT/SIGTERM and then shuts down.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	return sm.Shutdown()
}

// Shutdown runs the sequence once; later calls return the first result.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() { sm.err = sm.run() })
	return sm.err
}

func (sm *ShutdownManager) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("API server shutdown error")
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}

	sm.mu.Lock()
	stages := append([]shutdownStage(nil), sm.stages...)
	sm.mu.Unlock()

	for _, stage := range stages {
		start := time.Now()
		log := sm.logger.WithField("stage", stage.name)
		if err := stage.fn(ctx); err != nil {
			log.WithError(err).Error("Shutdown stage failed")
			errs = append(errs, fmt.Errorf("%s: %w", stage.name, err))
			continue
		}
		log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Shutdown stage finished")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
