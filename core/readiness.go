package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justsay/livecap-core/core/recognition"
)

// BackendStatus describes the readiness of the recognition backend,
// independent of whether a session is running.
type BackendStatus string

const (
	BackendNotConnected BackendStatus = "not_connected"
	BackendConnecting   BackendStatus = "connecting"
	BackendReady        BackendStatus = "ready"
	BackendFailed       BackendStatus = "failed"
)

// warmupAttempt is the shared handle for one in-flight warm-up. The done
// channel is closed exactly once, after err is set, so any number of waiters
// can race it against their own deadlines.
type warmupAttempt struct {
	done chan struct{}
	err  error
}

// readinessManager owns the recognition channel and hides its startup
// latency. Sessions borrow the channel through EnsureReady; only the manager
// decides when the channel is actually torn down.
type readinessManager struct {
	channel recognition.Channel

	mu       sync.Mutex
	status   BackendStatus
	inFlight *warmupAttempt

	onWarmupFailed func(message string)
}

func newReadinessManager(channel recognition.Channel, onWarmupFailed func(message string)) *readinessManager {
	if onWarmupFailed == nil {
		onWarmupFailed = func(string) {}
	}

	return &readinessManager{
		channel:        channel,
		status:         BackendNotConnected,
		onWarmupFailed: onWarmupFailed,
	}
}

func (m *readinessManager) Status() BackendStatus {
	if m == nil {
		return BackendNotConnected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// BeginWarmup speculatively connects and health-checks the backend so a later
// session start finds it ready. Idempotent: with a warm-up already in flight
// or the backend already ready it does nothing. Failures are downgraded to a
// warning, the next EnsureReady simply cold-starts.
func (m *readinessManager) BeginWarmup(ctx context.Context, opts ...recognition.ConnectOption) {
	if m == nil || m.channel == nil {
		return
	}

	m.mu.Lock()
	if m.inFlight != nil || m.status == BackendReady {
		m.mu.Unlock()
		return
	}
	attempt := &warmupAttempt{done: make(chan struct{})}
	m.inFlight = attempt
	m.status = BackendConnecting
	m.mu.Unlock()

	go func() {
		ctx, span := tracer.Start(ctx, "warm up recognition backend")
		defer span.End()

		err := m.channel.Connect(ctx, opts...)
		if err == nil && !m.channel.Healthy(ctx) {
			err = fmt.Errorf("recognition backend connected but reported unhealthy")
		}

		m.mu.Lock()
		if m.inFlight == attempt {
			m.inFlight = nil
		}
		if err != nil {
			if m.status == BackendConnecting {
				m.status = BackendFailed
			}
		} else {
			m.status = BackendReady
		}
		m.mu.Unlock()

		attempt.err = err
		close(attempt.done)

		if err != nil {
			logger.Warn("recognition backend warm-up failed", "error", err)
			m.onWarmupFailed(err.Error())
		}
	}()
}

// EnsureReady returns a usable channel within roughly timeout plus the cost
// of one cold start. An in-flight warm-up is raced against the timeout; a
// warm-up that loses the race keeps running in the background and seeds the
// readiness cache for the next call, it is never cancelled. Only a cold-start
// failure is returned as an error.
func (m *readinessManager) EnsureReady(ctx context.Context, timeout time.Duration, opts ...recognition.ConnectOption) (recognition.Channel, error) {
	if m == nil || m.channel == nil {
		return nil, fmt.Errorf("no recognition channel configured")
	}

	ctx, span := tracer.Start(ctx, "ensure recognition backend ready")
	defer span.End()

	m.mu.Lock()
	status := m.status
	attempt := m.inFlight
	m.mu.Unlock()

	if status == BackendReady {
		// Cached readiness is confirmed with a direct probe before the
		// session commits to it.
		if m.channel.Healthy(ctx) {
			return m.channel, nil
		}
		logger.Warn("cached backend readiness was stale, reconnecting")
	}

	if attempt != nil {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-attempt.done:
			if attempt.err == nil {
				m.setStatus(BackendReady)
				return m.channel, nil
			}
			logger.Warn("recognition backend warm-up failed, starting cold", "error", attempt.err)
		case <-timer.C:
			logger.Info("recognition backend warm-up timed out, starting cold")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return m.coldStart(ctx, opts...)
}

func (m *readinessManager) coldStart(ctx context.Context, opts ...recognition.ConnectOption) (recognition.Channel, error) {
	ctx, span := tracer.Start(ctx, "cold start recognition backend")
	defer span.End()

	m.setStatus(BackendConnecting)
	if err := m.channel.Connect(ctx, opts...); err != nil {
		m.setStatus(BackendFailed)
		return nil, fmt.Errorf("failed to connect to recognition backend: %w", err)
	}

	m.setStatus(BackendReady)
	return m.channel, nil
}

// Probe reports current backend health for connection-status indicators. It
// never mutates readiness state.
func (m *readinessManager) Probe(ctx context.Context) bool {
	if m == nil || m.channel == nil {
		return false
	}

	return m.channel.Healthy(ctx)
}

// Close tears the channel down for good. Sessions never call this on a
// normal stop; the channel is kept warm for the next session.
func (m *readinessManager) Close(ctx context.Context) error {
	if m == nil || m.channel == nil {
		return nil
	}

	m.setStatus(BackendNotConnected)
	if err := m.channel.Close(ctx); err != nil {
		return fmt.Errorf("failed to close recognition channel: %w", err)
	}

	return nil
}

func (m *readinessManager) setStatus(status BackendStatus) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}
