package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justsay/livecap-core/core/recognition"
	"github.com/justsay/livecap-core/core/transcript"
)

type fakeChannel struct {
	mu           sync.Mutex
	connectCalls int
	connectHold  chan struct{}
	connectErrs  []error
	healthy      bool
	sessionEnds  int
	closed       bool
	audio        [][]byte
	finalOnEnd   *transcript.SpeakerSegment

	events    chan transcript.Event
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		healthy: true,
		events:  make(chan transcript.Event, 16),
	}
}

func (f *fakeChannel) Connect(ctx context.Context, _ ...recognition.ConnectOption) error {
	f.mu.Lock()
	call := f.connectCalls
	f.connectCalls++
	hold := f.connectHold
	f.mu.Unlock()

	if call == 0 && hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if call < len(f.connectErrs) {
		return f.connectErrs[call]
	}
	return nil
}

func (f *fakeChannel) Healthy(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeChannel) SendAudio(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audio)
	return nil
}

func (f *fakeChannel) Events() <-chan transcript.Event {
	return f.events
}

func (f *fakeChannel) EndSession(context.Context) error {
	f.mu.Lock()
	f.sessionEnds++
	final := f.finalOnEnd
	f.mu.Unlock()

	if final != nil {
		f.events <- transcript.NewFinalEvent(final)
	}
	return nil
}

func (f *fakeChannel) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeChannel) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeChannel) ends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionEnds
}

func waitFor(t *testing.T, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", message)
}

func TestEnsureReadyAdoptsCompletedWarmup(t *testing.T) {
	channel := newFakeChannel()
	manager := newReadinessManager(channel, nil)

	manager.BeginWarmup(context.Background())
	waitFor(t, func() bool { return manager.Status() == BackendReady }, "warm-up to complete")

	adopted, err := manager.EnsureReady(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adopted != channel {
		t.Fatalf("expected the warmed channel to be adopted")
	}
	if got := channel.connects(); got != 1 {
		t.Fatalf("expected 1 connect attempt, got %d", got)
	}
}

func TestEnsureReadyTimesOutAndColdStartsOnce(t *testing.T) {
	channel := newFakeChannel()
	channel.connectHold = make(chan struct{})
	defer close(channel.connectHold)
	manager := newReadinessManager(channel, nil)

	manager.BeginWarmup(context.Background())
	waitFor(t, func() bool { return channel.connects() == 1 }, "warm-up connect to start")

	timeout := 100 * time.Millisecond
	started := time.Now()
	adopted, err := manager.EnsureReady(context.Background(), timeout)
	elapsed := time.Since(started)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adopted != channel {
		t.Fatalf("expected a channel from the cold start")
	}
	if elapsed < timeout {
		t.Fatalf("expected the warm-up race to hold for %v, returned after %v", timeout, elapsed)
	}
	if got := channel.connects(); got != 2 {
		t.Fatalf("expected exactly one cold-start connect after the warm-up, got %d total connects", got)
	}
}

func TestEnsureReadyFallsBackImmediatelyOnWarmupFailure(t *testing.T) {
	channel := newFakeChannel()
	channel.connectHold = make(chan struct{})
	channel.connectErrs = []error{errors.New("spawn failed")}

	warmupFailures := make(chan string, 1)
	manager := newReadinessManager(channel, func(message string) { warmupFailures <- message })

	manager.BeginWarmup(context.Background())
	waitFor(t, func() bool { return channel.connects() == 1 }, "warm-up connect to start")

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(channel.connectHold)
	}()

	started := time.Now()
	_, err := manager.EnsureReady(context.Background(), 5*time.Second)
	elapsed := time.Since(started)

	if err != nil {
		t.Fatalf("expected the cold start to absorb the warm-up failure, got %v", err)
	}
	if elapsed >= time.Second {
		t.Fatalf("expected an immediate fallback after warm-up failure, took %v", elapsed)
	}
	if got := channel.connects(); got != 2 {
		t.Fatalf("expected a single cold-start connect, got %d total connects", got)
	}

	select {
	case <-warmupFailures:
	case <-time.After(time.Second):
		t.Fatalf("expected the warm-up failure to be reported")
	}
}

func TestEnsureReadyReconnectsWhenCachedReadinessIsStale(t *testing.T) {
	channel := newFakeChannel()
	manager := newReadinessManager(channel, nil)

	manager.BeginWarmup(context.Background())
	waitFor(t, func() bool { return manager.Status() == BackendReady }, "warm-up to complete")

	channel.mu.Lock()
	channel.healthy = false
	channel.mu.Unlock()

	if _, err := manager.EnsureReady(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := channel.connects(); got != 2 {
		t.Fatalf("expected a reconnect after the stale probe, got %d total connects", got)
	}
}

func TestBeginWarmupIsIdempotent(t *testing.T) {
	channel := newFakeChannel()
	channel.connectHold = make(chan struct{})
	defer close(channel.connectHold)
	manager := newReadinessManager(channel, nil)

	manager.BeginWarmup(context.Background())
	waitFor(t, func() bool { return channel.connects() == 1 }, "warm-up connect to start")
	manager.BeginWarmup(context.Background())
	manager.BeginWarmup(context.Background())

	if got := channel.connects(); got != 1 {
		t.Fatalf("expected a single in-flight warm-up, got %d connects", got)
	}
	if manager.Status() != BackendConnecting {
		t.Fatalf("expected connecting status, got %q", manager.Status())
	}
}

func TestColdStartFailureIsFatal(t *testing.T) {
	channel := newFakeChannel()
	channel.connectErrs = []error{errors.New("backend unreachable")}
	manager := newReadinessManager(channel, nil)

	if _, err := manager.EnsureReady(context.Background(), time.Second); err == nil {
		t.Fatalf("expected a cold-start failure to propagate")
	}
	if manager.Status() != BackendFailed {
		t.Fatalf("expected failed status, got %q", manager.Status())
	}
}

func TestEnsureReadyWithoutChannel(t *testing.T) {
	manager := newReadinessManager(nil, nil)

	if _, err := manager.EnsureReady(context.Background(), time.Second); err == nil {
		t.Fatalf("expected an error without a configured channel")
	}
}

func TestCloseTearsDownChannel(t *testing.T) {
	channel := newFakeChannel()
	manager := newReadinessManager(channel, nil)

	if err := manager.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	channel.mu.Lock()
	closed := channel.closed
	channel.mu.Unlock()
	if !closed {
		t.Fatalf("expected the channel to be closed")
	}
	if manager.Status() != BackendNotConnected {
		t.Fatalf("expected not-connected status, got %q", manager.Status())
	}
}
