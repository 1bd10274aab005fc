package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type mockReconciler struct {
	mu               sync.Mutex
	pendingCalls     int
	keySweepCalls    int
	expirationCalls  int
	pendingErr       error
	keySweepErr      error
	expirationErr    error
	expirationResult int64
}

func (m *mockReconciler) SweepPending(ctx context.Context) error {
	m.mu.Lock()
	m.pendingCalls++
	m.mu.Unlock()
	return m.pendingErr
}

func (m *mockReconciler) SweepPaidWithoutKeys(ctx context.Context) error {
	m.mu.Lock()
	m.keySweepCalls++
	m.mu.Unlock()
	return m.keySweepErr
}

func (m *mockReconciler) SweepExpiration(ctx context.Context) (int64, error) {
	m.mu.Lock()
	m.expirationCalls++
	m.mu.Unlock()
	return m.expirationResult, m.expirationErr
}

func (m *mockReconciler) counts() (pending, key, expiration int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingCalls, m.keySweepCalls, m.expirationCalls
}

func TestPendingSweepSchedulerStartsAndStops(t *testing.T) {
	r := &mockReconciler{}
	s := NewPendingSweepScheduler(r, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	time.Sleep(100 * time.Millisecond)

	pending, _, _ := r.counts()
	if pending < 1 {
		t.Errorf("expected at least 1 call to SweepPending, got %d", pending)
	}
}

func TestPendingSweepSchedulerStopIsIdempotent(t *testing.T) {
	r := &mockReconciler{}
	s := NewPendingSweepScheduler(r, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestKeySweepSchedulerProcessesMultipleTimes(t *testing.T) {
	r := &mockReconciler{}
	s := &KeySweepScheduler{
		reconciler: r,
		interval:   100 * time.Millisecond,
		stopChan:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(400 * time.Millisecond)
	s.Stop()
	time.Sleep(100 * time.Millisecond)

	_, key, _ := r.counts()
	if key < 3 {
		t.Errorf("expected at least 3 calls to SweepPaidWithoutKeys, got %d", key)
	}
}

func TestExpirySweepSchedulerContextCancellation(t *testing.T) {
	r := &mockReconciler{expirationResult: 2}
	s := NewExpirySweepScheduler(r, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	_, _, expiration := r.counts()
	if expiration < 1 {
		t.Errorf("expected at least 1 call to SweepExpiration, got %d", expiration)
	}
}

func TestExpirySweepSchedulerToleratesErrors(t *testing.T) {
	r := &mockReconciler{expirationErr: context.DeadlineExceeded}
	s := &ExpirySweepScheduler{
		reconciler: r,
		interval:   50 * time.Millisecond,
		stopChan:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	s.Stop()
	time.Sleep(50 * time.Millisecond)

	_, _, expiration := r.counts()
	if expiration < 2 {
		t.Errorf("expected scheduler to keep ticking despite sweep errors, got %d calls", expiration)
	}
}
