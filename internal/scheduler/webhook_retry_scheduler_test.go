package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

type mockWebhookRetryService struct {
	mu         sync.Mutex
	callCount  int
	returnErr  error
}

func (m *mockWebhookRetryService) ProcessRetryQueue(ctx context.Context, limit int) error {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()
	return m.returnErr
}

func (m *mockWebhookRetryService) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func TestWebhookRetrySchedulerStartsAndStops(t *testing.T) {
	svc := &mockWebhookRetryService{}
	s := NewWebhookRetryScheduler(svc, 1, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	time.Sleep(100 * time.Millisecond)

	if svc.getCallCount() < 1 {
		t.Errorf("expected at least 1 call to ProcessRetryQueue, got %d", svc.getCallCount())
	}
}

func TestWebhookRetrySchedulerProcessesMultipleTimes(t *testing.T) {
	svc := &mockWebhookRetryService{}
	s := &WebhookRetryScheduler{
		service:   svc,
		interval:  100 * time.Millisecond,
		batchSize: 100,
		stopChan:  make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(400 * time.Millisecond)
	s.Stop()
	time.Sleep(100 * time.Millisecond)

	if svc.getCallCount() < 3 {
		t.Errorf("expected at least 3 calls to ProcessRetryQueue, got %d", svc.getCallCount())
	}
}

func TestWebhookRetrySchedulerContextCancellation(t *testing.T) {
	svc := &mockWebhookRetryService{}
	s := NewWebhookRetryScheduler(svc, 1, 100)

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
}
