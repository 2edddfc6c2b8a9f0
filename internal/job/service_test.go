package job

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/internal/web3/provider"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *MemoryQueue) {
	t.Helper()
	registry, err := provider.NewStaticRegistry("", map[string]web3.Client{"sandbox": newSandbox(t)})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	return NewService(store, queue, registry, 0), store, queue
}

func TestSubmitNormalizesRequest(t *testing.T) {
	service, _, queue := newTestService(t)
	req := swapRequest("")
	req.Caller = "0x46f8c7f3a6a2bc0af2e9d52c2bb1a8b5f5abc001"

	job, err := service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" || job.Chain != "sandbox" || job.Status != StatusPending || job.MaxRetries != 3 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Caller != holder.Hex() || job.MinAmountOut != "0" {
		t.Fatalf("request should be normalized, got caller=%s min=%s", job.Caller, job.MinAmountOut)
	}
	if queue.Len() != 1 {
		t.Fatalf("job should be queued, queue has %d", queue.Len())
	}
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	service, _, queue := newTestService(t)
	req := swapRequest("1")
	req.ID = "order-42"

	first, err := service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	req.AmountIn = "7"
	second, err := service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID || second.AmountIn != first.AmountIn {
		t.Fatalf("resubmission should return the original job, got %+v", second)
	}
	if queue.Len() != 1 {
		t.Fatalf("resubmission must not enqueue again, queue has %d", queue.Len())
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	service, _, _ := newTestService(t)
	cases := map[string]func(*Request){
		"caller":        func(r *Request) { r.Caller = "alice" },
		"zero token":    func(r *Request) { r.TokenIn = "0x0000000000000000000000000000000000000000" },
		"amount":        func(r *Request) { r.AmountIn = "0" },
		"fractional":    func(r *Request) { r.AmountIn = "1.5" },
		"min out":       func(r *Request) { r.MinAmountOut = "-1" },
		"deadline":      func(r *Request) { r.Deadline = -1 },
		"unknown chain": func(r *Request) { r.Chain = "goerli" },
	}
	for name, mutate := range cases {
		req := swapRequest("1")
		mutate(&req)
		_, err := service.Submit(context.Background(), req)
		if !xerrors.IsCode(err, CodeJobValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestSubmitMarksJobFailedWhenQueueUnavailable(t *testing.T) {
	service, store, queue := newTestService(t)
	_ = queue.Close()

	req := swapRequest("1")
	req.ID = "order-closed"
	_, err := service.Submit(context.Background(), req)
	if !xerrors.IsCode(err, CodeJobPublish) || !stdErrors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected publish error, got %v", err)
	}
	job, err := store.Get(context.Background(), "order-closed")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestServiceRequiresStore(t *testing.T) {
	var service Service
	if _, err := service.Submit(context.Background(), swapRequest("1")); !xerrors.IsCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, err := service.Get(context.Background(), "x"); err == nil {
		t.Fatalf("expected error without store")
	}
}
