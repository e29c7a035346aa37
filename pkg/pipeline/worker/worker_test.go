package worker_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metaenhancer/metaenhancer/pkg/pipeline/worker"
)

func TestProcessAll_KeepsInputOrder(t *testing.T) {
	t.Parallel()

	items := []string{"caffeine", "ethanol", "glucose", "water"}
	out, err := worker.ProcessAll(context.Background(), items, func(_ context.Context, name string) (int, error) {
		return len(name), nil
	}, worker.Options{Workers: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range out {
		if r.Index != i || r.Input != items[i] || r.Output != len(items[i]) {
			t.Fatalf("unexpected result %d: %#v", i, r)
		}
	}
}

func TestProcessAll_ItemTimeout(t *testing.T) {
	t.Parallel()

	out, err := worker.ProcessAll(context.Background(), []string{"slow"}, func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, worker.Options{Workers: 1, ItemTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(out[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", out[0].Err)
	}
}

func TestProcessAll_RecoversPanics(t *testing.T) {
	t.Parallel()

	out, err := worker.ProcessAll(context.Background(), []string{"bad", "good"}, func(_ context.Context, s string) (string, error) {
		if s == "bad" {
			panic("provider exploded")
		}
		return s, nil
	}, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil || !strings.Contains(out[0].Err.Error(), "provider exploded") {
		t.Fatalf("expected panic as error, got %#v", out[0])
	}
	if out[1].Err != nil || out[1].Output != "good" {
		t.Fatalf("unexpected out[1]: %#v", out[1])
	}
}

func TestProcessAll_FailFastStops(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	fn := func(_ context.Context, name string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		if name == "bad" {
			return "", errors.New("boom")
		}
		t.Errorf("unexpected call for %q", name)
		return "", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"bad", "good"}, fn, worker.Options{
		Workers:       1,
		FailurePolicy: worker.FailurePolicyFailFast,
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output on fail-fast, got %#v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestProcessAll_PartialOutputContinues(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, name string) (string, error) {
		if name == "bad" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"bad", "good"}, fn, worker.Options{
		Workers:       1,
		FailurePolicy: worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	if out[0].Err == nil || out[0].Err.Error() != "boom" {
		t.Fatalf("unexpected out[0]: %#v", out[0])
	}
	if out[1].Err != nil || out[1].Output != "ok" {
		t.Fatalf("unexpected out[1]: %#v", out[1])
	}
}

func TestProcessAll_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := worker.ProcessAll(ctx, []string{"a", "b"}, func(_ context.Context, s string) (string, error) {
		return s, nil
	}, worker.Options{Workers: 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessAllWithCallback_CompletesInCompletionOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	startedSlow := make(chan struct{})
	var firstCallbackInput atomic.Value
	firstCallbackInput.Store("")

	fn := func(_ context.Context, name string) (string, error) {
		if name == "slow" {
			close(startedSlow)
			<-releaseSlow
		}
		return name, nil
	}

	var mu sync.Mutex
	var seen []string
	doneErr := make(chan error, 1)
	go func() {
		_, err := worker.ProcessAllWithCallback(
			context.Background(),
			[]string{"slow", "fast"},
			fn,
			func(res worker.Result[string, string]) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, res.Input)
				if len(seen) == 1 {
					firstCallbackInput.Store(res.Input)
				}
				return nil
			},
			worker.Options{Workers: 2},
		)
		doneErr <- err
	}()

	select {
	case <-startedSlow:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for slow task to start")
	}

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if firstCallbackInput.Load().(string) == "fast" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := firstCallbackInput.Load().(string); got != "fast" {
		t.Fatalf("expected fast callback first, got %q", got)
	}

	close(releaseSlow)
	select {
	case err := <-doneErr:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []string{"fast", "slow"}) {
		t.Fatalf("unexpected callback order: %v", seen)
	}
}

func TestProcessAllWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	callbackErr := errors.New("callback failed")
	_, err := worker.ProcessAllWithCallback(
		context.Background(),
		[]string{"ethanol"},
		func(_ context.Context, name string) (string, error) {
			return name, nil
		},
		func(worker.Result[string, string]) error {
			return callbackErr
		},
		worker.Options{Workers: 1},
	)
	if !errors.Is(err, callbackErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
