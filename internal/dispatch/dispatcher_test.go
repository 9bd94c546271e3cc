package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pravatus-technologies/spreed/internal/dispatch"
)

func TestDispatcherRunsJobsInSubmissionOrder(t *testing.T) {
	d := dispatch.NewDispatcher(time.Hour)
	defer d.Close()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		d.Submit("token", func(ctx context.Context) {
			// Single worker per token: no locking needed.
			got = append(got, i)
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not complete")
	}

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestDispatcherTokensRunIndependently(t *testing.T) {
	d := dispatch.NewDispatcher(time.Hour)
	defer d.Close()

	blocked := make(chan struct{})
	release := make(chan struct{})
	d.Submit("slow", func(ctx context.Context) {
		close(blocked)
		<-release
	})
	<-blocked

	ran := make(chan struct{})
	d.Submit("fast", func(ctx context.Context) {
		close(ran)
	})

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job on independent token was blocked")
	}
	close(release)

	require.Equal(t, 2, d.ActiveWorkers())
}

func TestDispatcherCloseDrainsQueuedJobs(t *testing.T) {
	d := dispatch.NewDispatcher(time.Hour)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		d.Submit("a", func(ctx context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		})
		d.Submit("b", func(ctx context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}

	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 20, ran)
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	d := dispatch.NewDispatcher(time.Hour)
	d.Close()

	// Must not panic; the job is dropped.
	d.Submit("token", func(ctx context.Context) {
		t.Error("job ran after close")
	})
	require.Equal(t, 0, d.ActiveWorkers())
}
