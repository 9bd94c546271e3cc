package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestSubmitWithFullQueueDoesNotBlockOtherTokens(t *testing.T) {
	d := NewDispatcher(time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	d.Submit("slow", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	// Fill the slow worker's buffer, then park one more submitter on it.
	for i := 0; i < jobQueueSize; i++ {
		d.Submit("slow", func(ctx context.Context) {})
	}
	parked := make(chan struct{})
	go func() {
		d.Submit("slow", func(ctx context.Context) {})
		close(parked)
	}()

	ran := make(chan struct{})
	submitted := make(chan struct{})
	go func() {
		d.Submit("fast", func(ctx context.Context) { close(ran) })
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("submit for an independent token blocked behind a full queue")
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job on independent token never ran")
	}

	close(release)
	<-parked
	d.Close()
}
