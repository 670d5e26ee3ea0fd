package session

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestTaskRunnerRunsSubmittedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTaskRunner(ctx, 2, 4)
	var ran atomic.Int32
	done := make(chan struct{})
	if !r.submit(func() { ran.Add(1); close(done) }) {
		t.Fatalf("submit refused with room in the queue")
	}
	<-done
	cancel()
	r.close()
	if ran.Load() != 1 {
		t.Fatalf("ran = %d", ran.Load())
	}
}

func TestTaskRunnerRefusesWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTaskRunner(ctx, 1, 1)
	block := make(chan struct{})
	release := make(chan struct{})
	r.submit(func() { close(block); <-release })
	<-block
	r.submit(func() { <-release }) // fills the queue
	if r.submit(func() {}) {
		t.Fatalf("submit accepted past the queue bound")
	}
	close(release)
	cancel()
	r.close()
}

func TestTaskRunnerRefusesAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTaskRunner(ctx, 1, 1)
	cancel()
	r.close()
	if r.submit(func() {}) {
		t.Fatalf("submit accepted after shutdown")
	}
}
