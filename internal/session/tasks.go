package session

import (
	"context"
	"sync"

	"github.com/home-voice-lab/internal/logging"
)

// taskRunner is a bounded worker pool fed by the frame loop. Dispatch,
// playback and follow-up work run here so frame consumption never blocks on
// upstream calls. Workers stop when the session context is cancelled;
// queued-but-unstarted tasks are dropped at shutdown.
type taskRunner struct {
	ctx context.Context
	ch  chan func()
	wg  sync.WaitGroup
}

func newTaskRunner(ctx context.Context, workers, queue int) *taskRunner {
	r := &taskRunner{ctx: ctx, ch: make(chan func(), queue)}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case fn := <-r.ch:
					fn()
				}
			}
		}()
	}
	return r
}

// submit enqueues fn, refusing when the queue is full or the session is
// shutting down. Backpressure is explicit: callers learn about the drop
// instead of blocking the frame loop.
func (r *taskRunner) submit(fn func()) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case <-r.ctx.Done():
		return false
	case r.ch <- fn:
		return true
	default:
		logging.Warnw("task runner queue full; dropping task")
		return false
	}
}

// close waits for in-flight tasks to finish. The session context must be
// cancelled first.
func (r *taskRunner) close() {
	r.wg.Wait()
}
