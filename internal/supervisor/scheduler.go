package supervisor

import (
	"context"
	"sync"
	"time"
)

// TickFunc is invoked once per scheduler interval.
type TickFunc func(ctx context.Context)

// Scheduler runs a tick function on a fixed interval with a cancellation
// handle, so the supervision core is usable headlessly and shutdown is
// deterministic. The function runs inline in the scheduler goroutine:
// a tick can never overlap the previous one, which is what the serial
// mutation model relies on.
type Scheduler struct {
	interval  time.Duration
	fn        TickFunc
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler creates a stopped scheduler; call Start to begin ticking.
func NewScheduler(interval time.Duration, fn TickFunc) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Subsequent calls are no-ops.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Scheduler) run() {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.fn(context.Background())
		}
	}
}

// Stop cancels the loop and blocks until any in-flight tick has returned.
// Safe to call multiple times and before Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.startOnce.Do(func() { close(s.done) })
	<-s.done
}
