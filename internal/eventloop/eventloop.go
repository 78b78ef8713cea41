// Package eventloop implements the single-consumer FIFO task queue
// (C10) every external stimulus into the supervisor is funneled
// through. It generalizes gone/daemon's run.go select loop — there,
// a fixed set of typed channels (reload, stopch, tostopch, eventch)
// are selected over; here, one channel of func() values plays the
// same role for an open set of event kinds.
package eventloop

import "sync"

// Loop is a single-consumer task queue. All mutations to state owned
// by the loop's tasks happen on the one goroutine started by Run,
// which gives the rest of the supervisor a simple, linear memory
// model instead of ad hoc locking.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a loop with the given task queue depth and starts its
// consumer goroutine.
func New(queueDepth int) *Loop {
	l := &Loop{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case fn, ok := <-l.tasks:
			if !ok {
				return
			}
			fn()
		case <-l.done:
			// Drain anything already queued before exiting so a Stop
			// racing with in-flight Post calls doesn't strand them
			// silently — matches spec.md §4.6's FIFO guarantee up to
			// the point shutdown is requested.
			for {
				select {
				case fn := <-l.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn to run on the loop's goroutine. It never blocks
// the caller beyond the queue being full. Posting after Stop is a
// silent no-op: "after shutdown, no public operation observably
// mutates state" (spec.md §8 invariant 5).
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Flush blocks until every task posted before this call has run.
func (l *Loop) Flush() {
	done := make(chan struct{})
	l.Post(func() { close(done) })
	<-done
}

// Stop closes the loop after draining any already-queued tasks, and
// waits for the consumer goroutine to exit. No further Post calls
// will run their function.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
	l.wg.Wait()
}

// Call posts fn and blocks until it has run, returning fn's result.
// This is the Go-idiomatic replacement for the C++ source's
// std::promise/std::future pairing used by every blocking
// SessionServerAppManager public method.
func Call[T any](l *Loop, fn func() T) T {
	resultCh := make(chan T, 1)
	l.Post(func() {
		resultCh <- fn()
	})
	return <-resultCh
}
