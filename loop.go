package clusterc

import "sync"

// runLoop is the execution context of a Connection: a single goroutine
// that runs submitted tasks in order. Confining every queue mutation
// and routing decision to the loop removes the need for locks around
// them.
type runLoop struct {
	mu      sync.Mutex // protects tasks and stopped
	tasks   []func()
	stopped bool
	wake    chan struct{}
}

func newRunLoop() *runLoop {
	l := &runLoop{wake: make(chan struct{}, 1)}
	go l.run()
	return l
}

// do schedules fn on the loop. It never blocks the caller; tasks run
// in submission order. After stop, fn runs on the caller's goroutine:
// the connection is closed at that point and the only remaining tasks
// complete commands.
func (l *runLoop) do(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		fn()
		return
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// stop ends the loop goroutine once every task submitted before the
// stop has run. Idempotent.
func (l *runLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *runLoop) run() {
	for range l.wake {
		for {
			l.mu.Lock()
			tasks := l.tasks
			l.tasks = nil
			stopped := l.stopped
			l.mu.Unlock()

			if len(tasks) == 0 {
				if stopped {
					return
				}
				break
			}
			for _, fn := range tasks {
				fn()
			}
		}
	}
}
