package engine

import "sync"

// Loop serializes all engine work onto one goroutine, the Go rendition of a
// browser event loop: watchers, timers and HTTP handlers post closures and
// never touch engine state directly, so the components behind it need no
// locks.
type Loop struct {
	ch   chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func NewLoop() *Loop {
	l := &Loop{
		ch:   make(chan func(), 128),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.ch:
			fn()
		case <-l.quit:
			// Drain whatever was already posted before shutting down.
			for {
				select {
				case fn := <-l.ch:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post queues fn for execution on the loop. After Close it is a no-op.
func (l *Loop) Post(fn func()) {
	select {
	case l.ch <- fn:
	case <-l.quit:
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-l.done:
	}
}

func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}
