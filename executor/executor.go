package executor

import (
	"errors"
	"sync"

	"github.com/eapache/channels"

	"github.com/cqkv/journal/utils/log"
)

var ErrShutdown = errors.New("executor is shut down")

// Executor runs tasks in the background. Journal components receive their
// executors from whoever composes them, nothing is shared process wide.
type Executor interface {
	Execute(task func()) error
}

// Ordered runs tasks one at a time, in submission order, on a single goroutine.
// Submission never blocks: the queue is unbounded.
type Ordered struct {
	name  string
	queue *channels.InfiniteChannel
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ Executor = (*Ordered)(nil)

func NewOrdered(name string) *Ordered {
	o := &Ordered{
		name:  name,
		queue: channels.NewInfiniteChannel(),
		done:  make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Ordered) Name() string {
	return o.name
}

func (o *Ordered) Execute(task func()) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrShutdown
	}
	o.queue.In() <- task
	return nil
}

// Pending returns the number of queued tasks that have not started yet.
func (o *Ordered) Pending() int {
	return o.queue.Len()
}

// Flush blocks until every task submitted before the call has run.
// It must not be called from a task of the same executor.
func (o *Ordered) Flush() error {
	barrier := make(chan struct{})
	if err := o.Execute(func() { close(barrier) }); err != nil {
		return err
	}
	<-barrier
	return nil
}

// Shutdown stops accepting tasks, runs what is queued and waits for the worker
// to exit. Calling it twice is a no-op.
func (o *Ordered) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.closed = true
	o.queue.Close()
	o.mu.Unlock()
	<-o.done
}

func (o *Ordered) run() {
	defer close(o.done)
	for v := range o.queue.Out() {
		o.invoke(v.(func()))
	}
}

func (o *Ordered) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("executor %s: task panicked: %v", o.name, r)
		}
	}()
	task()
}
