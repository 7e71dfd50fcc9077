package fio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCodeIO is the code passed to IOCallback.OnError for I/O failures.
const ErrCodeIO = 6

var ErrFileClosed = errors.New("file is closed")

// IOError carries the code and message an IOCallback received.
type IOError struct {
	Code    int
	Message string
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error %d: %s", e.Code, e.Message)
}

// SyncCallback lets a caller block until an asynchronous write completes.
type SyncCallback struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewSyncCallback() *SyncCallback {
	return &SyncCallback{done: make(chan struct{})}
}

func (c *SyncCallback) StoreLineUp() {}

func (c *SyncCallback) Done() {
	c.once.Do(func() { close(c.done) })
}

func (c *SyncCallback) OnError(code int, message string) {
	c.once.Do(func() {
		c.err = &IOError{Code: code, Message: message}
		close(c.done)
	})
}

// Wait returns the error reported through OnError, if any.
func (c *SyncCallback) Wait() error {
	<-c.done
	return c.err
}
