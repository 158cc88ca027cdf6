package workerpool

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/alitto/pond/v2"
)

var (
	ErrClosed = errors.New("worker pool closed")
	ErrPanic  = errors.New("worker panic")
)

// Pool is a fixed-size set of workers with a busy gate. Jobs run on pond
// goroutines and resolve a Handle exactly once.
type Pool struct {
	name     string
	size     int
	pool     pond.Pool
	inFlight atomic.Int64
	closed   atomic.Bool
}

func New(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{name: name, size: size, pool: pond.NewPool(size)}
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Size() int    { return p.size }

func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Busy reports whether every worker is occupied. Callers must not submit
// while busy.
func (p *Pool) Busy() bool { return p.inFlight.Load() >= int64(p.size) }

func (p *Pool) Idle() bool { return p.inFlight.Load() == 0 }

// Close waits for running jobs and rejects new ones.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.pool.StopAndWait()
}

// Handle is the future of one submitted job.
type Handle[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Ready reports completion without blocking.
func (h *Handle[T]) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result blocks until the job finished.
func (h *Handle[T]) Result() (T, error) {
	<-h.done
	return h.val, h.err
}

func resolved[T any](err error) *Handle[T] {
	h := &Handle[T]{done: make(chan struct{}), err: err}
	close(h.done)
	return h
}

// Submit runs fn on p. A panic inside fn resolves the handle with ErrPanic.
func Submit[T any](p *Pool, fn func() (T, error)) *Handle[T] {
	if p.closed.Load() {
		return resolved[T](ErrClosed)
	}
	h := &Handle[T]{done: make(chan struct{})}
	p.inFlight.Add(1)
	p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("%w: %s: %v", ErrPanic, p.name, r)
			}
			p.inFlight.Add(-1)
			close(h.done)
		}()
		h.val, h.err = fn()
	})
	return h
}

// NewHandle returns an unresolved handle and the function that resolves
// it. Later calls to resolve are ignored.
func NewHandle[T any]() (*Handle[T], func(T, error)) {
	h := &Handle[T]{done: make(chan struct{})}
	var once atomic.Bool
	return h, func(v T, err error) {
		if once.Swap(true) {
			return
		}
		h.val, h.err = v, err
		close(h.done)
	}
}
