package h2

import (
	"errors"
	"io"
	"sync"
)

// pipe is the request/response body buffer, grounded directly on the
// teacher's commented usage (`body.pipe = &pipe{b: buffer{...}}`,
// `pipe.c.L = &pipe.m`) in server.go: a mutex/condvar-guarded byte buffer
// that supports one concurrent reader and one concurrent writer, with an
// error that can be attached by either end to unblock the other (CONNECT
// tunnel half-close, RST_STREAM, or body-complete).
type pipe struct {
	mu       sync.Mutex
	c        sync.Cond
	buf      []byte
	readErr  error // set by CloseWithError from the read side
	writeErr error // set by CloseWithError from the write side
	inited   bool
}

func newPipe() *pipe {
	p := &pipe{}
	p.c.L = &p.mu
	p.inited = true
	return p
}

func (p *pipe) Read(d []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(p.buf) > 0 {
			n = copy(d, p.buf)
			p.buf = p.buf[n:]
			return n, nil
		}
		if p.readErr != nil {
			return 0, p.readErr
		}
		if p.writeErr != nil {
			return 0, p.writeErr
		}
		p.c.Wait()
	}
}

func (p *pipe) Write(d []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	p.buf = append(p.buf, d...)
	p.c.Signal()
	return len(d), nil
}

// CloseWithError causes the next Read to return err once the buffer has
// drained (or immediately if err is io.EOF-like and the buffer is empty).
// Passing nil closes cleanly with io.EOF.
func (p *pipe) CloseWithError(err error) {
	if err == nil {
		err = io.EOF
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr == nil {
		p.readErr = err
	}
	p.c.Broadcast()
}

// BreakWithError unblocks a blocked Write immediately (used when the
// stream is reset while the upstream handler is still writing the body).
func (p *pipe) BreakWithError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr == nil {
		p.writeErr = err
	}
	p.c.Broadcast()
}

var errPipeClosed = errors.New("h2: body pipe closed")
