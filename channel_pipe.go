package nbsftp

import (
	"context"
	"io"
	"sync"
)

const defaultPipeBufferSize = 256 * 1024

// PipeChannel adapts a blocking reader and writer pair, such as the stdout and stdin of an ssh session,
// into a non-blocking Channel.
//
// One goroutine reads ahead from the reader into a bounded buffer,
// and one goroutine drains a bounded buffer of outbound bytes into the writer.
// TryRead and TryWrite only ever touch those buffers.
type PipeChannel struct {
	rd io.Reader
	wr io.WriteCloser

	closer io.Closer // released on Close, after wr

	limit int

	mu     sync.Mutex
	cond   sync.Cond
	rbuf   []byte
	rerr   error
	wbuf   []byte
	spare  []byte
	werr   error
	closed bool

	ready     chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*PipeChannel)(nil)
var _ Poller = (*PipeChannel)(nil)

// NewPipeChannel returns a Channel that reads from rd and writes to wr.
// Closing the Channel closes wr.
//
// This can be used for connecting to an SFTP server over TCP/TLS, or by using the system's ssh client program.
func NewPipeChannel(rd io.Reader, wr io.WriteCloser) *PipeChannel {
	return newPipeChannel(rd, wr, nil, defaultPipeBufferSize)
}

func newPipeChannel(rd io.Reader, wr io.WriteCloser, closer io.Closer, limit int) *PipeChannel {
	p := &PipeChannel{
		rd:     rd,
		wr:     wr,
		closer: closer,
		limit:  limit,
		ready:  make(chan struct{}, 1),
	}
	p.cond.L = &p.mu

	go p.readLoop()
	go p.writeLoop()

	return p
}

// notify wakes up a waiter in WaitReady, if there is one.
func (p *PipeChannel) notify() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *PipeChannel) readLoop() {
	buf := make([]byte, 32*1024)

	for {
		p.mu.Lock()
		for len(p.rbuf) >= p.limit && !p.closed {
			p.cond.Wait()
		}
		closed := p.closed
		p.mu.Unlock()

		if closed {
			return
		}

		n, err := p.rd.Read(buf)

		p.mu.Lock()
		p.rbuf = append(p.rbuf, buf[:n]...)
		if err != nil {
			p.rerr = err
		}
		p.mu.Unlock()

		p.notify()

		if err != nil {
			return
		}
	}
}

func (p *PipeChannel) writeLoop() {
	for {
		p.mu.Lock()
		for len(p.wbuf) == 0 && !p.closed {
			p.cond.Wait()
		}

		if p.closed {
			p.mu.Unlock()
			return
		}

		// Swap the buffers, so TryWrite can keep appending while this one is written out.
		out := p.wbuf
		p.wbuf = p.spare[:0]
		p.mu.Unlock()

		_, err := p.wr.Write(out)

		p.mu.Lock()
		p.spare = out[:0]
		if err != nil {
			p.werr = err
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		p.notify()

		if err != nil {
			return
		}
	}
}

// TryRead copies read-ahead bytes into b.
// It returns ErrWouldBlock if there are none,
// and io.EOF once the reader has reached its end and every byte has been consumed.
func (p *PipeChannel) TryRead(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.rbuf) > 0 {
		n := copy(b, p.rbuf)
		p.rbuf = p.rbuf[:copy(p.rbuf, p.rbuf[n:])]
		p.cond.Broadcast()
		return n, nil
	}

	if p.rerr != nil {
		return 0, p.rerr
	}

	if p.closed {
		return 0, io.ErrClosedPipe
	}

	return 0, ErrWouldBlock
}

// TryWrite queues as much of b as fits into the outbound buffer.
// It returns ErrWouldBlock if the buffer is full.
func (p *PipeChannel) TryWrite(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.werr != nil {
		return 0, p.werr
	}

	if p.closed {
		return 0, io.ErrClosedPipe
	}

	space := p.limit - len(p.wbuf)
	if space <= 0 {
		return 0, ErrWouldBlock
	}

	n := min(space, len(b))
	p.wbuf = append(p.wbuf, b[:n]...)
	p.cond.Broadcast()

	return n, nil
}

func (p *PipeChannel) readyLocked(wantWrite bool) bool {
	if len(p.rbuf) > 0 || p.rerr != nil || p.werr != nil || p.closed {
		return true
	}

	return wantWrite && len(p.wbuf) < p.limit
}

// WaitReady blocks until TryRead would not return ErrWouldBlock,
// or, if wantWrite is set, until TryWrite would not.
func (p *PipeChannel) WaitReady(ctx context.Context, wantWrite bool) error {
	for {
		p.mu.Lock()
		ready := p.readyLocked(wantWrite)
		p.mu.Unlock()

		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ready:
		}
	}
}

// Close closes the writer, and stops both goroutines.
// Bytes not yet written are dropped.
func (p *PipeChannel) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()

		p.notify()

		p.closeErr = p.wr.Close()

		if p.closer != nil {
			if err := p.closer.Close(); err != nil && p.closeErr == nil {
				p.closeErr = err
			}
		}
	})

	return p.closeErr
}
