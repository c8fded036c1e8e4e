//go:build unix

package nbsftp

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pollInterval bounds how long WaitReady sleeps in poll(2) before checking its context again.
const pollInterval = 50 * time.Millisecond

// ConnChannel is a Channel over a stream socket file descriptor in non-blocking mode,
// such as a TCP connection to an SFTP server, or one end of a socketpair.
type ConnChannel struct {
	fd int

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*ConnChannel)(nil)
var _ Poller = (*ConnChannel)(nil)

// NewConnChannel takes ownership of the stream socket fd, and switches it to non-blocking mode.
func NewConnChannel(fd int) (*ConnChannel, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Wrap(os.NewSyscallError("setnonblock", err), "conn channel")
	}

	return &ConnChannel{fd: fd}, nil
}

// FileConnChannel returns a ConnChannel over a duplicate of the file descriptor of conn,
// for instance a *net.TCPConn or *net.UnixConn.
// The caller remains responsible for closing conn.
func FileConnChannel(conn interface{ File() (*os.File, error) }) (*ConnChannel, error) {
	f, err := conn.File()
	if err != nil {
		return nil, errors.Wrap(err, "conn channel")
	}
	defer f.Close()

	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("dup", err), "conn channel")
	}

	ch, err := NewConnChannel(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return ch, nil
}

func temporary(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

// TryRead reads from the socket without blocking.
func (c *ConnChannel) TryRead(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n, err := unix.Read(c.fd, p)
	switch {
	case err != nil && temporary(err):
		return 0, ErrWouldBlock
	case err != nil:
		return 0, os.NewSyscallError("read", err)
	case n == 0:
		return 0, io.EOF
	}

	return n, nil
}

// TryWrite writes to the socket without blocking.
func (c *ConnChannel) TryWrite(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n, err := unix.Write(c.fd, p)
	switch {
	case err != nil && temporary(err):
		return 0, ErrWouldBlock
	case err != nil:
		return 0, os.NewSyscallError("write", err)
	}

	return n, nil
}

// WaitReady waits in poll(2) until the socket is readable, or, if wantWrite is set, writable.
func (c *ConnChannel) WaitReady(ctx context.Context, wantWrite bool) error {
	events := int16(unix.POLLIN)
	if wantWrite {
		events |= unix.POLLOUT
	}

	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return os.NewSyscallError("poll", err)
		}

		if n > 0 {
			// Errors and hang ups are reported by the following TryRead.
			return nil
		}
	}
}

// Close closes the file descriptor.
func (c *ConnChannel) Close() error {
	c.closeOnce.Do(func() {
		if err := unix.Close(c.fd); err != nil {
			c.closeErr = os.NewSyscallError("close", err)
		}
	})

	return c.closeErr
}
