package nbsftp

import (
	"context"
)

// Channel is a non-blocking, bidirectional byte stream to an SFTP server,
// such as the "sftp" subsystem of an SSH session.
//
// Neither method may block.
// TryRead returns n > 0, or ErrWouldBlock when nothing is available,
// or io.EOF once the peer has closed the stream.
// TryWrite returns n > 0, or ErrWouldBlock when no bytes could be accepted.
// Any other error is a fatal transport failure.
type Channel interface {
	TryRead(p []byte) (n int, err error)
	TryWrite(p []byte) (n int, err error)
	Close() error
}

// Poller is implemented by Channels that can report readiness.
//
// WaitReady blocks until the Channel has data to read, has been closed or failed,
// or, if wantWrite is set, until it can accept more bytes.
// It returns early with the context's error if ctx is done.
type Poller interface {
	WaitReady(ctx context.Context, wantWrite bool) error
}
