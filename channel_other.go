//go:build !unix

package nbsftp

import (
	"context"
	"os"

	"github.com/pkg/errors"
)

var errConnChannelUnsupported = errors.New("sftp: ConnChannel is not supported on this platform")

// ConnChannel is a Channel over a stream socket file descriptor.
// It is only available on unix platforms.
type ConnChannel struct{}

// NewConnChannel always fails on this platform.
func NewConnChannel(fd int) (*ConnChannel, error) {
	return nil, errConnChannelUnsupported
}

// FileConnChannel always fails on this platform.
func FileConnChannel(conn interface{ File() (*os.File, error) }) (*ConnChannel, error) {
	return nil, errConnChannelUnsupported
}

func (c *ConnChannel) TryRead(p []byte) (int, error)  { return 0, errConnChannelUnsupported }
func (c *ConnChannel) TryWrite(p []byte) (int, error) { return 0, errConnChannelUnsupported }
func (c *ConnChannel) Close() error                   { return errConnChannelUnsupported }

func (c *ConnChannel) WaitReady(ctx context.Context, wantWrite bool) error {
	return errConnChannelUnsupported
}
