//go:build unix

package nbsftp

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (client int, server *os.File) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	return fds[0], os.NewFile(uintptr(fds[1]), "sftp-server")
}

func TestConnChannelTryRead(t *testing.T) {
	fd, peer := socketpair(t)
	defer peer.Close()

	ch, err := NewConnChannel(fd)
	require.NoError(t, err)
	defer ch.Close()

	buf := make([]byte, 16)

	_, err = ch.TryRead(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)

	_, err = peer.Write([]byte("hello"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.WaitReady(ctx, false))

	n, err := ch.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = ch.TryWrite([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got := make([]byte, 5)
	_, err = io.ReadFull(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	require.NoError(t, peer.Close())
	require.NoError(t, ch.WaitReady(ctx, false))

	_, err = ch.TryRead(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnChannelWaitReadyCanceled(t *testing.T) {
	fd, peer := socketpair(t)
	defer peer.Close()

	ch, err := NewConnChannel(fd)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, ch.WaitReady(ctx, false), context.DeadlineExceeded)
}

func TestConnChannelClient(t *testing.T) {
	fd, server := socketpair(t)
	serveSFTP(t, server)

	ch, err := NewConnChannel(fd)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cl, err := NewClient(ctx, ch)
	require.NoError(t, err)
	defer cl.Close()

	name := filepath.ToSlash(filepath.Join(t.TempDir(), "TEST"))
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}

	require.NoError(t, cl.WriteFile(name, data, 0o644))

	got, err := cl.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileConnChannel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		srv, err := sftpServer(conn)
		if err != nil {
			conn.Close()
			return
		}

		defer conn.Close()
		_ = srv.Serve()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ch, err := FileConnChannel(conn.(*net.TCPConn))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cl, err := NewClient(ctx, ch)
	require.NoError(t, err)
	defer cl.Close()

	fi, err := cl.Stat("/")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}
