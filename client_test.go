package nbsftp

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeEnd struct {
	io.Reader
	io.WriteCloser
}

// serveSFTP runs a github.com/pkg/sftp server on one end of rwc until it is closed.
func serveSFTP(t *testing.T, rwc io.ReadWriteCloser) {
	t.Helper()

	srv, err := sftpServer(rwc)
	require.NoError(t, err)

	go func() {
		defer rwc.Close()

		// The server exits with an error when its pipe is torn down, which is expected here.
		_ = srv.Serve()
	}()
}

func sftpServer(rwc io.ReadWriteCloser) (*sftp.Server, error) {
	return sftp.NewServer(rwc)
}

// newPipeClient connects a Client to an in-process SFTP server over a pair of pipes.
func newPipeClient(t *testing.T, opts ...SessionOption) *Client {
	t.Helper()

	toServer, fromClient := io.Pipe()
	toClient, fromServer := io.Pipe()

	serveSFTP(t, pipeEnd{Reader: toServer, WriteCloser: fromServer})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cl, err := NewClient(ctx, NewPipeChannel(toClient, fromClient), opts...)
	require.NoError(t, err)

	t.Cleanup(func() { cl.Close() })

	return cl
}

func TestClientWriteReadFile(t *testing.T) {
	cl := newPipeClient(t)
	dir := t.TempDir()

	name := filepath.ToSlash(filepath.Join(dir, "data.bin"))

	// Several maximum sized requests, and a short tail.
	data := bytes.Repeat([]byte("0123456789abcdef"), 20000+3)

	require.NoError(t, cl.WriteFile(name, data, 0o640))

	local, err := os.ReadFile(filepath.Join(dir, "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, local)

	got, err := cl.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	fi, err := cl.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, "data.bin", fi.Name())
	assert.EqualValues(t, len(data), fi.Size())
	assert.True(t, fi.Mode().IsRegular())
}

func TestClientFileSeek(t *testing.T) {
	cl := newPipeClient(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "seek"), []byte("hello, world"), 0o644))

	f, err := cl.Open(filepath.ToSlash(filepath.Join(dir, "seek")))
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 5)

	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	abs, err := f.Seek(7, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 7, abs)

	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))

	_, err = f.Read(buf)
	assert.Equal(t, io.EOF, err)

	fi, err := f.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 12, fi.Size())

	require.NoError(t, f.Close())
	assert.NoError(t, f.Close(), "closing twice reports the same result")
}

func TestClientOpenMissing(t *testing.T) {
	cl := newPipeClient(t)

	_, err := cl.Open(filepath.ToSlash(filepath.Join(t.TempDir(), "missing")))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var perr *fs.PathError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "open", perr.Op)

	// A failed request does not affect the session.
	_, err = cl.RealPath("/")
	assert.NoError(t, err)
}

func TestClientReadDirRemove(t *testing.T) {
	cl := newPipeClient(t)
	dir := t.TempDir()

	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	rdir := filepath.ToSlash(dir)

	fis, err := cl.ReadDir(rdir)
	require.NoError(t, err)

	var names []string
	for _, fi := range fis {
		names = append(names, fi.Name())
	}
	assert.Equal(t, []string{"a", "b", "c", "sub"}, names)
	assert.True(t, fis[3].IsDir())

	require.NoError(t, cl.Remove(cl.Join(rdir, "b")))

	_, err = os.Stat(filepath.Join(dir, "b"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	err = cl.Remove(cl.Join(rdir, "b"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = cl.ReadDir(cl.Join(rdir, "nope"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestClientRealPath(t *testing.T) {
	cl := newPipeClient(t)
	dir := filepath.ToSlash(t.TempDir())

	got, err := cl.RealPath(dir + "/x/../.")
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestClientWalk(t *testing.T) {
	cl := newPipeClient(t)
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "leaf"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top"), nil, 0o644))

	root := filepath.ToSlash(dir)

	var got []string
	for w := cl.Walk(root); w.Step(); {
		require.NoError(t, w.Err())

		rel, err := filepath.Rel(dir, filepath.FromSlash(w.Path()))
		require.NoError(t, err)

		got = append(got, filepath.ToSlash(rel))
	}

	sort.Strings(got)
	assert.Equal(t, []string{".", "a", "a/b", "a/b/leaf", "top"}, got)
}

func TestClientSessionEndsOnServerExit(t *testing.T) {
	toServer, fromClient := io.Pipe()
	toClient, fromServer := io.Pipe()

	serveSFTP(t, pipeEnd{Reader: toServer, WriteCloser: fromServer})

	cl, err := NewClient(context.Background(), NewPipeChannel(toClient, fromClient))
	require.NoError(t, err)
	defer cl.Close()

	// Tearing down the server side ends the session.
	toServer.Close()
	fromServer.Close()

	_, err = cl.Stat("/")

	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestPipeChannel(t *testing.T) {
	rd, wr := io.Pipe()
	peer, out := io.Pipe()

	ch := newPipeChannel(rd, out, nil, 8)
	defer ch.Close()

	n, err := ch.TryRead(make([]byte, 4))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrWouldBlock)

	go wr.Write([]byte("ping"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.WaitReady(ctx, false))

	buf := make([]byte, 4)
	n, err = ch.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	// Only as much as the buffer limit is accepted at once.
	n, err = ch.TryWrite([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	got := make([]byte, 8)
	_, err = io.ReadFull(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "01234567", string(got))

	wr.Close()
	require.NoError(t, ch.WaitReady(ctx, false))

	_, err = ch.TryRead(buf)
	assert.ErrorIs(t, err, io.EOF)
}
