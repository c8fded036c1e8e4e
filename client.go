package nbsftp

import (
	"context"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/kr/fs"
	"github.com/pkg/errors"
)

// idleBackoff is how long Client sleeps between pumps when the Channel cannot report readiness.
const idleBackoff = 2 * time.Millisecond

// Client is a blocking SFTP client built on a Session.
// It drives Session.Pump until each operation completes,
// waiting on the Channel's readiness when it implements Poller, or sleeping briefly when it does not.
//
// The methods of Client, and of the files it opens, are safe for concurrent use,
// but operations are serialized.
type Client struct {
	mu   sync.Mutex
	s    *Session
	poll Poller
}

// NewClient starts a Session over ch, and waits for the protocol version to be negotiated.
// The context is only used during initialization, and handshake.
func NewClient(ctx context.Context, ch Channel, opts ...SessionOption) (*Client, error) {
	s, err := NewSession(ch, opts...)
	if err != nil {
		return nil, err
	}

	cl := &Client{
		s: s,
	}
	cl.poll, _ = ch.(Poller)

	if err := cl.wait(ctx, s.Ready); err != nil {
		s.Shutdown()
		return nil, err
	}

	return cl, nil
}

// Session returns the underlying Session.
// It must not be used concurrently with the Client.
func (cl *Client) Session() *Session {
	return cl.s
}

// wait pumps the session until op returns anything but ErrWouldBlock.
func (cl *Client) wait(ctx context.Context, op func() error) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for {
		err := op()
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}

		res, perr := cl.s.Pump()
		if perr != nil {
			// The failure has been delivered to op as well, prefer its wrapping.
			if err := op(); !errors.Is(err, ErrWouldBlock) {
				return err
			}
			return perr
		}

		if res.BytesRead > 0 || res.BytesWritten > 0 {
			continue
		}

		if err := cl.idle(ctx, res.WantWrite); err != nil {
			return err
		}
	}
}

func (cl *Client) idle(ctx context.Context, wantWrite bool) error {
	if cl.poll != nil {
		return cl.poll.WaitReady(ctx, wantWrite)
	}

	t := time.NewTimer(idleBackoff)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func await[T any](ctx context.Context, cl *Client, start func() *Pending[T]) (T, error) {
	var p *Pending[T]
	var v T

	err := cl.wait(ctx, func() error {
		if p == nil {
			p = start()
		}

		var err error
		v, err = p.Result()
		return err
	})

	return v, err
}

// Close shuts the session down, and closes the Channel.
func (cl *Client) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.s.Shutdown()
}

// Stat returns a FileInfo describing the named file.
// If the file is a symbolic link, the returned FileInfo describes the link's target.
func (cl *Client) Stat(name string) (os.FileInfo, error) {
	return await(context.Background(), cl, func() *Pending[os.FileInfo] {
		return cl.s.Stat(name)
	})
}

// Lstat returns a FileInfo describing the named file.
// If the file is a symbolic link, the returned FileInfo describes the symbolic link.
// Lstat makes no attempt to follow the link.
func (cl *Client) Lstat(name string) (os.FileInfo, error) {
	return await(context.Background(), cl, func() *Pending[os.FileInfo] {
		return cl.s.Lstat(name)
	})
}

// RealPath can be used to have the server canonicalize any given path name to an absolute path.
func (cl *Client) RealPath(name string) (string, error) {
	return await(context.Background(), cl, func() *Pending[string] {
		return cl.s.RealPath(name)
	})
}

// Remove removes the named file.
func (cl *Client) Remove(name string) error {
	_, err := await(context.Background(), cl, func() *Pending[struct{}] {
		return cl.s.Remove(name)
	})
	return err
}

// ReadDir reads the named directory, returning all its directory entries sorted by filename.
// If an error occurs reading the directory,
// ReadDir returns the entries it was able to read before the error, along with the error.
func (cl *Client) ReadDir(name string) ([]os.FileInfo, error) {
	return await(context.Background(), cl, func() *Pending[[]os.FileInfo] {
		return cl.s.ReadDir(name)
	})
}

// Join joins any number of path elements into a single path, separated by slashes.
func (cl *Client) Join(elem ...string) string {
	return path.Join(elem...)
}

// Walk returns a new Walker rooted at root, that traverses the remote file tree.
func (cl *Client) Walk(root string) *fs.Walker {
	return fs.WalkFS(root, cl)
}

// ClientFile is a remote file opened through a Client, with blocking io semantics.
type ClientFile struct {
	cl *Client
	f  *File
}

// Open opens the named file for reading.
func (cl *Client) Open(name string) (*ClientFile, error) {
	return cl.OpenFile(name, OpenFlagReadOnly, 0)
}

// Create creates or truncates the named file.
// If the file does not exist, it is created with mode 0o666 (before umask).
func (cl *Client) Create(name string) (*ClientFile, error) {
	return cl.OpenFile(name, OpenFlagReadWrite|OpenFlagCreate|OpenFlagTruncate, 0o666)
}

// OpenFile is the generalized open call;
// most users can use the simplified Open or Create methods instead.
func (cl *Client) OpenFile(name string, flag int, perm os.FileMode) (*ClientFile, error) {
	var f *File

	err := cl.wait(context.Background(), func() error {
		if f == nil {
			var err error
			if f, err = cl.s.Open(name, flag, perm); err != nil {
				return err
			}
		}

		return f.Ready()
	})
	if err != nil {
		return nil, err
	}

	return &ClientFile{cl: cl, f: f}, nil
}

// Name returns the name of the file as passed to Open or Create.
func (cf *ClientFile) Name() string {
	return cf.f.Name()
}

// Read reads up to len(b) bytes from the file.
// It returns io.EOF at the end of the file.
func (cf *ClientFile) Read(b []byte) (n int, err error) {
	err = cf.cl.wait(context.Background(), func() error {
		var err error
		n, err = cf.f.Read(b)
		return err
	})

	return n, err
}

// Write writes len(b) bytes to the file.
// Writes are pipelined, a failed write may be reported by a later Write, or by Close.
func (cf *ClientFile) Write(b []byte) (n int, err error) {
	for len(b) > 0 {
		err := cf.cl.wait(context.Background(), func() error {
			k, err := cf.f.Write(b)
			n += k
			b = b[k:]

			if k > 0 && errors.Is(err, ErrWouldBlock) {
				return nil
			}

			return err
		})
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

// Seek sets the offset for the next Read or Write, as per File.Seek.
func (cf *ClientFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64

	err := cf.cl.wait(context.Background(), func() error {
		var err error
		abs, err = cf.f.Seek(offset, whence)
		return err
	})

	return abs, err
}

// Stat returns the FileInfo structure describing the file.
func (cf *ClientFile) Stat() (os.FileInfo, error) {
	return await(context.Background(), cf.cl, cf.f.Stat)
}

// Close waits for outstanding writes, then closes the file.
// It returns the first error of either.
func (cf *ClientFile) Close() error {
	flushErr := cf.cl.wait(context.Background(), cf.f.Flush)

	closeErr := cf.cl.wait(context.Background(), cf.f.Close)

	if flushErr != nil && !errors.Is(flushErr, os.ErrClosed) {
		return flushErr
	}

	return closeErr
}

// ReadFile reads the named file and returns the contents.
func (cl *Client) ReadFile(name string) ([]byte, error) {
	f, err := cl.Open(name)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	return data, err
}

// WriteFile writes data to the named file, creating it if necessary.
// If the file does not exist, WriteFile creates it with permissions perm (before umask);
// otherwise WriteFile truncates it before writing, without changing permissions.
func (cl *Client) WriteFile(name string, data []byte, perm os.FileMode) error {
	f, err := cl.OpenFile(name, OpenFlagWriteOnly|OpenFlagCreate|OpenFlagTruncate, perm)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	return err
}
