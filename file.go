package nbsftp

import (
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// FileState is the lifecycle state of a File.
type FileState int

// File states.
// Opening moves to Open or Errored, Open to Closing, and Closing to Closed.
// Any state but Closed moves to Errored when the session fails.
// Closed and Errored are final.
const (
	StateOpening FileState = iota
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s FileState) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "FileState(" + strconv.Itoa(int(s)) + ")"
	}
}

// File is a remote file handle, driven by the Session that opened it.
//
// Reads are sequential, with at most one SSH_FXP_READ outstanding.
// Writes are pipelined, with up to the session's max inflight SSH_FXP_WRITE requests outstanding.
type File struct {
	s    *Session
	name string

	state  FileState
	handle string
	err    error // cause of StateErrored, or the result of Close in StateClosed

	closeRequested bool // Close was called before the handle arrived

	offset  int64  // offset of the next byte to request from, or write to, the server
	gen     uint64 // bumped whenever the cursor moves under an outstanding read
	rbuf    []byte // data received but not yet returned by Read
	reading bool
	eof     bool
	rerr    error

	writes int
	werr   error
}

// These aliases to the os package values are provided as a convenience to avoid needing two imports to use Open.
const (
	// Exactly one of OpenFlagReadOnly, OpenFlagWriteOnly, OpenFlagReadWrite must be specified.
	OpenFlagReadOnly  = os.O_RDONLY
	OpenFlagWriteOnly = os.O_WRONLY
	OpenFlagReadWrite = os.O_RDWR
	// The remaining values may be or'ed in to control behavior.
	OpenFlagAppend    = os.O_APPEND
	OpenFlagCreate    = os.O_CREATE
	OpenFlagTruncate  = os.O_TRUNC
	OpenFlagExclusive = os.O_EXCL
)

// toPortableFlags converts the flags passed to Open into SFTP flags.
// Unsupported flags are ignored.
func toPortableFlags(f int) uint32 {
	var out uint32
	switch f & (OpenFlagReadOnly | OpenFlagWriteOnly | OpenFlagReadWrite) {
	case OpenFlagReadOnly:
		out |= sshfx.FlagRead
	case OpenFlagWriteOnly:
		out |= sshfx.FlagWrite
	case OpenFlagReadWrite:
		out |= sshfx.FlagRead | sshfx.FlagWrite
	}
	if f&OpenFlagAppend == OpenFlagAppend {
		out |= sshfx.FlagAppend
	}
	if f&OpenFlagCreate == OpenFlagCreate {
		out |= sshfx.FlagCreate
	}
	if f&OpenFlagTruncate == OpenFlagTruncate {
		out |= sshfx.FlagTruncate
	}
	if f&OpenFlagExclusive == OpenFlagExclusive {
		out |= sshfx.FlagExclusive
	}
	return out
}

// Open queues an SSH_FXP_OPEN request for the named file, with the specified flag (OpenFlagReadOnly, etc.).
// If the file does not exist, and OpenFlagCreate is passed, it is created with mode perm (before umask).
//
// The returned File starts in StateOpening, use File.Ready to learn when it is usable.
// An error is returned only if the request could not be queued.
func (s *Session) Open(name string, flag int, perm fs.FileMode) (*File, error) {
	f := &File{
		s:    s,
		name: name,
	}

	err := s.dispatch(&sshfx.OpenPacket{
		Filename: name,
		PFlags:   toPortableFlags(flag),
		Attrs: sshfx.Attributes{
			Flags:       sshfx.AttrPermissions,
			Permissions: sshfx.FileMode(perm.Perm()),
		},
	}, f, f.opened)
	if err != nil {
		return nil, wrapPathError("open", name, err)
	}

	s.track(f)

	return f, nil
}

func (f *File) wrapErr(op string, err error) error {
	return wrapPathError(op, f.name, err)
}

// Name returns the name of the file as passed to Open.
func (f *File) Name() string {
	return f.name
}

// State returns the current lifecycle state.
func (f *File) State() FileState {
	return f.state
}

// Offset returns the offset the next Read or Write will use.
func (f *File) Offset() int64 {
	return f.offset - int64(len(f.rbuf))
}

// Buffered returns the number of bytes received from the server that Read has not yet returned.
func (f *File) Buffered() int {
	return len(f.rbuf)
}

// Ready returns nil once the file is open, ErrWouldBlock while the open is in flight,
// or the error that made the file unusable.
func (f *File) Ready() error {
	switch f.state {
	case StateOpening:
		return ErrWouldBlock
	case StateOpen:
		return nil
	case StateErrored:
		return f.wrapErr("open", f.err)
	default:
		return f.wrapErr("open", fs.ErrClosed)
	}
}

// usable checks that new requests may be issued on the handle.
func (f *File) usable(op string) error {
	if f.closeRequested {
		return f.wrapErr(op, fs.ErrClosed)
	}

	switch f.state {
	case StateOpening:
		return ErrWouldBlock
	case StateOpen:
		return nil
	case StateErrored:
		return f.wrapErr(op, f.err)
	default:
		return f.wrapErr(op, fs.ErrClosed)
	}
}

// fail moves the file to StateErrored, unless it has already reached a final state.
func (f *File) fail(err error) {
	if f.state == StateClosed || f.state == StateErrored {
		return
	}

	f.state = StateErrored
	f.err = err
	f.reading = false
	f.s.forget(f)
}

func (f *File) opened(raw *sshfx.RawPacket, err error) error {
	if err != nil {
		f.fail(err)
		return nil
	}

	pkt, err := expectPacket[sshfx.HandlePacket](raw)
	if err != nil {
		f.fail(err)
		return fatalOnly(err)
	}

	f.handle = pkt.Handle
	f.state = StateOpen

	if f.closeRequested {
		// The error, if any, has already moved the file to StateErrored.
		_ = f.sendClose()
	}

	return nil
}

// dropReadAhead forgets data requested or received ahead of the cursor.
func (f *File) dropReadAhead() {
	f.offset -= int64(len(f.rbuf))
	f.rbuf = f.rbuf[:0]
	f.eof = false

	if f.reading {
		f.gen++
		f.reading = false
	}
}

// Read reads up to len(p) bytes from the file at the cursor.
//
// Buffered data is returned first.
// Otherwise, Read issues a single SSH_FXP_READ of up to min(len(p), max data length) bytes,
// unless one is already outstanding, and returns ErrWouldBlock.
// Once the server reports end of file, Read returns 0, io.EOF on every call,
// and never issues another request.
func (f *File) Read(p []byte) (int, error) {
	if len(f.rbuf) > 0 {
		n := copy(p, f.rbuf)
		f.rbuf = f.rbuf[:copy(f.rbuf, f.rbuf[n:])]
		return n, nil
	}

	if err := f.usable("read"); err != nil {
		return 0, err
	}

	if f.eof {
		return 0, io.EOF
	}

	if err := f.rerr; err != nil {
		f.rerr = nil
		return 0, f.wrapErr("read", err)
	}

	if len(p) == 0 {
		return 0, nil
	}

	if !f.reading {
		if err := f.requestRead(min(len(p), f.s.maxDataLen)); err != nil {
			return 0, f.wrapErr("read", err)
		}
	}

	return 0, ErrWouldBlock
}

func (f *File) requestRead(length int) error {
	gen := f.gen

	err := f.s.dispatch(&sshfx.ReadPacket{
		Handle: f.handle,
		Offset: uint64(f.offset),
		Length: uint32(length),
	}, f, func(raw *sshfx.RawPacket, err error) error {
		return f.readDone(gen, raw, err)
	})
	if err != nil {
		return err
	}

	f.reading = true
	return nil
}

func (f *File) readDone(gen uint64, raw *sshfx.RawPacket, err error) error {
	if err != nil {
		f.fail(err)
		return nil
	}

	if f.state != StateOpen || gen != f.gen {
		f.s.res.Discarded++
		return nil
	}

	f.reading = false

	pkt, err := expectPacket[sshfx.DataPacket](raw)
	switch {
	case err == nil:
		// pkt.Data aliases the session read buffer.
		f.rbuf = append(f.rbuf, pkt.Data...)
		f.offset += int64(len(pkt.Data))

	case err == io.EOF:
		f.eof = true

	case isSessionFatal(err):
		return err

	default:
		f.rerr = err
	}

	return nil
}

// Write queues SSH_FXP_WRITE requests for p at the cursor,
// in chunks of at most the session's max data length.
//
// At most max inflight writes may be outstanding on the file.
// If not all of p could be queued, Write returns the number of bytes queued along with ErrWouldBlock,
// and the caller should retry with the remainder after pumping.
// A failed write is reported by every later Write, and by Flush.
func (f *File) Write(p []byte) (int, error) {
	if err := f.usable("write"); err != nil {
		return 0, err
	}

	if f.werr != nil {
		return 0, f.wrapErr("write", f.werr)
	}

	if len(p) == 0 {
		return 0, nil
	}

	f.dropReadAhead()

	var n int
	for n < len(p) && f.writes < f.s.maxInflight {
		chunk := p[n:min(n+f.s.maxDataLen, len(p))]

		err := f.s.dispatch(&sshfx.WritePacket{
			Handle: f.handle,
			Offset: uint64(f.offset),
			Data:   chunk,
		}, f, f.written)
		if err != nil {
			return n, f.wrapErr("write", err)
		}

		f.writes++
		f.offset += int64(len(chunk))
		n += len(chunk)
	}

	if n < len(p) {
		return n, ErrWouldBlock
	}

	return n, nil
}

// WriteString is like Write, but writes the contents of string s rather than a slice of bytes.
func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *File) written(raw *sshfx.RawPacket, err error) error {
	if err != nil {
		f.fail(err)
		return nil
	}

	f.writes--

	if f.state != StateOpen {
		f.s.res.Discarded++
		return nil
	}

	if err := expectStatus(raw); err != nil {
		if isSessionFatal(err) {
			return err
		}

		if f.werr == nil {
			f.werr = err
		}
	}

	return nil
}

// Flush returns ErrWouldBlock until every queued write has been acknowledged,
// then nil, or the error of the first write that failed.
func (f *File) Flush() error {
	if err := f.usable("write"); err != nil {
		return err
	}

	if f.writes > 0 {
		return ErrWouldBlock
	}

	return f.wrapErr("write", f.werr)
}

// Seek sets the offset for the next Read or Write on file to offset,
// interpreted according to whence:
// io.SeekStart means relative to the origin of the file,
// and io.SeekCurrent means relative to the current offset.
// Data read ahead of the old offset is discarded.
//
// io.SeekEnd would need the size of the file, use Stat for that instead.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.state != StateOpening && f.state != StateOpen {
		return 0, f.usable("seek")
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.Offset() + offset
	default:
		return 0, f.wrapErr("seek", errors.Wrapf(fs.ErrInvalid, "unsupported whence: %d", whence))
	}

	if abs < 0 {
		return 0, f.wrapErr("seek", errors.Wrapf(fs.ErrInvalid, "negative offset: %d", abs))
	}

	if abs == f.Offset() {
		return abs, nil
	}

	f.dropReadAhead()
	f.offset = abs

	return abs, nil
}

// Stat queues an SSH_FXP_FSTAT request on the handle.
// The file must be Ready.
func (f *File) Stat() *Pending[fs.FileInfo] {
	if err := f.usable("fstat"); err != nil {
		return failed[fs.FileInfo](err)
	}

	p := new(Pending[fs.FileInfo])

	err := f.s.dispatch(&sshfx.FStatPacket{
		Handle: f.handle,
	}, f, func(raw *sshfx.RawPacket, err error) error {
		if err != nil {
			p.resolve(nil, f.wrapErr("fstat", err))
			return nil
		}

		pkt, err := expectPacket[sshfx.AttrsPacket](raw)
		if err != nil {
			p.resolve(nil, f.wrapErr("fstat", err))
			return fatalOnly(err)
		}

		p.resolve(newFileInfo(path.Base(f.name), &pkt.Attrs), nil)
		return nil
	})
	if err != nil {
		p.resolve(nil, f.wrapErr("fstat", err))
	}

	return p
}

// Close issues SSH_FXP_CLOSE on the first call, and returns ErrWouldBlock until the server has answered.
// Then it returns nil, or the error the server reported, on every call.
//
// Responses to requests still outstanding on the file are dropped when they arrive,
// and no new requests are issued for the handle.
func (f *File) Close() error {
	switch f.state {
	case StateOpening:
		f.closeRequested = true
		return ErrWouldBlock

	case StateOpen:
		if err := f.sendClose(); err != nil {
			return err
		}
		return ErrWouldBlock

	case StateClosing:
		return ErrWouldBlock

	default:
		return f.wrapErr("close", f.err)
	}
}

func (f *File) sendClose() error {
	f.state = StateClosing
	f.rbuf = nil

	err := f.s.dispatch(&sshfx.ClosePacket{
		Handle: f.handle,
	}, f, f.closed)
	if err != nil {
		f.fail(err)
		return f.wrapErr("close", err)
	}

	return nil
}

func (f *File) closed(raw *sshfx.RawPacket, err error) error {
	if err != nil {
		f.fail(err)
		return nil
	}

	err = expectStatus(raw)
	if isSessionFatal(err) {
		f.fail(err)
		return err
	}

	f.state = StateClosed
	f.err = err
	f.s.forget(f)

	f.s.log.Debug("sftp file closed", "path", f.name, "err", err)

	return nil
}
