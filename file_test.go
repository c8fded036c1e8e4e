package nbsftp

import (
	"bytes"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

func TestFileReadToEOF(t *testing.T) {
	s, ch := newTestSession(t)

	content := bytes.Repeat([]byte("0123456789abcdef"), 32) // 512 bytes

	f, err := s.Open("/tmp/TEST", OpenFlagReadOnly, 0)
	require.NoError(t, err)
	assert.Equal(t, StateOpening, f.State())
	assert.ErrorIs(t, f.Ready(), ErrWouldBlock)

	pump(t, s)

	var open sshfx.OpenPacket
	id := ch.request(t, &open)
	assert.Equal(t, "/tmp/TEST", open.Filename)
	assert.EqualValues(t, sshfx.FlagRead, open.PFlags)

	ch.reply(t, id, &sshfx.HandlePacket{Handle: "h1"})
	pump(t, s)
	require.NoError(t, f.Ready())

	buf := make([]byte, 1024)

	n, err := f.Read(buf)
	assert.Equal(t, 0, n)
	require.ErrorIs(t, err, ErrWouldBlock)

	pump(t, s)

	var read sshfx.ReadPacket
	id = ch.request(t, &read)
	assert.Equal(t, "h1", read.Handle)
	assert.EqualValues(t, 0, read.Offset)
	assert.EqualValues(t, 1024, read.Length)

	ch.reply(t, id, &sshfx.DataPacket{Data: content})
	res := pump(t, s)
	assert.Equal(t, 1, res.Resolved)

	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf[:n])
	assert.EqualValues(t, 512, f.Offset())

	n, err = f.Read(buf)
	assert.Equal(t, 0, n)
	require.ErrorIs(t, err, ErrWouldBlock)

	pump(t, s)

	id = ch.request(t, &read)
	assert.EqualValues(t, 512, read.Offset)

	ch.replyStatus(t, id, sshfx.StatusEOF)
	pump(t, s)

	for i := 0; i < 3; i++ {
		n, err = f.Read(buf)
		assert.Equal(t, 0, n)
		assert.Equal(t, io.EOF, err)
	}

	pump(t, s)
	assert.Empty(t, ch.requests(t), "no request may follow end of file")

	require.ErrorIs(t, f.Close(), ErrWouldBlock)
	pump(t, s)

	var cl sshfx.ClosePacket
	id = ch.request(t, &cl)
	assert.Equal(t, "h1", cl.Handle)

	ch.replyStatus(t, id, sshfx.StatusOK)
	pump(t, s)

	assert.NoError(t, f.Close())
	assert.Equal(t, StateClosed, f.State())
}

func TestFileReadBufferedFIFO(t *testing.T) {
	s, ch := newTestSession(t)
	f := openTestFile(t, s, ch, "/foo", "h")

	_, err := f.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrWouldBlock)

	pump(t, s)

	var read sshfx.ReadPacket
	id := ch.request(t, &read)
	assert.EqualValues(t, 8, read.Length)

	ch.reply(t, id, &sshfx.DataPacket{Data: []byte("abcdefgh")})
	pump(t, s)

	assert.Equal(t, 8, f.Buffered())

	small := make([]byte, 3)
	var got []byte
	for f.Buffered() > 0 {
		n, err := f.Read(small)
		require.NoError(t, err)
		got = append(got, small[:n]...)
	}

	assert.Equal(t, "abcdefgh", string(got))
}

func TestFileReadLengthCappedByMaxData(t *testing.T) {
	s, ch := newTestSession(t, WithMaxDataLength(100))
	f := openTestFile(t, s, ch, "/foo", "h")

	_, err := f.Read(make([]byte, 4096))
	require.ErrorIs(t, err, ErrWouldBlock)

	// A second Read does not issue a second request.
	_, err = f.Read(make([]byte, 4096))
	require.ErrorIs(t, err, ErrWouldBlock)

	pump(t, s)

	var read sshfx.ReadPacket
	ch.request(t, &read)
	assert.EqualValues(t, 100, read.Length)
}

func TestFileReadEmptyData(t *testing.T) {
	s, ch := newTestSession(t)
	f := openTestFile(t, s, ch, "/foo", "h")

	buf := make([]byte, 16)

	_, err := f.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
	pump(t, s)

	var read sshfx.ReadPacket
	id := ch.request(t, &read)

	ch.reply(t, id, &sshfx.DataPacket{})
	pump(t, s)

	// Empty data is not the end of the file.
	_, err = f.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
	pump(t, s)

	ch.request(t, &read)
	assert.EqualValues(t, 0, read.Offset)
}

func TestFileReadFailure(t *testing.T) {
	s, ch := newTestSession(t)
	f := openTestFile(t, s, ch, "/foo", "h")

	buf := make([]byte, 16)

	_, err := f.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
	pump(t, s)

	var read sshfx.ReadPacket
	ch.replyStatus(t, ch.request(t, &read), sshfx.StatusPermissionDenied)
	pump(t, s)

	_, err = f.Read(buf)
	assert.ErrorIs(t, err, fs.ErrPermission)

	var perr *fs.PathError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "read", perr.Op)
	assert.Equal(t, "/foo", perr.Path)

	// The file stays usable.
	assert.Equal(t, StateOpen, f.State())
}

func TestFileOpenFailure(t *testing.T) {
	s, ch := newTestSession(t)

	f, err := s.Open("/missing", OpenFlagReadOnly, 0)
	require.NoError(t, err)

	pump(t, s)

	var open sshfx.OpenPacket
	ch.replyStatus(t, ch.request(t, &open), sshfx.StatusNoSuchFile)
	pump(t, s)

	assert.Equal(t, StateErrored, f.State())
	assert.ErrorIs(t, f.Ready(), fs.ErrNotExist)

	var status *sshfx.StatusPacket
	require.ErrorAs(t, f.Ready(), &status)
	assert.Equal(t, sshfx.StatusNoSuchFile, status.StatusCode)

	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileWriteChunksAndBackpressure(t *testing.T) {
	s, ch := newTestSession(t, WithMaxDataLength(4), WithMaxInflight(2))
	f := openTestFile(t, s, ch, "/foo", "h")

	data := []byte("abcdefghijkl")

	n, err := f.Write(data)
	assert.Equal(t, 8, n)
	require.ErrorIs(t, err, ErrWouldBlock)

	n, err = f.Write(data[8:])
	assert.Equal(t, 0, n)
	require.ErrorIs(t, err, ErrWouldBlock)

	pump(t, s)

	pkts := ch.requests(t)
	require.Len(t, pkts, 2)

	for i, raw := range pkts {
		var w sshfx.WritePacket
		require.NoError(t, w.UnmarshalPacketBody(&raw.Data))

		assert.EqualValues(t, 4*i, w.Offset)
		assert.Equal(t, data[4*i:4*i+4], w.Data)
	}

	ch.replyStatus(t, pkts[0].RequestID, sshfx.StatusOK)
	pump(t, s)

	n, err = f.Write(data[8:])
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.ErrorIs(t, f.Flush(), ErrWouldBlock)

	pump(t, s)

	var w sshfx.WritePacket
	id := ch.request(t, &w)
	assert.EqualValues(t, 8, w.Offset)

	ch.replyStatus(t, pkts[1].RequestID, sshfx.StatusOK)
	ch.replyStatus(t, id, sshfx.StatusOK)
	pump(t, s)

	assert.NoError(t, f.Flush())
	assert.EqualValues(t, 12, f.Offset())
}

func TestFileWriteFailure(t *testing.T) {
	s, ch := newTestSession(t)
	f := openTestFile(t, s, ch, "/foo", "h")

	n, err := f.Write([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	pump(t, s)

	var w sshfx.WritePacket
	ch.replyStatus(t, ch.request(t, &w), sshfx.StatusFailure)
	pump(t, s)

	assert.ErrorIs(t, f.Flush(), sshfx.StatusFailure)

	_, err = f.Write([]byte("more"))
	assert.ErrorIs(t, err, sshfx.StatusFailure)
}

func TestFileCloseDiscardsInflight(t *testing.T) {
	s, ch := newTestSession(t, WithMaxDataLength(4))
	f := openTestFile(t, s, ch, "/foo", "h")

	_, err := f.Write([]byte("abcdefghijkl"))
	require.NoError(t, err)

	require.ErrorIs(t, f.Close(), ErrWouldBlock)
	assert.Equal(t, StateClosing, f.State())

	// No new requests once closing.
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, fs.ErrClosed)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, fs.ErrClosed)

	pump(t, s)

	pkts := ch.requests(t)
	require.Len(t, pkts, 4)
	require.Equal(t, sshfx.PacketTypeClose, pkts[3].PacketType)

	for _, raw := range pkts {
		ch.replyStatus(t, raw.RequestID, sshfx.StatusOK)
	}

	res := pump(t, s)
	assert.Equal(t, 4, res.Resolved)
	assert.Equal(t, 3, res.Discarded)
	assert.Zero(t, res.Unmatched)

	assert.NoError(t, f.Close())
	assert.Equal(t, StateClosed, f.State())

	// Close is idempotent once closed.
	assert.NoError(t, f.Close())
	pump(t, s)
	assert.Empty(t, ch.requests(t))
}

func TestFileCloseFailure(t *testing.T) {
	s, ch := newTestSession(t)
	f := openTestFile(t, s, ch, "/foo", "h")

	require.ErrorIs(t, f.Close(), ErrWouldBlock)
	pump(t, s)

	var cl sshfx.ClosePacket
	ch.replyStatus(t, ch.request(t, &cl), sshfx.StatusFailure)
	pump(t, s)

	assert.Equal(t, StateClosed, f.State())
	assert.ErrorIs(t, f.Close(), sshfx.StatusFailure)
}

func TestFileCloseWhileOpening(t *testing.T) {
	s, ch := newTestSession(t)

	f, err := s.Open("/foo", OpenFlagReadOnly, 0)
	require.NoError(t, err)

	require.ErrorIs(t, f.Close(), ErrWouldBlock)

	pump(t, s)

	var open sshfx.OpenPacket
	ch.reply(t, ch.request(t, &open), &sshfx.HandlePacket{Handle: "h"})
	pump(t, s)

	assert.Equal(t, StateClosing, f.State())

	var cl sshfx.ClosePacket
	id := ch.request(t, &cl)
	assert.Equal(t, "h", cl.Handle)

	ch.replyStatus(t, id, sshfx.StatusOK)
	pump(t, s)

	assert.NoError(t, f.Close())
}

func TestFileSeekDiscardsStaleRead(t *testing.T) {
	s, ch := newTestSession(t)
	f := openTestFile(t, s, ch, "/foo", "h")

	buf := make([]byte, 16)

	_, err := f.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)

	abs, err := f.Seek(100, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 100, abs)

	_, err = f.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)

	pump(t, s)

	pkts := ch.requests(t)
	require.Len(t, pkts, 2)

	var stale, fresh sshfx.ReadPacket
	require.NoError(t, stale.UnmarshalPacketBody(&pkts[0].Data))
	require.NoError(t, fresh.UnmarshalPacketBody(&pkts[1].Data))
	assert.EqualValues(t, 0, stale.Offset)
	assert.EqualValues(t, 100, fresh.Offset)

	ch.reply(t, pkts[0].RequestID, &sshfx.DataPacket{Data: []byte("stale")})
	ch.reply(t, pkts[1].RequestID, &sshfx.DataPacket{Data: []byte("fresh")})

	res := pump(t, s)
	assert.Equal(t, 1, res.Discarded)

	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(buf[:n]))
	assert.EqualValues(t, 105, f.Offset())

	abs, err = f.Seek(-5, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 100, abs)

	_, err = f.Seek(0, io.SeekEnd)
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, err = f.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestFileStat(t *testing.T) {
	s, ch := newTestSession(t)
	f := openTestFile(t, s, ch, "/tmp/TEST", "h")

	p := f.Stat()
	_, err := p.Result()
	require.ErrorIs(t, err, ErrWouldBlock)

	pump(t, s)

	var fstat sshfx.FStatPacket
	id := ch.request(t, &fstat)
	assert.Equal(t, "h", fstat.Handle)

	ch.reply(t, id, &sshfx.AttrsPacket{
		Attrs: sshfx.Attributes{
			Flags:       sshfx.AttrSize | sshfx.AttrPermissions,
			Size:        512,
			Permissions: sshfx.ModeRegular | 0o644,
		},
	})
	pump(t, s)

	fi, err := p.Result()
	require.NoError(t, err)
	assert.Equal(t, "TEST", fi.Name())
	assert.EqualValues(t, 512, fi.Size())
	assert.Equal(t, fs.FileMode(0o644), fi.Mode())
	assert.False(t, fi.IsDir())
}
