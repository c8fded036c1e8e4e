package nbsftp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// scriptChannel is an in-memory Channel, where the test plays the server.
type scriptChannel struct {
	in  []byte // bytes from the server, waiting for TryRead
	out []byte // bytes written by the session

	readErr    error
	writeErr   error
	writeLimit int // bytes accepted per TryWrite, zero for no limit

	closed bool
}

func (c *scriptChannel) TryRead(p []byte) (int, error) {
	if len(c.in) > 0 {
		n := copy(p, c.in)
		c.in = c.in[n:]
		return n, nil
	}

	if c.readErr != nil {
		return 0, c.readErr
	}

	return 0, ErrWouldBlock
}

func (c *scriptChannel) TryWrite(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}

	n := len(p)
	if c.writeLimit > 0 {
		n = min(n, c.writeLimit)
	}

	c.out = append(c.out, p[:n]...)

	return n, nil
}

func (c *scriptChannel) Close() error {
	c.closed = true
	return nil
}

// requests decodes, and takes away, every packet the session has written so far.
func (c *scriptChannel) requests(t *testing.T) []*sshfx.RawPacket {
	t.Helper()

	dec := sshfx.NewDecoder(0)
	dec.Feed(c.out)
	c.out = nil

	var pkts []*sshfx.RawPacket
	for {
		raw, err := dec.Next()
		if errors.Is(err, sshfx.ErrIncompletePacket) {
			require.Zero(t, dec.Buffered(), "partial packet written")
			return pkts
		}
		require.NoError(t, err)

		pkts = append(pkts, raw)
	}
}

// request expects exactly one packet written, of the given type, and decodes its body into p.
func (c *scriptChannel) request(t *testing.T, p sshfx.Packet) uint32 {
	t.Helper()

	pkts := c.requests(t)
	require.Len(t, pkts, 1)
	require.Equal(t, p.Type(), pkts[0].PacketType)
	require.NoError(t, p.UnmarshalPacketBody(&pkts[0].Data))

	return pkts[0].RequestID
}

func (c *scriptChannel) reply(t *testing.T, reqid uint32, p sshfx.PacketMarshaller) {
	t.Helper()

	data, err := sshfx.ComposePacket(p.MarshalPacket(reqid, nil))
	require.NoError(t, err)

	c.in = append(c.in, data...)
}

func (c *scriptChannel) replyStatus(t *testing.T, reqid uint32, code sshfx.Status) {
	t.Helper()
	c.reply(t, reqid, &sshfx.StatusPacket{StatusCode: code, ErrorMessage: code.String()})
}

func (c *scriptChannel) sendVersion(t *testing.T, version uint32) {
	t.Helper()

	data, err := (&sshfx.VersionPacket{Version: version}).MarshalBinary()
	require.NoError(t, err)

	c.in = append(c.in, data...)
}

func pump(t *testing.T, s *Session) PumpResult {
	t.Helper()

	res, err := s.Pump()
	require.NoError(t, err)

	return res
}

// newTestSession returns a Session that has completed the version handshake over a scriptChannel.
func newTestSession(t *testing.T, opts ...SessionOption) (*Session, *scriptChannel) {
	t.Helper()

	ch := new(scriptChannel)

	s, err := NewSession(ch, opts...)
	require.NoError(t, err)

	pump(t, s)

	pkts := ch.requests(t)
	require.Len(t, pkts, 1)
	require.Equal(t, sshfx.PacketTypeInit, pkts[0].PacketType)

	ch.sendVersion(t, 3)
	pump(t, s)

	require.NoError(t, s.Ready())

	return s, ch
}

// openTestFile opens name on a test session, and answers the open with handle.
func openTestFile(t *testing.T, s *Session, ch *scriptChannel, name, handle string) *File {
	t.Helper()

	f, err := s.Open(name, OpenFlagReadWrite, 0)
	require.NoError(t, err)
	require.ErrorIs(t, f.Ready(), ErrWouldBlock)

	pump(t, s)

	var open sshfx.OpenPacket
	id := ch.request(t, &open)
	require.Equal(t, name, open.Filename)

	ch.reply(t, id, &sshfx.HandlePacket{Handle: handle})
	pump(t, s)

	require.NoError(t, f.Ready())
	require.Equal(t, StateOpen, f.State())

	return f
}
