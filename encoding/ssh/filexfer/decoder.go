package sshfx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrIncompletePacket is returned when the data does not yet hold an entire length-prefixed packet.
// It is not a failure: more data needs to arrive before the packet can be decoded.
var ErrIncompletePacket = errors.New("incomplete packet")

// minPacketLength is uint8(type) + uint32(request-id), or uint8(type) + uint32(version) for SSH_FXP_VERSION.
const minPacketLength = 1 + 4

// MalformedError reports a packet framing that cannot be recovered from.
type MalformedError struct {
	Length uint32
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("sshfx: malformed packet (length %d): %v", e.Length, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// DecodeFrame decodes the first length-prefixed packet held in data.
//
// It returns the decoded packet and the number of bytes it occupied, including the uint32(length).
// If data holds only a prefix of a packet, it returns ErrIncompletePacket.
// If the length prefix is smaller than the smallest valid packet, or larger than maxPacket,
// it returns a *MalformedError.
//
// NOTE: To avoid extra allocations, the returned packet aliases data.
func DecodeFrame(data []byte, maxPacket uint32) (*RawPacket, int, error) {
	if len(data) < 4 {
		return nil, 0, ErrIncompletePacket
	}

	length := binary.BigEndian.Uint32(data)
	if length < minPacketLength {
		return nil, 0, &MalformedError{Length: length, Err: ErrShortPacket}
	}
	if maxPacket > 0 && length > maxPacket {
		return nil, 0, &MalformedError{Length: length, Err: ErrLongPacket}
	}

	if uint64(len(data)-4) < uint64(length) {
		return nil, 0, ErrIncompletePacket
	}

	end := 4 + int(length)

	pkt := new(RawPacket)
	if err := pkt.UnmarshalBinary(data[4:end:end]); err != nil {
		return nil, 0, &MalformedError{Length: length, Err: err}
	}

	return pkt, end, nil
}

// Decoder reassembles packets out of a byte stream that arrives in arbitrary fragments.
//
// Bytes are handed over with Feed, and complete packets are taken out with Next.
// Any split of the same stream yields the same sequence of packets.
// A malformed packet is fatal: once Next has returned a *MalformedError,
// every later call returns the same error.
type Decoder struct {
	maxPacket uint32

	buf []byte
	off int
	err error
}

// NewDecoder returns a Decoder that rejects packets longer than maxPacket bytes.
// A maxPacket of zero uses DefaultMaxPacketLength.
func NewDecoder(maxPacket uint32) *Decoder {
	if maxPacket == 0 {
		maxPacket = DefaultMaxPacketLength
	}

	return &Decoder{
		maxPacket: maxPacket,
	}
}

// Feed appends p to the data waiting to be decoded.
// The contents of p are copied, so the caller may reuse p immediately.
//
// Packets returned by Next before this call are invalidated by it.
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}

	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes fed but not yet consumed by a decoded packet.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Err returns the sticky framing error, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Next returns the next complete packet.
// It returns ErrIncompletePacket when more data has to be fed first.
//
// The returned packet aliases the Decoder’s internal buffer,
// and is valid only until the next call to Feed.
func (d *Decoder) Next() (*RawPacket, error) {
	if d.err != nil {
		return nil, d.err
	}

	pkt, n, err := DecodeFrame(d.buf[d.off:], d.maxPacket)
	if err != nil {
		if !errors.Is(err, ErrIncompletePacket) {
			d.err = err
		}

		return nil, err
	}

	d.off += n

	return pkt, nil
}
