package sshfx

import (
	"fmt"
)

// RawPacket implements the general packet format from draft-ietf-secsh-filexfer-02
//
// Defined in https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-3
type RawPacket struct {
	PacketType PacketType
	RequestID  uint32

	Data Buffer
}

// Type returns the Type field defining the SSH_FXP_xy type for this packet.
func (p *RawPacket) Type() PacketType {
	return p.PacketType
}

// Reset clears the pointers and reference-semantic variables of RawPacket,
// releasing underlying resources, and making them and the RawPacket suitable to be reused,
// so long as no other references have been kept.
func (p *RawPacket) Reset() {
	p.Data = Buffer{}
}

// MarshalPacket returns p as a two-part binary encoding of p.
//
// The internal p.RequestID is overridden by the reqid argument.
func (p *RawPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	buf := NewBuffer(b)
	if buf.Cap() < 9 {
		buf = NewMarshalBuffer(0)
	}

	buf.StartPacket(p.PacketType, reqid)

	return buf.Packet(p.Data.Bytes())
}

// MarshalBinary returns p as the binary encoding of p.
//
// This is a convenience implementation primarily intended for tests,
// because it is inefficient with allocations.
func (p *RawPacket) MarshalBinary() ([]byte, error) {
	return ComposePacket(p.MarshalPacket(p.RequestID, nil))
}

// UnmarshalFrom decodes a RawPacket from the given Buffer into p.
//
// The Data field will alias the passed in Buffer,
// so the buffer passed in should not be reused before RawPacket.Reset().
func (p *RawPacket) UnmarshalFrom(buf *Buffer) error {
	*p = RawPacket{
		PacketType: PacketType(buf.ConsumeUint8()),
	}

	if p.PacketType == PacketTypeVersion {
		// SSH_FXP_VERSION carries no request-id; leave the version in Data.
		p.Data = *buf
		return buf.Err
	}

	p.RequestID = buf.ConsumeUint32()
	p.Data = *buf

	return buf.Err
}

// UnmarshalBinary decodes a full raw packet out of the given data.
// It is assumed that the uint32(length) has already been consumed to receive the data.
//
// NOTE: To avoid extra allocations, UnmarshalBinary aliases the given byte slice.
func (p *RawPacket) UnmarshalBinary(data []byte) error {
	return p.UnmarshalFrom(NewBuffer(data))
}

// ResponsePacket decodes the Data of p into the response packet of the matching type.
// It returns an error if p is not a response packet, or if its body does not decode cleanly.
func (p *RawPacket) ResponsePacket() (Packet, error) {
	var pkt Packet

	switch p.PacketType {
	case PacketTypeStatus:
		pkt = new(StatusPacket)
	case PacketTypeHandle:
		pkt = new(HandlePacket)
	case PacketTypeData:
		pkt = new(DataPacket)
	case PacketTypeName:
		pkt = new(NamePacket)
	case PacketTypeAttrs:
		pkt = new(AttrsPacket)
	default:
		return nil, fmt.Errorf("unexpected response packet type: %v", p.PacketType)
	}

	buf := p.Data
	if err := pkt.UnmarshalPacketBody(&buf); err != nil {
		return nil, err
	}

	return pkt, nil
}
