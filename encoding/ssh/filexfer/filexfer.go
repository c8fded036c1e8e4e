// Package sshfx implements the wire encoding for SSH File Transfer Protocol version 3,
// as described in https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt
package sshfx

// PacketMarshaller narrowly defines packets that will only be transmitted.
//
// ExtendedPacket types will often only implement this interface,
// since decoding the whole packet body of an ExtendedPacket can only be done dependent on the ExtendedRequest field.
type PacketMarshaller interface {
	// Type returns the SSH_FXP_xy value associated with the specific packet.
	Type() PacketType

	// MarshalPacket returns the packet as a two-part binary encoding:
	// a header holding uint32(length), uint8(type), uint32(request-id) and the fixed fields,
	// and a payload that the header announces but that is carried separately,
	// so that large data does not need to be copied.
	//
	// If b has a capacity of at least 9 bytes it is used as the backing storage for the header.
	MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error)
}

// Packet defines the behavior of a full generic SFTP packet.
//
// InitPacket, and VersionPacket are not generic SFTP packets, and instead implement (Un)MarshalBinary.
type Packet interface {
	PacketMarshaller

	// UnmarshalPacketBody decodes a packet body from the given Buffer.
	// It is assumed that the common header values of the length, type and request-id have already been consumed.
	UnmarshalPacketBody(buf *Buffer) error
}

// ComposePacket converts returns from MarshalPacket into an equivalent call to MarshalBinary.
func ComposePacket(header, payload []byte, err error) ([]byte, error) {
	return append(header, payload...), err
}

// Default length values,
// Defined in draft-ietf-secsh-filexfer-02 section 3.
const (
	DefaultMaxPacketLength = 34000
	DefaultMaxDataLength   = 32768

	// MaxPacketLengthOverhead is the room reserved above a data length for the
	// packet header, handle and offset fields of SSH_FXP_WRITE and SSH_FXP_DATA.
	MaxPacketLengthOverhead = DefaultMaxPacketLength - DefaultMaxDataLength
)
