package sshfx

import (
	"bytes"
	"testing"
)

func marshalPacket(t *testing.T, p PacketMarshaller, reqid uint32) []byte {
	t.Helper()

	data, err := ComposePacket(p.MarshalPacket(reqid, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	return data
}

// unmarshalBody decodes data into p the way a receiver does,
// checking the type and request-id in the header along the way.
func unmarshalBody(t *testing.T, data []byte, reqid uint32, p Packet) {
	t.Helper()

	var raw RawPacket
	if err := raw.UnmarshalBinary(data[4:]); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if raw.PacketType != p.Type() {
		t.Fatalf("RawPacket.UnmarshalBinary(): PacketType was %v, but expected %v", raw.PacketType, p.Type())
	}

	if raw.RequestID != reqid {
		t.Errorf("RawPacket.UnmarshalBinary(): RequestID was %d, but expected %d", raw.RequestID, reqid)
	}

	if err := p.UnmarshalPacketBody(&raw.Data); err != nil {
		t.Fatal("unexpected error:", err)
	}
}

func expectBytes(t *testing.T, name string, got, want []byte) {
	t.Helper()

	if !bytes.Equal(got, want) {
		t.Fatalf("%s = %X, but wanted %X", name, got, want)
	}
}
