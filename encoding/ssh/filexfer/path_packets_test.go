package sshfx

import (
	"testing"
)

func TestPathPackets(t *testing.T) {
	const (
		id   = 42
		path = "/foo"
	)

	tests := []struct {
		name string
		in   Packet
		out  Packet
		typ  uint8
		path func(Packet) string
	}{
		{"stat", &StatPacket{Path: path}, new(StatPacket), 17, func(p Packet) string { return p.(*StatPacket).Path }},
		{"lstat", &LStatPacket{Path: path}, new(LStatPacket), 7, func(p Packet) string { return p.(*LStatPacket).Path }},
		{"remove", &RemovePacket{Path: path}, new(RemovePacket), 13, func(p Packet) string { return p.(*RemovePacket).Path }},
		{"realpath", &RealPathPacket{Path: path}, new(RealPathPacket), 16, func(p Packet) string { return p.(*RealPathPacket).Path }},
		{"opendir", &OpenDirPacket{Path: path}, new(OpenDirPacket), 11, func(p Packet) string { return p.(*OpenDirPacket).Path }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := marshalPacket(t, tt.in, id)

			want := []byte{
				0x00, 0x00, 0x00, 13,
				tt.typ,
				0x00, 0x00, 0x00, 42,
				0x00, 0x00, 0x00, 4, '/', 'f', 'o', 'o',
			}

			expectBytes(t, tt.name, data, want)

			unmarshalBody(t, data, id, tt.out)

			if got := tt.path(tt.out); got != path {
				t.Errorf("UnmarshalPacketBody(): Path was %q, but expected %q", got, path)
			}
		})
	}
}
