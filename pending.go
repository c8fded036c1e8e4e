package nbsftp

import (
	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// Pending is the future result of a request.
// Result returns ErrWouldBlock until the response has arrived and been processed by Pump.
type Pending[T any] struct {
	done bool
	val  T
	err  error
}

func failed[T any](err error) *Pending[T] {
	p := new(Pending[T])
	var zero T
	p.resolve(zero, err)
	return p
}

// Done reports whether the result is available.
func (p *Pending[T]) Done() bool {
	return p.done
}

// Result returns the value and error of the completed request,
// or ErrWouldBlock if it has not completed yet.
func (p *Pending[T]) Result() (T, error) {
	if !p.done {
		var zero T
		return zero, ErrWouldBlock
	}

	return p.val, p.err
}

// resolve completes p, only the first call has any effect.
func (p *Pending[T]) resolve(v T, err error) {
	if p.done {
		return
	}

	p.done, p.val, p.err = true, v, err
}

type respPacket[PKT any] interface {
	*PKT
	sshfx.Packet
}

// expectPacket decodes raw as the response packet PKT.
// A SSH_FXP_STATUS response is turned into its error,
// and any other type of response is a protocol error.
func expectPacket[PKT any, P respPacket[PKT]](raw *sshfx.RawPacket) (*PKT, error) {
	var resp P

	switch raw.PacketType {
	case resp.Type():
		resp = new(PKT)
		if err := resp.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, &ProtocolError{Err: err}
		}

		return resp, nil

	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, &ProtocolError{Err: err}
		}

		return nil, statusToError(&status, false)

	default:
		return nil, protocolErrorf("unexpected packet type: %s", raw.PacketType)
	}
}

// expectStatus decodes raw as a SSH_FXP_STATUS response, and returns its error, nil for SSH_FX_OK.
func expectStatus(raw *sshfx.RawPacket) error {
	if raw.PacketType != sshfx.PacketTypeStatus {
		return protocolErrorf("unexpected packet type: %s", raw.PacketType)
	}

	var status sshfx.StatusPacket
	if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
		return &ProtocolError{Err: err}
	}

	return statusToError(&status, true)
}

// fatalOnly passes on err only if it must end the session.
func fatalOnly(err error) error {
	if err != nil && isSessionFatal(err) {
		return err
	}

	return nil
}
