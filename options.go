package nbsftp

import (
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

const (
	defaultMaxInflight    = 64
	defaultReadBufferSize = 64 * 1024
)

// SessionOption specifies an option that can be set on a Session.
type SessionOption func(*Session) error

// WithMaxInflight sets the maximum number of SSH_FXP_WRITE requests a single File may have outstanding.
//
// It will generate an error if one attempts to set it to a value less than one.
func WithMaxInflight(count int) SessionOption {
	return func(s *Session) error {
		if count < 1 {
			return errors.Errorf("max inflight packets cannot be less than 1, was: %d", count)
		}

		s.maxInflight = count

		return nil
	}
}

// WithMaxDataLength sets the maximum length of data that will be used in SSH_FXP_READ and SSH_FXP_WRITE requests.
// This will also raise the maximum packet length to at least the data length + 1232 bytes as overhead room.
// (This is the difference between the 34000 byte packet size vs 32768 data packet size.)
//
// It will generate an error if the length is not positive,
// or beyond the 2^32-1 limitation of the sftp protocol.
func WithMaxDataLength(length int) SessionOption {
	withPktLen := WithMaxPacketLength(length + sshfx.MaxPacketLengthOverhead)

	return func(s *Session) error {
		if length < 1 {
			return errors.Errorf("sftp: max data length must be positive: %d", length)
		}

		// This has to be cast to int64 to safely perform this test on 32-bit archs.
		if int64(length) > math.MaxUint32 {
			return errors.Errorf("sftp: max data length must fit in a uint32: %d", length)
		}

		if err := withPktLen(s); err != nil {
			return err
		}

		s.maxDataLen = length

		return nil
	}
}

// WithMaxPacketLength sets the maximum length of a packet that the session will accept.
//
// The maximum packet length can only be increased,
// if an attempt is made to set this value lower than it currently is,
// it will simply not perform any operation.
func WithMaxPacketLength(length int) SessionOption {
	return func(s *Session) error {
		if int64(length) > math.MaxUint32 {
			return errors.Errorf("sftp: max packet length must fit in a uint32: %d", length)
		}

		if length < 0 {
			return nil
		}

		s.maxPacket = max(s.maxPacket, uint32(length))
		return nil
	}
}

// WithLogger sets the logger used for session events.
// The default discards everything.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) error {
		if logger == nil {
			return errors.New("sftp: nil logger")
		}

		s.log = logger
		return nil
	}
}

// WithClock sets the clock used to timestamp outstanding requests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) error {
		if now == nil {
			return errors.New("sftp: nil clock")
		}

		s.reqs.now = now
		return nil
	}
}

// WithReadBufferSize sets how many bytes a single Pump tries to read from the Channel.
func WithReadBufferSize(size int) SessionOption {
	return func(s *Session) error {
		if size < 1 {
			return errors.Errorf("sftp: read buffer size must be positive: %d", size)
		}

		s.rbuf = make([]byte, size)
		return nil
	}
}
