package nbsftp

import (
	"io"
	"io/fs"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// ErrWouldBlock is returned when an operation cannot make progress without more I/O.
// It is never a failure: pump the Session and retry the operation.
var ErrWouldBlock = errors.New("sftp: operation would block")

// ErrSessionClosed is the error of every request and handle outstanding when the Session was shut down.
var ErrSessionClosed = errors.New("sftp: session closed")

// ProtocolError reports a violation of the SFTP protocol by the server.
// It is fatal to the Session.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return "sftp: protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Err: errors.Errorf(format, args...)}
}

// TransportError reports a failure of the underlying Channel.
// A Channel closed by the peer is reported as a TransportError wrapping io.EOF.
// It is fatal to the Session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == io.EOF {
		return "sftp: connection closed"
	}

	return "sftp: transport failure: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// isSessionFatal reports whether err ends the whole Session rather than a single request.
func isSessionFatal(err error) bool {
	var perr *ProtocolError
	var terr *TransportError

	return errors.As(err, &perr) || errors.As(err, &terr) || errors.Is(err, ErrSessionClosed)
}

// statusToError converts a SSH_FXP_STATUS response into an error.
// The *sshfx.StatusPacket itself is the error, so callers can both test it with errors.Is
// against fs.ErrNotExist, fs.ErrPermission or io.EOF, and inspect the code and message.
func statusToError(status *sshfx.StatusPacket, okExpected bool) error {
	if status.StatusCode == sshfx.StatusOK {
		if !okExpected {
			return protocolErrorf("unexpected SSH_FX_OK")
		}
		return nil
	}

	if status.StatusCode == sshfx.StatusEOF {
		return io.EOF
	}

	return status
}

func wrapPathError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	if err == io.EOF || err == ErrWouldBlock {
		return err
	}

	return &fs.PathError{Op: op, Path: path, Err: err}
}
