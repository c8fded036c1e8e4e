package nbsftp

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// NewSSHChannel opens a session on conn, starts the "sftp" subsystem on it,
// and returns it as a Channel.
// Closing the Channel closes the ssh session, but not conn.
func NewSSHChannel(conn *ssh.Client) (*PipeChannel, error) {
	s, err := conn.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "ssh session")
	}

	w, err := s.StdinPipe()
	if err != nil {
		s.Close()
		return nil, err
	}

	r, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := s.RequestSubsystem("sftp"); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "request sftp subsystem")
	}

	return newPipeChannel(r, w, s, defaultPipeBufferSize), nil
}
