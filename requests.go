package nbsftp

import (
	"cmp"
	"io"
	"io/fs"
	"path"
	"slices"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// Stat queues an SSH_FXP_STAT request.
// If the file is a symbolic link, the result describes the link's target.
func (s *Session) Stat(name string) *Pending[fs.FileInfo] {
	return s.stat("stat", name, &sshfx.StatPacket{Path: name})
}

// Lstat queues an SSH_FXP_LSTAT request.
// If the file is a symbolic link, the result describes the link itself.
func (s *Session) Lstat(name string) *Pending[fs.FileInfo] {
	return s.stat("lstat", name, &sshfx.LStatPacket{Path: name})
}

func (s *Session) stat(op, name string, req sshfx.PacketMarshaller) *Pending[fs.FileInfo] {
	p := new(Pending[fs.FileInfo])

	err := s.dispatch(req, nil, func(raw *sshfx.RawPacket, err error) error {
		if err != nil {
			p.resolve(nil, wrapPathError(op, name, err))
			return nil
		}

		pkt, err := expectPacket[sshfx.AttrsPacket](raw)
		if err != nil {
			p.resolve(nil, wrapPathError(op, name, err))
			return fatalOnly(err)
		}

		p.resolve(newFileInfo(path.Base(name), &pkt.Attrs), nil)
		return nil
	})
	if err != nil {
		p.resolve(nil, wrapPathError(op, name, err))
	}

	return p
}

// RealPath queues an SSH_FXP_REALPATH request,
// which canonicalizes name on the server into an absolute path.
func (s *Session) RealPath(name string) *Pending[string] {
	p := new(Pending[string])

	err := s.dispatch(&sshfx.RealPathPacket{
		Path: name,
	}, nil, func(raw *sshfx.RawPacket, err error) error {
		if err != nil {
			p.resolve("", wrapPathError("realpath", name, err))
			return nil
		}

		pkt, err := expectPacket[sshfx.NamePacket](raw)
		if err == nil && len(pkt.Entries) != 1 {
			err = protocolErrorf("SSH_FXP_REALPATH returned %d names, expected 1", len(pkt.Entries))
		}
		if err != nil {
			p.resolve("", wrapPathError("realpath", name, err))
			return fatalOnly(err)
		}

		p.resolve(pkt.Entries[0].Filename, nil)
		return nil
	})
	if err != nil {
		p.resolve("", wrapPathError("realpath", name, err))
	}

	return p
}

// Remove queues an SSH_FXP_REMOVE request for the named file.
func (s *Session) Remove(name string) *Pending[struct{}] {
	p := new(Pending[struct{}])

	err := s.dispatch(&sshfx.RemovePacket{
		Path: name,
	}, nil, func(raw *sshfx.RawPacket, err error) error {
		if err == nil {
			err = expectStatus(raw)
		}

		p.resolve(struct{}{}, wrapPathError("remove", name, err))
		return fatalOnly(err)
	})
	if err != nil {
		p.resolve(struct{}{}, wrapPathError("remove", name, err))
	}

	return p
}

// ReadDir lists the named directory.
// It opens the directory, reads entries until the server reports the end, then closes the handle,
// and resolves to the entries sorted by filename, without "." and "..".
//
// If an error occurs, the result holds the entries read before the error, along with the error.
func (s *Session) ReadDir(name string) *Pending[[]fs.FileInfo] {
	d := &dirReader{
		s:    s,
		name: name,
		p:    new(Pending[[]fs.FileInfo]),
	}

	err := s.dispatch(&sshfx.OpenDirPacket{
		Path: name,
	}, nil, d.opened)
	if err != nil {
		d.finish(err)
	}

	return d.p
}

type dirReader struct {
	s    *Session
	name string

	handle  string
	entries []fs.FileInfo
	err     error

	p *Pending[[]fs.FileInfo]
}

func (d *dirReader) opened(raw *sshfx.RawPacket, err error) error {
	if err != nil {
		d.finish(err)
		return nil
	}

	pkt, err := expectPacket[sshfx.HandlePacket](raw)
	if err != nil {
		d.finish(err)
		return fatalOnly(err)
	}

	d.handle = pkt.Handle
	d.next()

	return nil
}

func (d *dirReader) next() {
	err := d.s.dispatch(&sshfx.ReadDirPacket{
		Handle: d.handle,
	}, nil, d.listed)
	if err != nil {
		d.finish(err)
	}
}

func (d *dirReader) listed(raw *sshfx.RawPacket, err error) error {
	if err != nil {
		d.finish(err)
		return nil
	}

	pkt, err := expectPacket[sshfx.NamePacket](raw)
	switch {
	case err == nil:
		for _, e := range pkt.Entries {
			if e.Filename == "." || e.Filename == ".." {
				continue
			}

			d.entries = append(d.entries, newFileInfo(e.Filename, &e.Attrs))
		}

		d.next()

	case err == io.EOF:
		d.close(nil)

	case isSessionFatal(err):
		d.finish(err)
		return err

	default:
		d.close(err)
	}

	return nil
}

// close releases the directory handle, and then finishes with cause.
func (d *dirReader) close(cause error) {
	d.err = cause

	err := d.s.dispatch(&sshfx.ClosePacket{
		Handle: d.handle,
	}, nil, d.closed)
	if err != nil {
		d.finish(cmp.Or(cause, err))
	}
}

func (d *dirReader) closed(raw *sshfx.RawPacket, err error) error {
	if err == nil {
		err = expectStatus(raw)
	}

	d.finish(cmp.Or(d.err, err))

	return fatalOnly(err)
}

func (d *dirReader) finish(err error) {
	slices.SortFunc(d.entries, func(a, b fs.FileInfo) int {
		return cmp.Compare(a.Name(), b.Name())
	})

	d.p.resolve(d.entries, wrapPathError("readdir", d.name, err))
}
