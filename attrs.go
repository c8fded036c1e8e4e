package nbsftp

// SSH_FXP_ATTRS support
// see http://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-5

import (
	"io/fs"
	"time"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// fileInfo adapts the attributes of a remote file to fs.FileInfo.
type fileInfo struct {
	name  string
	attrs sshfx.Attributes
}

func newFileInfo(name string, attrs *sshfx.Attributes) *fileInfo {
	return &fileInfo{
		name:  name,
		attrs: *attrs,
	}
}

// Name returns the base name of the file.
func (fi *fileInfo) Name() string { return fi.name }

// Size returns the length in bytes for regular files; system-dependent for others.
func (fi *fileInfo) Size() int64 {
	size, _ := fi.attrs.GetSize()
	return int64(size)
}

// Mode returns file mode bits.
func (fi *fileInfo) Mode() fs.FileMode {
	perms, _ := fi.attrs.GetPermissions()
	return perms.ToGo()
}

// ModTime returns the last modification time of the file.
func (fi *fileInfo) ModTime() time.Time {
	mtime, ok := fi.attrs.GetModTime()
	if !ok {
		return time.Time{}
	}
	return mtime
}

// IsDir returns true if the file is a directory.
func (fi *fileInfo) IsDir() bool { return fi.Mode().IsDir() }

// Sys returns the raw *sshfx.Attributes.
func (fi *fileInfo) Sys() any { return &fi.attrs }
