package nbsftp

import (
	"fmt"
	"io/fs"
	"strconv"
	"time"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// FormatLongname formats fi in the `ls -l` style that servers put in the longname of a SSH_FXP_NAME entry.
// Remote files, as returned by Stat or ReadDir, show the uid and gid the server reported.
func FormatLongname(fi fs.FileInfo, now time.Time) string {
	// crw-rw-rw-    1 0        0               0 Jul 31 20:52 ttyvd
	if fi == nil {
		return ""
	}

	perms := sshfx.FromGo(fi.Mode()).String()
	uid, gid := "0", "0"

	if attrs, ok := fi.Sys().(*sshfx.Attributes); ok {
		if p, ok := attrs.GetPermissions(); ok {
			perms = p.String()
		}

		if attrs.Flags&sshfx.AttrUIDGID != 0 {
			uid = strconv.FormatUint(uint64(attrs.UID), 10)
			gid = strconv.FormatUint(uint64(attrs.GID), 10)
		}
	}

	mtime := fi.ModTime()

	yearOrTime := mtime.Format("15:04")
	if mtime.Before(now.AddDate(0, -6, 0)) {
		yearOrTime = mtime.Format("2006")
	}

	return fmt.Sprintf("%s %4s %-8s %-8s %8d %s %2s %5s %s",
		perms, "1", uid, gid, fi.Size(), mtime.Format("Jan"), mtime.Format("2"), yearOrTime, fi.Name())
}
