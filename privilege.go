package qev

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// DropPrivileges looks up username and switches the process to its uid/gid,
// group first then user so the process never holds the target uid without
// also already holding the target gid. It refuses to switch to uid or gid 0
// outright: chuser-to-root is never the intent of this call, only ever a
// misconfiguration.
func DropPrivileges(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return newError(KindPrivilege, "lookup", err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return newError(KindPrivilege, "parse uid", err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return newError(KindPrivilege, "parse gid", err)
	}
	if uid == 0 || gid == 0 {
		return newError(KindPrivilege, "chuser", fmt.Errorf("refusing to drop privileges to uid/gid 0 (user %q)", username))
	}

	if err := unix.Setgid(gid); err != nil {
		return newError(KindPrivilege, "setgid", err)
	}
	if err := unix.Setuid(uid); err != nil {
		return newError(KindPrivilege, "setuid", err)
	}
	return nil
}
