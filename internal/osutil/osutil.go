//go:build !windows

// Package osutil abstracts the OS interactions of the scan command: signal notification and
// constraining the process via chroot, setgid and setuid before the measurement starts.
package osutil

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const me = "osutil.Constrain: "

// Constrain downgrades the abilities of the process by changing to a nominated uid/gid and
// chrooting to a directory that presumably has very little in it or below it. Each step is
// optional if the corresponding parameter is an empty string.
//
// The order of operations matters: symbolic names are converted first while /etc/passwd is still
// reachable, then chroot while we presumably have the power to do so, then setgid (including
// dropping supplementary groups) and finally the irreversible setuid.
func Constrain(userName, groupName, chrootDir string) error {
	uid := -1
	gid := -1
	if len(userName) > 0 {
		u, err := user.Lookup(userName)
		if err != nil {
			return fmt.Errorf(me+"Lookup failed: %s", err.Error())
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf(me+"Could not convert UID %s to an int: %s", u.Uid, err.Error())
		}
	}

	if len(groupName) > 0 {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf(me+"Could not look up group: %s: %s", groupName, err.Error())
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf(me+"Could not convert GID %s to an int: %s", g.Gid, err.Error())
		}
	}

	if len(chrootDir) > 0 {
		if err := os.Chdir(chrootDir); err != nil {
			return fmt.Errorf(me+"Could not cd to %s: %s", chrootDir, err.Error())
		}
		if err := unix.Chroot(chrootDir); err != nil {
			return fmt.Errorf(me+"Could not chroot to %s: %s", chrootDir, err.Error())
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf(me+"Could not cd to /: %s", err.Error())
		}
	}

	if gid != -1 {
		if !setgidAllowed {
			return fmt.Errorf(me + "setgid is disabled for Go on this platform")
		}
		if err := unix.Setgroups([]int{}); err != nil {
			return fmt.Errorf(me+"Could not clear group list: %s", err.Error())
		}
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf(me+"Could not setgid to %d/%s: %s", gid, groupName, err.Error())
		}
	}

	if uid != -1 {
		if !setuidAllowed {
			return fmt.Errorf(me + "setuid is disabled for Go on this platform")
		}
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf(me+"Could not setuid to %d/%s: %s", uid, userName, err.Error())
		}
	}

	return nil
}

// ConstraintReport returns a printable string showing the uid/gid/cwd of the process, normally
// logged after Constrain() to show that the process has been downgraded.
func ConstraintReport() string {
	cwd, _ := os.Getwd()
	gList, _ := os.Getgroups()
	gStr := make([]string, 0, len(gList))
	for _, g := range gList {
		gStr = append(gStr, strconv.Itoa(g))
	}

	return fmt.Sprintf("uid=%d gid=%d (%s) cwd=%s",
		os.Getuid(), os.Getgid(), strings.Join(gStr, ","), cwd)
}
