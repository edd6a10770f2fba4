//go:build linux

// setuid/setgid don't reliably apply across all threads of a Go process on Linux, so they are
// refused outright rather than silently leaving some threads privileged. For details see
// https://github.com/golang/go/issues/1435 and the runtime changes that followed it.

package osutil

const (
	setuidAllowed = false
	setgidAllowed = false
)
