//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package conn

import "golang.org/x/sys/unix"

func setReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return wrapSockoptError("SO_REUSEPORT", err)
	}
	return nil
}
