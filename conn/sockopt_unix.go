//go:build unix

package conn

import "golang.org/x/sys/unix"

func setKeepAlive(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return wrapSockoptError("SO_KEEPALIVE", err)
	}
	return nil
}

func setReuseAddress(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return wrapSockoptError("SO_REUSEADDR", err)
	}
	return nil
}

func setOOBInline(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_OOBINLINE, 1); err != nil {
		return wrapSockoptError("SO_OOBINLINE", err)
	}
	return nil
}
