//go:build unix && !linux

package conn

import "golang.org/x/sys/unix"

func setSendBufferSize(fd uintptr, size int) error {
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size)
	return nil
}

func setRecvBufferSize(fd uintptr, size int) error {
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
	return nil
}
