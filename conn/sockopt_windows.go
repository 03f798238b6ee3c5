package conn

import "golang.org/x/sys/windows"

// soOOBInline is SO_OOBINLINE from winsock2.h.
const soOOBInline = 0x0100

func setSendBufferSize(fd uintptr, size int) error {
	_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_SNDBUF, size)
	return nil
}

func setRecvBufferSize(fd uintptr, size int) error {
	_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, size)
	return nil
}

func setKeepAlive(fd uintptr) error {
	if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_KEEPALIVE, 1); err != nil {
		return wrapSockoptError("SO_KEEPALIVE", err)
	}
	return nil
}

func setReuseAddress(fd uintptr) error {
	if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		return wrapSockoptError("SO_REUSEADDR", err)
	}
	return nil
}

func setOOBInline(fd uintptr) error {
	if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, soOOBInline, 1); err != nil {
		return wrapSockoptError("SO_OOBINLINE", err)
	}
	return nil
}
