//go:build !unix && !windows

package conn

func setSendBufferSize(_ uintptr, _ int) error { return nil }

func setRecvBufferSize(_ uintptr, _ int) error { return nil }

func setKeepAlive(_ uintptr) error { return nil }

func setReuseAddress(_ uintptr) error { return nil }

func setOOBInline(_ uintptr) error { return nil }
