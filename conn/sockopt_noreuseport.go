//go:build !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd

package conn

func setReusePort(_ uintptr) error {
	return nil
}
