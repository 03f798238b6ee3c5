//go:build !linux

package conn

func setFwmark(_ uintptr, _ int) error {
	return nil
}
