//go:build !unix

package conn

func parseFlagsForError(_ int) error {
	return nil
}
