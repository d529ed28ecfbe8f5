//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package physmem

// mapArena falls back to a Go-managed slice when no OS mapping primitive is
// available.
func mapArena(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
