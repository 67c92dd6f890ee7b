package spawner

import "io"

// ptyHandle abstracts PTY operations across Unix and Windows: on Unix it
// wraps creack/pty (*os.File); on Windows, Windows ConPTY.
type ptyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}
