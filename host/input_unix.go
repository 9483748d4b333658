//go:build unix

package host

import (
	"os"

	"golang.org/x/sys/unix"
)

// TerminalInput reports bytes waiting to be read on a file descriptor,
// typically os.Stdin.
type TerminalInput struct {
	fd int
}

// NewTerminalInput watches f for readable input.
func NewTerminalInput(f *os.File) *TerminalInput {
	return &TerminalInput{fd: int(f.Fd())}
}

// Pending polls the descriptor with a zero timeout.
func (t *TerminalInput) Pending() bool {
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
	}
}
