//go:build !unix

package host

import "os"

// TerminalInput never reports pending input on platforms without poll(2).
type TerminalInput struct{}

func NewTerminalInput(f *os.File) *TerminalInput {
	return &TerminalInput{}
}

func (t *TerminalInput) Pending() bool { return false }
