package spawner

import "fmt"

// headlessProc adapts a HeadlessHandle to processHandle.
type headlessProc struct {
	handle HeadlessHandle
}

func (p *headlessProc) Interrupt() error { return p.handle.Interrupt() }
func (p *headlessProc) Kill() error      { return p.handle.Close() }
func (p *headlessProc) Write(b []byte) (int, error) {
	return 0, fmt.Errorf("write is not supported for headless sessions")
}
func (p *headlessProc) Resize(cols, rows uint16) error { return nil }

// interactiveProc adapts an InteractiveHandle's PTY to processHandle.
type interactiveProc struct {
	pty ptyHandle
}

func (p *interactiveProc) Interrupt() error {
	// The escape key is written as ordinary PTY input; there is no
	// separate out-of-band interrupt channel for a PTY.
	_, err := p.pty.Write([]byte{0x1b})
	return err
}
func (p *interactiveProc) Kill() error                    { return p.pty.Close() }
func (p *interactiveProc) Write(b []byte) (int, error)     { return p.pty.Write(b) }
func (p *interactiveProc) Resize(cols, rows uint16) error { return p.pty.Resize(cols, rows) }
