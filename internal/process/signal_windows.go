//go:build windows

package process

import (
	"errors"
	"os"
)

// Windows has no SIGTERM; both paths end the process.
func terminate(p *os.Process) error { return kill(p) }

func kill(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
