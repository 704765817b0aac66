package supervisor

import (
	"os/exec"
)

// detachedLauncher spawns the assistant with no pipes, no captured output,
// and no tie to the host's session or console.
type detachedLauncher struct{}

type osHandle struct {
	pid  int
	kill func() error
}

func (h *osHandle) PID() int {
	return h.pid
}

func (h *osHandle) Kill() error {
	return h.kill()
}

func (detachedLauncher) Launch(name string, args []string) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := cmd.Process
	// Reap the child when it exits so a long-lived panel process does not
	// accumulate zombies. The assistant is otherwise unmanaged.
	go func() {
		_ = cmd.Wait()
	}()

	return &osHandle{pid: proc.Pid, kill: proc.Kill}, nil
}
