//go:build !windows

package supervisor

import "syscall"

// detachedSysProcAttr places the assistant in its own session so it survives
// the host process and receives no terminal signals.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
