//go:build !windows

package labels

import "syscall"

func hideWindowSysProcAttr() *syscall.SysProcAttr {
	return nil
}
