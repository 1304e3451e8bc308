package ptrace

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

type Options int

const (
	WordSize = 8

	vmPageSize = 0x1000

	O_EXITKILL = Options(unix.PTRACE_O_EXITKILL)
)

// Matches the 64 bit user_regs_struct in <sys/user.h>
type UserRegs = syscall.PtraceRegs

type unixSigInfo = unix.Siginfo

func getSigInfo(pid int, out *unixSigInfo) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_PTRACE,
		uintptr(unix.PTRACE_GETSIGINFO),
		uintptr(pid),
		0,
		uintptr(unsafe.Pointer(out)),
		0,
		0)
	if errno != 0 {
		return errno
	}
	return nil
}

// remoteIovecs splits [addr, addr+size) at page boundaries.  process_vm_readv
// stops at the first iovec which faults, so splitting lets a read which
// crosses into an unmapped page return the readable prefix.
func remoteIovecs(addr uintptr, size int) []unix.RemoteIovec {
	var iovs []unix.RemoteIovec
	for size > 0 {
		chunk := int(vmPageSize - addr%vmPageSize)
		if chunk > size {
			chunk = size
		}

		iovs = append(iovs, unix.RemoteIovec{Base: addr, Len: chunk})
		addr += uintptr(chunk)
		size -= chunk
	}

	return iovs
}

func readVirtualMemory(pid int, addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))

	return unix.ProcessVMReadv(pid, local, remoteIovecs(addr, len(data)), 0)
}

// syscall.Wait4 does not retry on EINTR.
func wait(pid int) (syscall.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}

		return syscall.WaitStatus(status), nil
	}
}
