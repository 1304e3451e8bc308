package ptrace

import (
	"encoding/binary"
	"fmt"
	"os/exec"
	"syscall"
)

// Tracer issues ptrace requests for a single tracee.  Requests may be made
// from any goroutine; they are serialized onto the tracing os thread.
type Tracer struct {
	Pid int

	thread *osThread
}

// StartAndAttachToProcess starts cmd with PTRACE_TRACEME set.  The child
// stops at its first instruction; the caller must Wait for that stop.
func StartAndAttachToProcess(cmd *exec.Cmd) (*Tracer, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	cmd.SysProcAttr.Ptrace = true

	// Keep terminal signals meant for the debugger away from the tracee.
	cmd.SysProcAttr.Setpgid = true

	tracer := &Tracer{
		thread: newOSThread(),
	}

	err := tracer.do("start process", cmd.Start)
	if err != nil {
		tracer.thread.stop()
		return nil, err
	}

	tracer.Pid = cmd.Process.Pid
	return tracer, nil
}

// AttachToProcess issues PTRACE_ATTACH.  The caller must Wait for the
// resulting stop.
func AttachToProcess(pid int) (*Tracer, error) {
	tracer := &Tracer{
		Pid:    pid,
		thread: newOSThread(),
	}

	err := tracer.do(
		"attach",
		func() error {
			return syscall.PtraceAttach(pid)
		})
	if err != nil {
		tracer.thread.stop()
		return nil, err
	}

	return tracer, nil
}

func (tracer *Tracer) do(operation string, call func() error) error {
	var err error
	ok := tracer.thread.run(func() {
		err = call()
	})

	if !ok {
		return fmt.Errorf(
			"cannot %s. tracer has detached from process %d",
			operation,
			tracer.Pid)
	}

	if err != nil {
		return fmt.Errorf(
			"failed to %s (process %d): %w",
			operation,
			tracer.Pid,
			err)
	}

	return nil
}

// Detached is true once Detach was called, or if start / attach failed.
func (tracer *Tracer) Detached() bool {
	return tracer.thread.stopped()
}

// Detach releases the tracee and shuts down the tracing thread, even if
// PTRACE_DETACH fails.
func (tracer *Tracer) Detach() error {
	defer tracer.thread.stop()

	return tracer.do(
		"detach",
		func() error {
			return syscall.PtraceDetach(tracer.Pid)
		})
}

func (tracer *Tracer) Resume(signal int) error {
	return tracer.do(
		"resume",
		func() error {
			return syscall.PtraceCont(tracer.Pid, signal)
		})
}

func (tracer *Tracer) SingleStep() error {
	return tracer.do(
		"single step",
		func() error {
			return syscall.PtraceSingleStep(tracer.Pid)
		})
}

// Wait blocks until the tracee changes state.  Waiting need not originate
// from the tracing os thread.
func (tracer *Tracer) Wait() (syscall.WaitStatus, error) {
	status, err := wait(tracer.Pid)
	if err != nil {
		return 0, fmt.Errorf(
			"failed to wait for process %d: %w",
			tracer.Pid,
			err)
	}

	return status, nil
}

func (tracer *Tracer) SetOptions(options Options) error {
	return tracer.do(
		"set options",
		func() error {
			return syscall.PtraceSetOptions(tracer.Pid, int(options))
		})
}

func (tracer *Tracer) GetRegisters() (*UserRegs, error) {
	regs := &UserRegs{}
	err := tracer.do(
		"get registers",
		func() error {
			return syscall.PtraceGetRegs(tracer.Pid, regs)
		})
	if err != nil {
		return nil, err
	}

	return regs, nil
}

func (tracer *Tracer) SetRegisters(regs *UserRegs) error {
	return tracer.do(
		"set registers",
		func() error {
			return syscall.PtraceSetRegs(tracer.Pid, regs)
		})
}

// PeekWord reads the 8 byte little endian word at addr.
func (tracer *Tracer) PeekWord(addr uintptr) (uint64, error) {
	word := make([]byte, WordSize)
	err := tracer.do(
		fmt.Sprintf("peek 0x%x", addr),
		func() error {
			n, err := syscall.PtracePeekData(tracer.Pid, addr, word)
			if err == nil && n != WordSize {
				err = fmt.Errorf("short read (%d)", n)
			}
			return err
		})
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(word), nil
}

// PokeWord writes the 8 byte little endian word at addr.  Unlike
// process_vm_writev, this can write to read-only text pages.
func (tracer *Tracer) PokeWord(addr uintptr, word uint64) error {
	data := binary.LittleEndian.AppendUint64(nil, word)
	return tracer.do(
		fmt.Sprintf("poke 0x%x", addr),
		func() error {
			n, err := syscall.PtracePokeData(tracer.Pid, addr, data)
			if err == nil && n != WordSize {
				err = fmt.Errorf("short write (%d)", n)
			}
			return err
		})
}

// ReadMemory reads via process_vm_readv, which is much cheaper than peeking
// word by word.  A partial read returns the number of bytes read.
func (tracer *Tracer) ReadMemory(addr uintptr, out []byte) (int, error) {
	count := 0
	err := tracer.do(
		fmt.Sprintf("read %d bytes at 0x%x", len(out), addr),
		func() error {
			var err error
			count, err = readVirtualMemory(tracer.Pid, addr, out)
			return err
		})

	return count, err
}

// SigInfoCode returns the si_code of the signal which caused the last stop.
func (tracer *Tracer) SigInfoCode() (int32, error) {
	info := &unixSigInfo{}
	err := tracer.do(
		"get signal info",
		func() error {
			return getSigInfo(tracer.Pid, info)
		})
	if err != nil {
		return 0, err
	}

	return info.Code, nil
}
