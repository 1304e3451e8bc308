package debugger

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/debugger/loadedelf"
	"github.com/pattyshack/edb/debugger/registers"
	"github.com/pattyshack/edb/debugger/stoppoint"
	"github.com/pattyshack/edb/procfs"
)

// MaxMemoryReadSize bounds a single ReadMemory snapshot.
const MaxMemoryReadSize = 1 << 20

type Options struct {
	// <= 0 means stoppoint.DefaultCapacity
	MaxBreakpoints int

	// <= 0 means dwarf.DefaultMaxLineRows
	MaxLineRows int

	Logger *logrus.Entry
}

func (options Options) logger() *logrus.Entry {
	if options.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return options.Logger
}

// Debugger controls a single stopped-or-terminated traced process.  Every
// operation is synchronous: the process only runs inside Continue /
// StepInstruction / StepOverCurrentBreakpoint.
type Debugger struct {
	Pid int

	process Process

	*registers.Registers

	Breakpoints *stoppoint.Table

	LoadedElf *loadedelf.File

	status ProcessStatus

	// Set once the program counter was moved back onto the break point the
	// last stop trapped at.  The displaced instruction is then at the program
	// counter rather than one byte before it.
	trapRewound bool

	logger *logrus.Entry
}

// Start launches path (looked up in PATH when it has no slash) under trace.
func Start(path string, args []string, options Options) (*Debugger, error) {
	fullPath, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w. %v", ErrResource, err)
	}

	proc, waitStatus, err := StartProcess(fullPath, args...)
	if err != nil {
		return nil, err
	}

	return load(proc, waitStatus, fullPath, options)
}

func Attach(pid int, options Options) (*Debugger, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("%w. invalid pid (%d)", ErrInvalidArgument, pid)
	}

	procStatus, err := procfs.GetProcessStatus(pid)
	if err != nil {
		return nil, fmt.Errorf("%w. %v", ErrProcessControl, err)
	}

	if !procStatus.State.Alive() {
		return nil, fmt.Errorf(
			"%w. cannot attach to %s process %d (%s)",
			ErrProcessControl,
			procStatus.State,
			pid,
			procStatus.Comm)
	}

	proc, waitStatus, err := AttachToProcess(pid)
	if err != nil {
		return nil, err
	}

	path := procfs.GetExecutableSymlinkPath(pid)
	return load(proc, waitStatus, path, options)
}

// The process must be stopped before loading the elf file since the entry
// point address is read from procfs.
func load(
	proc Process,
	waitStatus syscall.WaitStatus,
	path string,
	options Options,
) (
	*Debugger,
	error,
) {
	elfFile, err := loadedelf.Load(
		path,
		proc.Pid(),
		loadedelf.Options{
			MaxLineRows: options.MaxLineRows,
			Logger:      options.logger().WithField("layer", "loadedelf"),
		})
	if err != nil {
		_ = proc.Close()
		return nil, err
	}

	db, err := New(proc, waitStatus, elfFile, options)
	if err != nil {
		_ = proc.Close()
		return nil, err
	}

	return db, nil
}

// New wraps an already stopped process.
func New(
	proc Process,
	waitStatus syscall.WaitStatus,
	elfFile *loadedelf.File,
	options Options,
) (
	*Debugger,
	error,
) {
	db := &Debugger{
		Pid:         proc.Pid(),
		process:     proc,
		Registers:   registers.New(proc),
		Breakpoints: stoppoint.NewTable(proc, proc.Pid(), options.MaxBreakpoints),
		LoadedElf:   elfFile,
		logger: options.logger().WithFields(
			logrus.Fields{
				"layer": "debugger",
				"pid":   proc.Pid(),
			}),
	}

	_, err := db.updateStatus(waitStatus)
	if err != nil {
		return nil, err
	}

	db.logger.WithFields(
		logrus.Fields{
			"path":        elfFile.Path,
			"entry-point": elfFile.EntryPointVirtualAddress(),
		}).Info("attached to process")

	return db, nil
}

func (db *Debugger) Status() ProcessStatus {
	return db.status
}

func (db *Debugger) updateStatus(
	waitStatus syscall.WaitStatus,
) (
	ProcessStatus,
	error,
) {
	status := newProcessStatus(db.Pid, waitStatus)
	db.trapRewound = false

	if status.Terminated() {
		db.status = status

		count := db.Breakpoints.Forget()
		db.logger.WithField("break-points", count).Info(status.String())
		return status, nil
	}

	if !status.Stopped {
		return ProcessStatus{}, fmt.Errorf(
			"%w. unexpected wait status (0x%x) for process %d",
			ErrWait,
			uint32(waitStatus),
			db.Pid)
	}

	pc, err := db.GetProgramCounter()
	if err != nil {
		return ProcessStatus{}, err
	}

	address := pc
	if status.StopSignal == syscall.SIGTRAP {
		status.TrapKind, err = db.process.TrapKind()
		if err != nil {
			return ProcessStatus{}, fmt.Errorf(
				"%w. failed to read signal info for process %d: %v",
				ErrProcessControl,
				db.Pid,
				err)
		}

		// NOTE: the program counter is one byte past the int3 when a break
		// point triggered.  The program counter is only rewound when stepping
		// over or removing the break point.
		if status.TrapKind == SoftwareTrap {
			bp, ok := db.Breakpoints.GetEnabledAt(pc - TrapWidth)
			if ok {
				address = bp.Address()
				status.BreakPoint = bp.String()
			}
		}
	}

	status.Location = db.LoadedElf.Describe(address)
	db.status = status

	db.logger.WithFields(
		logrus.Fields{
			"pc":        pc,
			"signal":    status.StopSignal,
			"trap-kind": status.TrapKind,
		}).Debug("process stopped")

	return status, nil
}

// ResolveLocation maps a break point location to an address.  A location is
// either a decimal line number in the primary source file, a 0x prefixed
// address, or <file>:<line>.
func (db *Debugger) ResolveLocation(location string) (VirtualAddress, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return 0, fmt.Errorf("%w. empty location", ErrInvalidArgument)
	}

	if strings.HasPrefix(location, "0x") || strings.HasPrefix(location, "0X") {
		return ParseVirtualAddress(location)
	}

	var addr VirtualAddress
	var err error

	idx := strings.LastIndex(location, ":")
	if idx >= 0 {
		fileName := location[:idx]
		line, parseErr := parseLine(location[idx+1:])
		if parseErr != nil {
			return 0, parseErr
		}

		if fileName == "" {
			return 0, fmt.Errorf(
				"%w. empty file name (%s)",
				ErrInvalidArgument,
				location)
		}

		addr, err = db.LoadedElf.ResolveFileLine(fileName, line)
	} else {
		line, parseErr := parseLine(location)
		if parseErr != nil {
			return 0, parseErr
		}

		addr, err = db.LoadedElf.ResolveLine(line)
	}

	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	return addr, nil
}

func parseLine(value string) (int, error) {
	line, err := strconv.Atoi(value)
	if err != nil || line <= 0 {
		return 0, fmt.Errorf(
			"%w. invalid line number (%s)",
			ErrInvalidArgument,
			value)
	}
	return line, nil
}

func (db *Debugger) checkAlive(operation string) error {
	if db.status.Terminated() {
		return fmt.Errorf(
			"%w. cannot %s process %d",
			ErrProcessExited,
			operation,
			db.Pid)
	}
	return nil
}

func (db *Debugger) AddBreakpoint(
	location string,
) (
	*stoppoint.Breakpoint,
	error,
) {
	err := db.checkAlive("add break point to")
	if err != nil {
		return nil, err
	}

	addr, err := db.ResolveLocation(location)
	if err != nil {
		return nil, err
	}

	bp, err := db.Breakpoints.Add(location, addr)
	if err != nil {
		return nil, err
	}

	db.logger.WithField("address", addr).Info("added break point " + location)
	return bp, nil
}

func (db *Debugger) RemoveBreakpoint(location string) error {
	addr, err := db.ResolveLocation(location)
	if err != nil {
		return err
	}

	err = db.rewindTrap(addr)
	if err != nil {
		return err
	}

	err = db.Breakpoints.Remove(addr)
	if err != nil {
		return err
	}

	db.logger.WithField("address", addr).Info("removed break point " + location)
	return nil
}

// rewindTrap moves the program counter back onto the break point at address
// when the process is stopped right after trapping there.  Without this,
// removing the trap resumes execution one byte into the displaced
// instruction.
func (db *Debugger) rewindTrap(address VirtualAddress) error {
	if db.trapRewound ||
		!db.status.Stopped ||
		db.status.TrapKind != SoftwareTrap {

		return nil
	}

	_, ok := db.Breakpoints.GetEnabledAt(address)
	if !ok {
		return nil
	}

	pc, err := db.GetProgramCounter()
	if err != nil {
		return err
	}

	if pc-TrapWidth != address {
		return nil
	}

	err = db.SetProgramCounter(address)
	if err != nil {
		return fmt.Errorf(
			"failed to rewind program counter to break point at %s: %w",
			address,
			err)
	}

	db.trapRewound = true
	return nil
}

// StepOverCurrentBreakpoint executes the instruction displaced by the break
// point the process is stopped at (if any), leaving the break point enabled.
// This is a no-op when the process is not stopped at a break point.
func (db *Debugger) StepOverCurrentBreakpoint() error {
	err := db.checkAlive("step over break point for")
	if err != nil {
		return err
	}

	// A single step that lands right after a break point address is not a
	// break point hit.
	if db.status.TrapKind == SingleStepTrap {
		return nil
	}

	pc, err := db.GetProgramCounter()
	if err != nil {
		return err
	}

	candidate := pc - TrapWidth
	if db.trapRewound {
		candidate = pc
	}

	bp, ok := db.Breakpoints.GetEnabledAt(candidate)
	if !ok {
		return nil
	}

	err = db.SetProgramCounter(candidate)
	if err != nil {
		return fmt.Errorf(
			"failed to rewind program counter to break point at %s: %w",
			candidate,
			err)
	}

	_, err = db.singleStepWithDisabled(bp)
	return err
}

// The break point is re-enabled after the step unless the process
// terminated.
func (db *Debugger) singleStepWithDisabled(
	bp *stoppoint.Breakpoint,
) (
	ProcessStatus,
	error,
) {
	_, err := bp.Disable()
	if err != nil {
		return ProcessStatus{}, fmt.Errorf(
			"failed to disable break point at %s: %w",
			bp.Address(),
			err)
	}

	status, err := db.singleStep()
	if err != nil {
		return ProcessStatus{}, err
	}

	if status.Terminated() {
		return status, nil
	}

	err = bp.Enable()
	if err != nil {
		return ProcessStatus{}, fmt.Errorf(
			"failed to re-enable break point at %s: %w",
			bp.Address(),
			err)
	}

	return status, nil
}

func (db *Debugger) singleStep() (ProcessStatus, error) {
	waitStatus, err := db.process.SingleStepAndWait()
	if err != nil {
		return ProcessStatus{}, fmt.Errorf(
			"%w. failed to single step process %d: %v",
			ErrWait,
			db.Pid,
			err)
	}

	return db.updateStatus(waitStatus)
}

// Continue steps over the current break point (if any), then resumes the
// process until its next stop.
func (db *Debugger) Continue() (ProcessStatus, error) {
	err := db.checkAlive("continue")
	if err != nil {
		return db.status, err
	}

	err = db.StepOverCurrentBreakpoint()
	if err != nil {
		return ProcessStatus{}, err
	}

	if db.status.Terminated() {
		return db.status, nil
	}

	waitStatus, err := db.process.ResumeAndWait()
	if err != nil {
		return ProcessStatus{}, fmt.Errorf(
			"%w. failed to resume process %d: %v",
			ErrWait,
			db.Pid,
			err)
	}

	return db.updateStatus(waitStatus)
}

// StepInstruction executes exactly one instruction.  Break points at the
// current instruction are transparently stepped over.
func (db *Debugger) StepInstruction() (ProcessStatus, error) {
	err := db.checkAlive("step instruction for")
	if err != nil {
		return db.status, err
	}

	if db.status.TrapKind != SingleStepTrap && !db.trapRewound {
		pc, err := db.GetProgramCounter()
		if err != nil {
			return ProcessStatus{}, err
		}

		candidate := pc - TrapWidth
		bp, ok := db.Breakpoints.GetEnabledAt(candidate)
		if ok {
			err = db.SetProgramCounter(candidate)
			if err != nil {
				return ProcessStatus{}, err
			}

			return db.singleStepWithDisabled(bp)
		}
	}

	pc, err := db.GetProgramCounter()
	if err != nil {
		return ProcessStatus{}, err
	}

	bp, ok := db.Breakpoints.GetEnabledAt(pc)
	if ok {
		return db.singleStepWithDisabled(bp)
	}

	return db.singleStep()
}

// ReadMemory returns a snapshot of the process' memory, with break point traps
// replaced by the original instruction bytes.
func (db *Debugger) ReadMemory(
	address VirtualAddress,
	size int,
) (
	[]byte,
	error,
) {
	err := db.checkAlive("read memory from")
	if err != nil {
		return nil, err
	}

	if size < 0 || size > MaxMemoryReadSize {
		return nil, fmt.Errorf(
			"%w. memory read size (%d) not in [0, %d]",
			ErrInvalidArgument,
			size,
			MaxMemoryReadSize)
	}

	out := make([]byte, size)
	n, err := db.process.ReadMemory(address, out)
	if err != nil {
		return nil, fmt.Errorf(
			"%w. failed to read %d bytes at %s: %v",
			ErrMemoryRead,
			size,
			address,
			err)
	}

	out = out[:n]
	db.Breakpoints.ReplaceTrapBytes(address, out)
	return out, nil
}

func (db *Debugger) ReadRegister(name string) (uint64, error) {
	err := db.checkAlive("read register from")
	if err != nil {
		return 0, err
	}

	reg, err := registers.ByName(name)
	if err != nil {
		return 0, err
	}

	return db.Get(reg)
}

func (db *Debugger) WriteRegister(name string, value uint64) error {
	err := db.checkAlive("write register to")
	if err != nil {
		return err
	}

	reg, err := registers.ByName(name)
	if err != nil {
		return err
	}

	return db.Set(reg, value)
}

// Close removes every break point trap and detaches from the process.  A
// process started by the debugger is killed.
func (db *Debugger) Close() error {
	if !db.status.Terminated() {
		if db.status.BreakPoint != "" {
			err := db.rewindTrap(db.status.Address)
			if err != nil {
				db.logger.WithError(err).Warn("failed to rewind program counter")
			}
		}

		count, err := db.Breakpoints.Clear()
		if err != nil {
			db.logger.WithError(err).Warn("failed to remove break point traps")
		} else if count > 0 {
			db.logger.WithField("break-points", count).Debug(
				"removed break point traps")
		}
	}

	err := db.process.Close()
	if err != nil {
		return fmt.Errorf(
			"%w. failed to detach from process %d: %v",
			ErrProcessControl,
			db.Pid,
			err)
	}

	db.logger.Info("detached from process")
	return nil
}
