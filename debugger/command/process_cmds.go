package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pattyshack/edb/debugger"
	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/debugger/registers"
)

const (
	defaultMemoryDumpSize = 32
	memoryDumpWidth       = 16
)

func (cmds *Commands) run(args []string) (Result, error) {
	path := cmds.session.Path
	var programArgs []string
	if len(args) > 0 {
		path = args[0]
		programArgs = args[1:]
	}

	if path == "" {
		return Error, fmt.Errorf("%w. usage: run <path> [<args>...]",
			ErrInvalidArgument)
	}

	db, err := cmds.session.Start(path, programArgs)
	if err != nil {
		return Error, err
	}

	cmds.printf("process %d started\n", db.Pid)
	cmds.println(cmds.session.Report(db.Status()))
	return Ok, nil
}

func (cmds *Commands) resume(args []string) (Result, error) {
	err := expectArgs(args, 0, 0, "continue")
	if err != nil {
		return Error, err
	}

	db, err := cmds.session.Active()
	if err != nil {
		return Error, err
	}

	status, err := db.Continue()
	if err != nil {
		return Error, err
	}

	cmds.println(cmds.session.Report(status))
	return Ok, nil
}

func (cmds *Commands) stepInstruction(args []string) (Result, error) {
	err := expectArgs(args, 0, 0, "stepi")
	if err != nil {
		return Error, err
	}

	db, err := cmds.session.Active()
	if err != nil {
		return Error, err
	}

	status, err := db.StepInstruction()
	if err != nil {
		return Error, err
	}

	cmds.println(cmds.session.Report(status))
	return Ok, nil
}

func (cmds *Commands) setBreakpoint(args []string) (Result, error) {
	err := expectArgs(args, 1, 1, "break <line | 0xaddress | file:line>")
	if err != nil {
		return Error, err
	}

	db, err := cmds.session.Active()
	if err != nil {
		return Error, err
	}

	bp, err := db.AddBreakpoint(args[0])
	if err != nil {
		return Error, err
	}

	cmds.printf(
		"break point set at %s\n",
		db.LoadedElf.Describe(bp.Address()))
	return Ok, nil
}

func (cmds *Commands) deleteBreakpoint(args []string) (Result, error) {
	err := expectArgs(args, 1, 1, "delete <line | 0xaddress | file:line>")
	if err != nil {
		return Error, err
	}

	db, err := cmds.session.Active()
	if err != nil {
		return Error, err
	}

	err = db.RemoveBreakpoint(args[0])
	if err != nil {
		return Error, err
	}

	cmds.printf("break point %s deleted\n", args[0])
	return Ok, nil
}

func (cmds *Commands) listBreakpoints(args []string) (Result, error) {
	db, err := cmds.session.Active()
	if err != nil {
		return Error, err
	}

	bps := db.Breakpoints.List()
	if len(bps) == 0 {
		cmds.println("No break point set")
		return Ok, nil
	}

	cmds.printf(
		"Current break points (%d / %d)\n",
		len(bps),
		db.Breakpoints.Capacity())
	for _, bp := range bps {
		cmds.printf(
			"  %s (location = %s, enabled = %v)\n",
			db.LoadedElf.Describe(bp.Address()),
			bp.Location(),
			bp.IsEnabled())
	}

	return Ok, nil
}

func (cmds *Commands) register(args []string) (Result, error) {
	usage := "register read [<name>] | register write <name> <value>"
	if len(args) == 0 {
		return Error, fmt.Errorf("%w. usage: %s", ErrInvalidArgument, usage)
	}

	db, err := cmds.session.Active()
	if err != nil {
		return Error, err
	}

	switch args[0] {
	case "read":
		return cmds.readRegisters(db, args[1:])
	case "write":
		return cmds.writeRegister(db, args[1:])
	default:
		return Error, fmt.Errorf("%w. usage: %s", ErrInvalidArgument, usage)
	}
}

func (cmds *Commands) readRegisters(
	db *debugger.Debugger,
	args []string,
) (
	Result,
	error,
) {
	err := expectArgs(args, 0, 1, "register read [<name>]")
	if err != nil {
		return Error, err
	}

	if len(args) == 1 {
		value, err := db.ReadRegister(args[0])
		if err != nil {
			return Error, err
		}

		cmds.printf("%s: 0x%016x\n", args[0], value)
		return Ok, nil
	}

	state, err := db.GetState()
	if err != nil {
		return Error, err
	}

	for _, reg := range registers.All() {
		format := "%s:\t\t0x%016x\n"
		if len(reg.Name) >= 7 {
			format = "%s:\t0x%016x\n"
		}
		cmds.printf(format, reg.Name, state.Value(reg))
	}

	return Ok, nil
}

func (cmds *Commands) writeRegister(
	db *debugger.Debugger,
	args []string,
) (
	Result,
	error,
) {
	err := expectArgs(args, 2, 2, "register write <name> <value>")
	if err != nil {
		return Error, err
	}

	value, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return Error, fmt.Errorf(
			"%w. invalid register value (%s)",
			ErrInvalidArgument,
			args[1])
	}

	err = db.WriteRegister(args[0], value)
	if err != nil {
		return Error, err
	}

	return Ok, nil
}

func (cmds *Commands) memory(args []string) (Result, error) {
	err := expectArgs(args, 1, 2, "memory <0xaddress> [<num bytes>]")
	if err != nil {
		return Error, err
	}

	db, err := cmds.session.Active()
	if err != nil {
		return Error, err
	}

	addr, err := ParseVirtualAddress(args[0])
	if err != nil {
		return Error, err
	}

	size := defaultMemoryDumpSize
	if len(args) == 2 {
		size, err = strconv.Atoi(args[1])
		if err != nil || size <= 0 {
			return Error, fmt.Errorf(
				"%w. invalid number of bytes (%s)",
				ErrInvalidArgument,
				args[1])
		}
	}

	data, err := db.ReadMemory(addr, size)
	if err != nil {
		return Error, err
	}

	for len(data) > 0 {
		chunk := data
		if len(chunk) > memoryDumpWidth {
			chunk = chunk[:memoryDumpWidth]
		}
		data = data[len(chunk):]

		hex := []string{}
		for _, b := range chunk {
			hex = append(hex, fmt.Sprintf("%02x", b))
		}
		cmds.printf("%s: %s\n", addr, strings.Join(hex, " "))

		addr += VirtualAddress(len(chunk))
	}

	return Ok, nil
}
