package command

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/pattyshack/edb/debugger"
	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/debugger/loadedelf"
	"github.com/pattyshack/edb/dwarf"
	"github.com/pattyshack/edb/elf"
	"github.com/pattyshack/edb/ptrace"
)

const (
	memoryBase = VirtualAddress(0x400000)

	trapStop = syscall.WaitStatus(0x7f | int(syscall.SIGTRAP)<<8)
)

// fakeProcess exits on the first resume.
type fakeProcess struct {
	regs ptrace.UserRegs
	mem  []byte
}

func (proc *fakeProcess) Pid() int {
	return 1234
}

func (proc *fakeProcess) GetRegisters() (*ptrace.UserRegs, error) {
	regs := proc.regs
	return &regs, nil
}

func (proc *fakeProcess) SetRegisters(regs *ptrace.UserRegs) error {
	proc.regs = *regs
	return nil
}

func (proc *fakeProcess) offset(address VirtualAddress, size int) (int, error) {
	if address < memoryBase ||
		uint64(address-memoryBase)+uint64(size) > uint64(len(proc.mem)) {

		return 0, fmt.Errorf("out of bound access at %s", address)
	}
	return int(address - memoryBase), nil
}

func (proc *fakeProcess) PeekWord(address VirtualAddress) (uint64, error) {
	idx, err := proc.offset(address, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(proc.mem[idx:]), nil
}

func (proc *fakeProcess) PokeWord(address VirtualAddress, word uint64) error {
	idx, err := proc.offset(address, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(proc.mem[idx:], word)
	return nil
}

func (proc *fakeProcess) ReadMemory(
	address VirtualAddress,
	out []byte,
) (
	int,
	error,
) {
	idx, err := proc.offset(address, 0)
	if err != nil {
		return 0, err
	}
	return copy(out, proc.mem[idx:]), nil
}

func (proc *fakeProcess) TrapKind() (TrapKind, error) {
	return UnknownTrap, nil
}

func (proc *fakeProcess) ResumeAndWait() (syscall.WaitStatus, error) {
	return syscall.WaitStatus(0), nil
}

func (proc *fakeProcess) SingleStepAndWait() (syscall.WaitStatus, error) {
	proc.regs.Rip += 1
	return trapStop, nil
}

func (proc *fakeProcess) Close() error {
	return nil
}

type fixture struct {
	cmds *Commands
	out  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)

	session, err := debugger.NewSession(
		debugger.SessionOptions{
			Options: debugger.Options{
				Logger: entry,
			},
			SourceContext: -1,
			Starter: func(
				path string,
				args []string,
				options debugger.Options,
			) (
				*debugger.Debugger,
				error,
			) {
				if path != "prog" {
					return nil, fmt.Errorf("%w. no such program", ErrResource)
				}

				proc := &fakeProcess{
					mem: make([]byte, 0x40),
				}
				for idx := range proc.mem {
					proc.mem[idx] = byte(idx + 1)
				}
				proc.regs.Rip = uint64(memoryBase)

				return debugger.New(
					proc,
					trapStop,
					&loadedelf.File{
						File:  &elf.File{},
						Path:  path,
						Lines: &dwarf.LineTable{},
					},
					options)
			},
		})
	expect.Nil(t, err)

	out := &bytes.Buffer{}
	return &fixture{
		cmds: New(session, out, entry),
		out:  out,
	}
}

func (f *fixture) execute(t *testing.T, line string) (Result, error) {
	f.out.Reset()
	return f.cmds.Execute(line)
}

func (f *fixture) expectOk(t *testing.T, line string) string {
	result, err := f.execute(t, line)
	expect.Nil(t, err)
	expect.Equal(t, Ok, result)
	return f.out.String()
}

func (f *fixture) expectError(t *testing.T, line string, target error) {
	result, err := f.execute(t, line)
	expect.Equal(t, Error, result)
	expect.True(t, errors.Is(err, target))
}

type CommandSuite struct{}

func TestCommand(t *testing.T) {
	suite.RunTests(t, &CommandSuite{})
}

func (CommandSuite) TestEmptyLine(t *testing.T) {
	f := newFixture(t)
	f.expectOk(t, "")
	f.expectOk(t, "   ")
}

func (CommandSuite) TestUnknownCommand(t *testing.T) {
	f := newFixture(t)

	result, err := f.execute(t, "frobnicate 1 2")
	expect.Equal(t, NotRecognized, result)
	expect.Error(t, err, "unknown command (frobnicate)")
}

func (CommandSuite) TestAmbiguousPrefix(t *testing.T) {
	f := newFixture(t)

	result, err := f.execute(t, "br 10")
	expect.Equal(t, NotRecognized, result)
	expect.Error(t, err, "ambiguous command (br): break, breakpoints")
}

func (CommandSuite) TestQuit(t *testing.T) {
	f := newFixture(t)

	for _, line := range []string{"quit", "q", "qu", "exit"} {
		result, err := f.execute(t, line)
		expect.Nil(t, err)
		expect.Equal(t, SessionExit, result)
	}
}

func (CommandSuite) TestHelp(t *testing.T) {
	f := newFixture(t)

	output := f.expectOk(t, "help")
	expect.True(t, strings.Contains(output, "continue (alias: c)"))
	expect.True(t, strings.Contains(output, "delete <line | 0xaddress | file:line> (alias: del)"))
}

func (CommandSuite) TestNoSession(t *testing.T) {
	f := newFixture(t)

	f.expectError(t, "continue", ErrNoSession)
	f.expectError(t, "c", ErrState)
	f.expectError(t, "break 0x400000", ErrNoSession)
	f.expectError(t, "del 0x400000", ErrNoSession)
	f.expectError(t, "register read", ErrNoSession)
	f.expectError(t, "run", ErrInvalidArgument)
}

func (CommandSuite) TestPipeNotSupported(t *testing.T) {
	f := newFixture(t)
	f.expectError(t, "break 10 | continue", ErrInvalidArgument)
}

func (CommandSuite) TestRunFailure(t *testing.T) {
	f := newFixture(t)
	f.expectError(t, "run missing", ErrResource)
}

func (CommandSuite) TestBreakpoints(t *testing.T) {
	f := newFixture(t)

	output := f.expectOk(t, "run prog")
	expect.True(t, strings.HasPrefix(output, "process 1234 started\n"))

	output = f.expectOk(t, "bl")
	expect.Equal(t, "No break point set\n", output)

	output = f.expectOk(t, "b 0x400010")
	expect.Equal(t, "break point set at 0x0000000000400010\n", output)

	f.expectOk(t, "break 0x400008")

	output = f.expectOk(t, "breakpoints")
	expect.Equal(
		t,
		"Current break points (2 / 64)\n"+
			"  0x0000000000400008 (location = 0x400008, enabled = true)\n"+
			"  0x0000000000400010 (location = 0x400010, enabled = true)\n",
		output)

	f.expectError(t, "break 0x400010", ErrDuplicateBreakpoint)
	f.expectError(t, "break 10", ErrResolution)
	f.expectError(t, "break", ErrInvalidArgument)

	output = f.expectOk(t, "del 0x400010")
	expect.Equal(t, "break point 0x400010 deleted\n", output)

	f.expectError(t, "delete 0x400010", ErrNotFound)
}

func (CommandSuite) TestContinueUntilExit(t *testing.T) {
	f := newFixture(t)

	f.expectOk(t, "run prog")

	output := f.expectOk(t, "c")
	expect.Equal(t, "process 1234 exited with status: 0\n", output)

	f.expectError(t, "continue", ErrProcessExited)
	f.expectError(t, "stepi", ErrProcessExited)
}

func (CommandSuite) TestStepInstruction(t *testing.T) {
	f := newFixture(t)

	f.expectOk(t, "run prog")

	output := f.expectOk(t, "si")
	expect.True(t, strings.Contains(output, "at: 0x0000000000400001"))
	expect.False(t, strings.Contains(output, "(single step)"))
}

func (CommandSuite) TestRegister(t *testing.T) {
	f := newFixture(t)

	f.expectOk(t, "run prog")

	f.expectOk(t, "register write rax 0x2a")

	output := f.expectOk(t, "register read rax")
	expect.Equal(t, "rax: 0x000000000000002a\n", output)

	output = f.expectOk(t, "register read")
	expect.True(t, strings.Contains(output, "rip:\t\t0x0000000000400000\n"))
	expect.True(t, strings.Contains(output, "orig_rax:\t0x0000000000000000\n"))

	f.expectError(t, "register read xmm0", ErrUnknownRegister)
	f.expectError(t, "register write rax nope", ErrInvalidArgument)
	f.expectError(t, "register poke rax", ErrInvalidArgument)
}

func (CommandSuite) TestMemory(t *testing.T) {
	f := newFixture(t)

	f.expectOk(t, "run prog")
	f.expectOk(t, "break 0x400001")

	output := f.expectOk(t, "x 0x400000 4")
	expect.Equal(t, "0x0000000000400000: 01 02 03 04\n", output)

	output = f.expectOk(t, "memory 0x400000 18")
	expect.Equal(
		t,
		"0x0000000000400000: 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f 10\n"+
			"0x0000000000400010: 11 12\n",
		output)

	f.expectError(t, "memory 400000", ErrInvalidArgument)
	f.expectError(t, "memory 0x400000 -1", ErrInvalidArgument)
	f.expectError(t, "memory 0x400000 4611686018427387904", ErrInvalidArgument)
}
