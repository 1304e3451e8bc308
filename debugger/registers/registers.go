package registers

import (
	"fmt"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/ptrace"
)

// File is the traced process' general purpose register block.  Reads and
// writes always transfer the whole block.
type File interface {
	GetRegisters() (*ptrace.UserRegs, error)
	SetRegisters(*ptrace.UserRegs) error
}

type Registers struct {
	file File
}

func New(file File) *Registers {
	return &Registers{
		file: file,
	}
}

func (registers *Registers) GetState() (State, error) {
	gpr, err := registers.file.GetRegisters()
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrRegisterRead, err)
	}

	return NewState(*gpr), nil
}

func (registers *Registers) SetState(state State) error {
	gpr := state.UserRegs()
	err := registers.file.SetRegisters(&gpr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegisterWrite, err)
	}

	return nil
}

func (registers *Registers) Get(reg Spec) (uint64, error) {
	state, err := registers.GetState()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", reg.Name, err)
	}

	return state.Value(reg), nil
}

// Set performs a read-modify-write of the whole register block.
func (registers *Registers) Set(reg Spec, value uint64) error {
	state, err := registers.GetState()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", reg.Name, err)
	}

	err = registers.SetState(state.WithValue(reg, value))
	if err != nil {
		return fmt.Errorf("failed to set %s to 0x%x: %w", reg.Name, value, err)
	}

	return nil
}

func (registers *Registers) GetProgramCounter() (VirtualAddress, error) {
	value, err := registers.Get(ProgramCounter)
	if err != nil {
		return 0, err
	}

	return VirtualAddress(value), nil
}

func (registers *Registers) SetProgramCounter(address VirtualAddress) error {
	return registers.Set(ProgramCounter, uint64(address))
}
