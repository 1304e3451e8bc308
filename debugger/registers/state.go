package registers

import (
	"reflect"

	"github.com/pattyshack/edb/ptrace"
)

// State is a snapshot of the whole general purpose register block.
type State struct {
	gpr ptrace.UserRegs
}

func NewState(gpr ptrace.UserRegs) State {
	return State{
		gpr: gpr,
	}
}

func (state State) UserRegs() ptrace.UserRegs {
	return state.gpr
}

func (state State) Value(reg Spec) uint64 {
	return reflect.ValueOf(state.gpr).FieldByName(reg.Field).Uint()
}

func (state State) WithValue(reg Spec, value uint64) State {
	newState := state
	reflect.Indirect(reflect.ValueOf(&newState.gpr)).
		FieldByName(reg.Field).
		SetUint(value)
	return newState
}
