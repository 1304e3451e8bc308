package common

import (
	"fmt"
	"strconv"
	"strings"
)

// Error categories.  Every error surfaced by the debugger wraps exactly one
// of these, so callers can decide whether to keep going with errors.Is.
var (
	ErrResource       = fmt.Errorf("resource error")
	ErrProcessControl = fmt.Errorf("process control error")
	ErrFormat         = fmt.Errorf("format error")
	ErrLookup         = fmt.Errorf("lookup error")
	ErrCapacity       = fmt.Errorf("capacity error")
	ErrState          = fmt.Errorf("state error")
)

var (
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", ErrLookup)

	ErrRegisterRead    = fmt.Errorf("%w: failed to read registers", ErrProcessControl)
	ErrRegisterWrite   = fmt.Errorf("%w: failed to write registers", ErrProcessControl)
	ErrMemoryRead      = fmt.Errorf("%w: failed to read memory", ErrProcessControl)
	ErrMemoryWrite     = fmt.Errorf("%w: failed to write memory", ErrProcessControl)
	ErrWait            = fmt.Errorf("%w: failed to wait for process", ErrProcessControl)
	ErrUnknownRegister = fmt.Errorf("%w: unknown register", ErrLookup)

	ErrDuplicateBreakpoint = fmt.Errorf("%w: duplicate break point", ErrLookup)
	ErrNotFound            = fmt.Errorf("%w: break point not found", ErrLookup)
	ErrTableFull           = fmt.Errorf("%w: break point table full", ErrCapacity)

	ErrInvalidFormat    = fmt.Errorf("%w: invalid elf file", ErrFormat)
	ErrSectionNotFound  = fmt.Errorf("%w: section not found", ErrLookup)
	ErrCorruptDebugInfo = fmt.Errorf("%w: corrupt debug info", ErrFormat)

	ErrResolution       = fmt.Errorf("%w: unable to resolve location", ErrLookup)
	ErrLineNotFound     = fmt.Errorf("%w: line not found", ErrLookup)
	ErrAddressNotMapped = fmt.Errorf("%w: address not mapped", ErrLookup)

	ErrProcessExited = fmt.Errorf("%w: process exited", ErrState)
	ErrNoSession     = fmt.Errorf("%w: no active session", ErrState)
)

// int3 is the only trap instruction used, so every trap is one byte wide.
const (
	TrapInstruction = byte(0xcc)
	TrapWidth       = VirtualAddress(1)
)

type VirtualAddress uint64

func (addr VirtualAddress) String() string {
	return fmt.Sprintf("0x%016x", uint64(addr))
}

func ParseVirtualAddress(value string) (VirtualAddress, error) {
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		return 0, fmt.Errorf(
			"%w. address (%s) is not 0x prefixed",
			ErrInvalidArgument,
			value)
	}

	addr, err := strconv.ParseUint(value[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf(
			"%w. failed to parse virtual address (%s): %v",
			ErrInvalidArgument,
			value,
			err)
	}

	return VirtualAddress(addr), nil
}

type VirtualAddresses []VirtualAddress

func (s VirtualAddresses) Len() int {
	return len(s)
}

func (s VirtualAddresses) Less(i int, j int) bool {
	return uint64(s[i]) < uint64(s[j])
}

func (s VirtualAddresses) Swap(i int, j int) {
	s[i], s[j] = s[j], s[i]
}

type TrapKind string

const (
	UnknownTrap    = TrapKind("")
	SoftwareTrap   = TrapKind("software break")
	SingleStepTrap = TrapKind("single step")
)

func TrapCodeToKind(code int32) TrapKind {
	// NOTE: on x64, linux incorrect report software trap as SI_KERNEL (0x80)
	// when it should have reported of TRAP_BRKPT (1).
	switch code {
	case 0x80, 1: // SI_KERNEL, TRAP_BRKPT
		return SoftwareTrap
	case 2: // TRAP_TRACE
		return SingleStepTrap
	default:
		return UnknownTrap
	}
}
