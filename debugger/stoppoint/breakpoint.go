package stoppoint

import (
	"fmt"

	. "github.com/pattyshack/edb/debugger/common"
)

// Memory is word granular (8 bytes, little endian) access to the traced
// process' address space.
type Memory interface {
	PeekWord(address VirtualAddress) (uint64, error)
	PokeWord(address VirtualAddress, word uint64) error
}

// Breakpoint is a software breakpoint implemented by replacing the first byte
// at address with int3.
type Breakpoint struct {
	memory Memory

	pid      int
	location string
	address  VirtualAddress

	isEnabled    bool
	originalData byte
}

func NewBreakpoint(
	memory Memory,
	pid int,
	location string,
	address VirtualAddress,
) *Breakpoint {
	return &Breakpoint{
		memory:   memory,
		pid:      pid,
		location: location,
		address:  address,
	}
}

func (bp *Breakpoint) Pid() int {
	return bp.pid
}

// Location is the user supplied location text (e.g., "12", "0x401000").
func (bp *Breakpoint) Location() string {
	return bp.location
}

func (bp *Breakpoint) Address() VirtualAddress {
	return bp.address
}

func (bp *Breakpoint) IsEnabled() bool {
	return bp.isEnabled
}

// OriginalData is the instruction byte displaced by int3.  It is set by the
// most recent Enable attempt and cleared by Disable.
func (bp *Breakpoint) OriginalData() byte {
	return bp.originalData
}

func (bp *Breakpoint) String() string {
	state := "disabled"
	if bp.isEnabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s (%s) %s", bp.address, bp.location, state)
}

func (bp *Breakpoint) Enable() error {
	if bp.isEnabled {
		return nil
	}

	word, err := bp.memory.PeekWord(bp.address)
	if err != nil {
		return fmt.Errorf(
			"failed to enable break point at %s. %w: %v",
			bp.address,
			ErrMemoryRead,
			err)
	}

	// Saved before patching so that a failed write leaves it for a retry.
	bp.originalData = byte(word & 0xff)

	err = bp.memory.PokeWord(
		bp.address,
		(word&^0xff)|uint64(TrapInstruction))
	if err != nil {
		return fmt.Errorf(
			"failed to enable break point at %s. %w: %v",
			bp.address,
			ErrMemoryWrite,
			err)
	}

	bp.isEnabled = true
	return nil
}

// Disable returns false when the breakpoint is already disabled.  The word is
// re-read before restoring the original byte so that the other seven bytes
// keep whatever the process wrote since the breakpoint was enabled.
func (bp *Breakpoint) Disable() (bool, error) {
	if !bp.isEnabled {
		return false, nil
	}

	word, err := bp.memory.PeekWord(bp.address)
	if err != nil {
		return false, fmt.Errorf(
			"failed to disable break point at %s. %w: %v",
			bp.address,
			ErrMemoryRead,
			err)
	}

	err = bp.memory.PokeWord(
		bp.address,
		(word&^0xff)|uint64(bp.originalData))
	if err != nil {
		return false, fmt.Errorf(
			"failed to disable break point at %s. %w: %v",
			bp.address,
			ErrMemoryWrite,
			err)
	}

	bp.isEnabled = false
	bp.originalData = 0
	return true, nil
}

// ReplaceTrapBytes restores the original instruction byte within a memory
// snapshot that starts at startAddr.
func (bp *Breakpoint) ReplaceTrapBytes(
	startAddr VirtualAddress,
	memorySlice []byte,
) {
	if !bp.isEnabled {
		return
	}

	endAddr := startAddr + VirtualAddress(len(memorySlice))
	if startAddr <= bp.address && bp.address < endAddr {
		memorySlice[int(bp.address-startAddr)] = bp.originalData
	}
}
