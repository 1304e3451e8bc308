package stoppoint

import (
	"fmt"
	"sort"

	. "github.com/pattyshack/edb/debugger/common"
)

const (
	DefaultCapacity = 64
)

// Table tracks the breakpoints of a single traced process, at most one per
// address.
type Table struct {
	memory   Memory
	pid      int
	capacity int

	breakpoints map[VirtualAddress]*Breakpoint
}

func NewTable(memory Memory, pid int, capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Table{
		memory:      memory,
		pid:         pid,
		capacity:    capacity,
		breakpoints: map[VirtualAddress]*Breakpoint{},
	}
}

func (table *Table) Capacity() int {
	return table.capacity
}

func (table *Table) Len() int {
	return len(table.breakpoints)
}

// Add creates and enables a breakpoint.  Nothing is tracked if enabling
// fails.
func (table *Table) Add(
	location string,
	address VirtualAddress,
) (
	*Breakpoint,
	error,
) {
	if len(table.breakpoints) >= table.capacity {
		return nil, fmt.Errorf(
			"%w. cannot add break point at %s (capacity %d)",
			ErrTableFull,
			address,
			table.capacity)
	}

	_, ok := table.breakpoints[address]
	if ok {
		return nil, fmt.Errorf("%w at %s", ErrDuplicateBreakpoint, address)
	}

	bp := NewBreakpoint(table.memory, table.pid, location, address)
	err := bp.Enable()
	if err != nil {
		return nil, err
	}

	table.breakpoints[address] = bp
	return bp, nil
}

// Remove disables then forgets the breakpoint.  The breakpoint stays tracked
// if it cannot be disabled.
func (table *Table) Remove(address VirtualAddress) error {
	bp, ok := table.breakpoints[address]
	if !ok {
		return fmt.Errorf("%w at %s", ErrNotFound, address)
	}

	_, err := bp.Disable()
	if err != nil {
		return err
	}

	delete(table.breakpoints, address)
	return nil
}

func (table *Table) Get(address VirtualAddress) (*Breakpoint, bool) {
	bp, ok := table.breakpoints[address]
	return bp, ok
}

// GetEnabledAt returns the breakpoint at address only if it is enabled.
func (table *Table) GetEnabledAt(address VirtualAddress) (*Breakpoint, bool) {
	bp, ok := table.breakpoints[address]
	if !ok || !bp.IsEnabled() {
		return nil, false
	}
	return bp, true
}

// List returns the breakpoints ordered by address.
func (table *Table) List() []*Breakpoint {
	addresses := make(VirtualAddresses, 0, len(table.breakpoints))
	for addr := range table.breakpoints {
		addresses = append(addresses, addr)
	}
	sort.Sort(addresses)

	result := make([]*Breakpoint, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, table.breakpoints[addr])
	}
	return result
}

// Clear disables (best effort) and forgets every breakpoint.  The number of
// breakpoints discarded and the first disable error are returned.
func (table *Table) Clear() (int, error) {
	var firstErr error
	count := 0
	for _, bp := range table.List() {
		_, err := bp.Disable()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		count++
	}

	table.breakpoints = map[VirtualAddress]*Breakpoint{}
	return count, firstErr
}

// Forget drops every breakpoint without touching memory.  Used once the
// process is gone.
func (table *Table) Forget() int {
	count := len(table.breakpoints)
	table.breakpoints = map[VirtualAddress]*Breakpoint{}
	return count
}

func (table *Table) ReplaceTrapBytes(
	startAddr VirtualAddress,
	memorySlice []byte,
) {
	for _, bp := range table.breakpoints {
		bp.ReplaceTrapBytes(startAddr, memorySlice)
	}
}
