// Package procfs reads the /proc entries edb needs about a traced process.
// See proc(5).
package procfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func path(pid int, entry string) string {
	return fmt.Sprintf("/proc/%d/%s", pid, entry)
}

func GetExecutableSymlinkPath(pid int) string {
	return path(pid, "exe")
}

type ProcessState string

const (
	Running        = ProcessState("running")
	Sleeping       = ProcessState("sleeping")
	WaitingForDisk = ProcessState("waiting for disk")
	Zombie         = ProcessState("zombie")
	Stopped        = ProcessState("stopped")
	TracingStop    = ProcessState("tracing stop")
	Dead           = ProcessState("dead")
	Idle           = ProcessState("idle")
	UnknownState   = ProcessState("unknown")
)

var stateCodes = map[string]ProcessState{
	"R": Running,
	"S": Sleeping,
	"D": WaitingForDisk,
	"Z": Zombie,
	"T": Stopped,
	"t": TracingStop,
	"X": Dead,
	"I": Idle,
}

// Alive is false once the process can no longer be traced.
func (state ProcessState) Alive() bool {
	return state != Zombie && state != Dead
}

// The leading fields of /proc/<pid>/stat.
type ProcessStatus struct {
	Pid   int
	Comm  string
	State ProcessState
	Ppid  int
}

func GetProcessStatus(pid int) (ProcessStatus, error) {
	content, err := os.ReadFile(path(pid, "stat"))
	if err != nil {
		return ProcessStatus{}, fmt.Errorf(
			"failed to read process %d status: %w",
			pid,
			err)
	}

	status, err := parseProcessStatus(string(content))
	if err != nil {
		return ProcessStatus{}, fmt.Errorf(
			"failed to parse process %d status: %w",
			pid,
			err)
	}

	return status, nil
}

func parseProcessStatus(content string) (ProcessStatus, error) {
	// comm is parenthesized and may itself contain spaces and parentheses.
	commStart := strings.IndexByte(content, '(')
	commEnd := strings.LastIndexByte(content, ')')
	if commStart < 0 || commEnd < commStart {
		return ProcessStatus{}, fmt.Errorf("malformed stat content")
	}

	fields := strings.Fields(content[commEnd+1:])
	if len(fields) < 2 {
		return ProcessStatus{}, fmt.Errorf("malformed stat content")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(content[:commStart]))
	if err != nil {
		return ProcessStatus{}, fmt.Errorf("failed to parse pid: %w", err)
	}

	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return ProcessStatus{}, fmt.Errorf("failed to parse ppid: %w", err)
	}

	state, ok := stateCodes[fields[0]]
	if !ok {
		state = UnknownState
	}

	return ProcessStatus{
		Pid:   pid,
		Comm:  content[commStart+1 : commEnd],
		State: state,
		Ppid:  ppid,
	}, nil
}

// Auxiliary vector entry types.  See getauxval(3).
type AuxiliaryVectorEntryType uint64

const (
	AT_EndOfVector = AuxiliaryVectorEntryType(0) // AT_NULL
	AT_Ignore      = AuxiliaryVectorEntryType(1) // AT_IGNORE
	AT_PageSize    = AuxiliaryVectorEntryType(6) // AT_PAGESZ

	// AT_BASE.  The dynamic loader's load address.
	AT_BaseAddress = AuxiliaryVectorEntryType(7)

	// AT_ENTRY.  The program's (load biased) entry point.
	AT_Entry = AuxiliaryVectorEntryType(9)
)

// GetAuxiliaryVector requires ptrace access to pid.
func GetAuxiliaryVector(pid int) (map[AuxiliaryVectorEntryType]uint64, error) {
	content, err := os.ReadFile(path(pid, "auxv"))
	if err != nil {
		return nil, fmt.Errorf(
			"failed to read process %d auxiliary vector: %w",
			pid,
			err)
	}

	result, err := parseAuxiliaryVector(content)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to decode process %d auxiliary vector: %w",
			pid,
			err)
	}

	return result, nil
}

// The vector is a sequence of (type, value) uint64 pairs terminated by
// AT_NULL.
func parseAuxiliaryVector(
	content []byte,
) (
	map[AuxiliaryVectorEntryType]uint64,
	error,
) {
	result := map[AuxiliaryVectorEntryType]uint64{}
	for len(content) >= 8 {
		entryType := AuxiliaryVectorEntryType(
			binary.LittleEndian.Uint64(content))
		if entryType == AT_EndOfVector {
			return result, nil
		}

		if len(content) < 16 {
			return nil, fmt.Errorf(
				"truncated auxiliary vector entry (%d)",
				entryType)
		}

		if entryType != AT_Ignore {
			result[entryType] = binary.LittleEndian.Uint64(content[8:])
		}
		content = content[16:]
	}

	return nil, fmt.Errorf("auxiliary vector not terminated")
}
