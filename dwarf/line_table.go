package dwarf

import (
	"fmt"
	"sort"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/elf"
)

type LineRow struct {
	Address     elf.FileAddress
	File        *FileEntry
	Line        int64
	Column      uint64
	IsStatement bool
	EndSequence bool
}

func (row LineRow) String() string {
	return fmt.Sprintf("%s:%d (%s)", row.File.Path(), row.Line, row.Address)
}

type lineKey struct {
	path string
	line int64
}

// LineTable holds every row of a .debug_line section, sorted by address, plus
// a (file path, line) index for reverse lookups.
type LineTable struct {
	Rows []LineRow

	// First program's first file entry (may be nil).
	PrimaryFile *FileEntry

	lines map[lineKey]elf.FileAddress
	paths []string
}

// NewLineTable runs every program in the section.  Decoding fails with
// ErrCorruptDebugInfo once more than maxRows rows are emitted.  maxRows <= 0
// means DefaultMaxLineRows.
func NewLineTable(section *LineSection, maxRows int) (*LineTable, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxLineRows
	}

	table := &LineTable{
		lines: map[lineKey]elf.FileAddress{},
	}

	seenPaths := map[string]struct{}{}
	for _, program := range section.Programs {
		if table.PrimaryFile == nil {
			table.PrimaryFile = program.PrimaryFile()
		}

		entry, err := program.Iterator()
		for ; entry != nil && err == nil; entry, err = entry.Next() {
			if len(table.Rows) >= maxRows {
				return nil, fmt.Errorf(
					"%w. line table exceeds %d rows",
					ErrCorruptDebugInfo,
					maxRows)
			}

			row := LineRow{
				Address:     entry.FileAddress,
				File:        entry.FileEntry,
				Line:        entry.Line,
				Column:      entry.Column,
				IsStatement: entry.IsStatement,
				EndSequence: entry.EndSequence,
			}
			table.Rows = append(table.Rows, row)

			if row.EndSequence {
				continue
			}

			path := row.File.Path()
			if _, ok := seenPaths[path]; !ok {
				seenPaths[path] = struct{}{}
				table.paths = append(table.paths, path)
			}
			table.index(path, row)
		}

		if err != nil {
			return nil, err
		}
	}

	// End of sequence rows sort before rows sharing the same address so that
	// an adjacent sequence's first row wins the address lookup.
	sort.SliceStable(
		table.Rows,
		func(i int, j int) bool {
			if table.Rows[i].Address != table.Rows[j].Address {
				return table.Rows[i].Address < table.Rows[j].Address
			}
			return table.Rows[i].EndSequence && !table.Rows[j].EndSequence
		})

	return table, nil
}

// The smallest address wins, whether or not the row is a statement.
func (table *LineTable) index(path string, row LineRow) {
	key := lineKey{
		path: path,
		line: row.Line,
	}

	existing, ok := table.lines[key]
	if ok && existing <= row.Address {
		return
	}

	table.lines[key] = row.Address
}

func (table *LineTable) IsEmpty() bool {
	return len(table.Rows) == 0
}

// Paths returns the distinct source file paths referenced by the table, in
// first appearance order.
func (table *LineTable) Paths() []string {
	return table.paths
}

// AddressOf returns the lowest address mapped to the line in the exact file
// path.
func (table *LineTable) AddressOf(
	path string,
	line int64,
) (
	elf.FileAddress,
	bool,
) {
	address, ok := table.lines[lineKey{path: path, line: line}]
	return address, ok
}

// RowAt returns the row with the largest address <= address.  Addresses
// before the first row, or covered by an end of sequence row, are unmapped.
func (table *LineTable) RowAt(address elf.FileAddress) (LineRow, bool) {
	idx := sort.Search(
		len(table.Rows),
		func(i int) bool {
			return table.Rows[i].Address > address
		})

	if idx == 0 {
		return LineRow{}, false
	}

	row := table.Rows[idx-1]
	if row.EndSequence {
		return LineRow{}, false
	}

	return row, true
}
