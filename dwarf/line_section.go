package dwarf

import (
	"encoding/binary"
	"fmt"
	"path"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/elf"
)

const (
	ElfDebugLineSection = ".debug_line"

	// Upper bound on the number of rows decoded from a single .debug_line
	// section.
	DefaultMaxLineRows = 1 << 22

	MinLineProgramVersion = 2
	MaxLineProgramVersion = 4
)

const (
	DW_LNS_copy               = 0x01
	DW_LNS_advance_pc         = 0x02
	DW_LNS_advance_line       = 0x03
	DW_LNS_set_file           = 0x04
	DW_LNS_set_column         = 0x05
	DW_LNS_negate_stmt        = 0x06
	DW_LNS_set_basic_block    = 0x07
	DW_LNS_const_add_pc       = 0x08
	DW_LNS_fixed_advance_pc   = 0x09
	DW_LNS_set_prologue_end   = 0x0a
	DW_LNS_set_epilogue_begin = 0x0b
	DW_LNS_set_isa            = 0x0c

	DW_LNE_end_sequence      = 0x01
	DW_LNE_set_address       = 0x02
	DW_LNE_define_file       = 0x03
	DW_LNE_set_discriminator = 0x04
)

type SectionOffset int

type LineSection struct {
	Programs []*LineProgram
}

// NewLineSection decodes every line program in the elf file's .debug_line
// section.  Returns ErrSectionNotFound when the section is absent.
func NewLineSection(file *elf.File) (*LineSection, error) {
	section, err := file.LocateSection(ElfDebugLineSection)
	if err != nil {
		return nil, err
	}

	return ParseLineSection(file.ByteOrder(), section.Content)
}

func ParseLineSection(
	byteOrder binary.ByteOrder,
	content []byte,
) (
	*LineSection,
	error,
) {
	programs := []*LineProgram{}

	decode := NewCursor(byteOrder, content)
	for !decode.HasReachedEnd() {
		program, err := parseLineProgram(decode)
		if err != nil {
			return nil, err
		}

		programs = append(programs, program)
	}

	return &LineSection{
		Programs: programs,
	}, nil
}

type FileEntry struct {
	*LineProgram

	Name             string
	DirIndex         uint64 // 0-based (0 is the compilation directory)
	ModificationTime uint64
	Length           uint64
}

func (entry FileEntry) String() string {
	return entry.Path()
}

func (entry FileEntry) Path() string {
	return path.Join(entry.IncludedDirectories[entry.DirIndex], entry.Name)
}

// LineProgram is a single compile unit's line number program header plus its
// undecoded opcode stream.
type LineProgram struct {
	byteOrder binary.ByteOrder

	SectionOffset

	Version                     uint16
	MinInstructionLength        uint8
	MaxOperationsPerInstruction uint8
	DefaultIsStatement          bool
	LineBase                    int8
	LineRange                   uint8
	OpCodeBase                  uint8

	// Number of uleb128 operands for standard opcodes [1, OpCodeBase).
	StandardOpCodeLengths []uint8

	// Index 0 is reserved for the (unknown) compilation directory.
	IncludedDirectories []string
	FileEntries         []*FileEntry

	Content []byte
}

func corrupt(program SectionOffset, format string, args ...interface{}) error {
	return fmt.Errorf(
		"%w. line program (%d): %s",
		ErrCorruptDebugInfo,
		program,
		fmt.Sprintf(format, args...))
}

func parseLineProgram(decode *Cursor) (*LineProgram, error) {
	start := SectionOffset(decode.Position)

	length, err := decode.U32()
	if err != nil {
		return nil, corrupt(start, "failed to decode unit length: %v", err)
	}

	if length >= 0xfffffff0 {
		return nil, corrupt(start, "64-bit dwarf format not supported")
	}

	if int(length) > decode.Remaining() {
		return nil, corrupt(
			start,
			"unit length (%d) exceeds section (%d)",
			length,
			decode.Remaining())
	}

	// The unit cursor confines decoding to this program.  The outer cursor is
	// positioned at the next unit.
	unit, err := decode.Sub(int(length))
	if err != nil {
		return nil, corrupt(start, "%v", err)
	}

	program := &LineProgram{
		byteOrder:     decode.ByteOrder,
		SectionOffset: start,
	}

	program.Version, err = unit.U16()
	if err != nil {
		return nil, corrupt(start, "failed to decode version: %v", err)
	}

	if program.Version < MinLineProgramVersion ||
		program.Version > MaxLineProgramVersion {

		return nil, corrupt(start, "dwarf version %d not supported", program.Version)
	}

	headerLength, err := unit.U32()
	if err != nil {
		return nil, corrupt(start, "failed to decode header length: %v", err)
	}

	if int(headerLength) > unit.Remaining() {
		return nil, corrupt(
			start,
			"header length (%d) exceeds unit (%d)",
			headerLength,
			unit.Remaining())
	}

	header, err := unit.Sub(int(headerLength))
	if err != nil {
		return nil, corrupt(start, "%v", err)
	}

	err = program.parseHeader(header)
	if err != nil {
		return nil, err
	}

	program.Content = unit.remaining()
	return program, nil
}

func (program *LineProgram) parseHeader(header *Cursor) error {
	start := program.SectionOffset

	var err error
	program.MinInstructionLength, err = header.U8()
	if err != nil {
		return corrupt(start, "failed to decode minimum instruction length: %v", err)
	}

	program.MaxOperationsPerInstruction = 1
	if program.Version >= 4 {
		program.MaxOperationsPerInstruction, err = header.U8()
		if err != nil {
			return corrupt(
				start,
				"failed to decode maximum operations per instruction: %v",
				err)
		}
	}

	defaultIsStatement, err := header.U8()
	if err != nil {
		return corrupt(start, "failed to decode default is statement: %v", err)
	}
	program.DefaultIsStatement = defaultIsStatement != 0

	program.LineBase, err = header.S8()
	if err != nil {
		return corrupt(start, "failed to decode line base: %v", err)
	}

	program.LineRange, err = header.U8()
	if err != nil {
		return corrupt(start, "failed to decode line range: %v", err)
	}
	if program.LineRange == 0 {
		return corrupt(start, "invalid line range (0)")
	}

	program.OpCodeBase, err = header.U8()
	if err != nil {
		return corrupt(start, "failed to decode op code base: %v", err)
	}
	if program.OpCodeBase == 0 {
		return corrupt(start, "invalid op code base (0)")
	}

	lengths, err := header.Bytes(int(program.OpCodeBase) - 1)
	if err != nil {
		return corrupt(start, "failed to decode standard op code lengths: %v", err)
	}
	program.StandardOpCodeLengths = append([]uint8{}, lengths...)

	program.IncludedDirectories = []string{""}
	for {
		dir, err := header.String()
		if err != nil {
			return corrupt(start, "failed to decode included directory: %v", err)
		}

		if dir == "" {
			break
		}

		program.IncludedDirectories = append(program.IncludedDirectories, dir)
	}

	for {
		shouldContinue, err := program.parseAndAddFileEntry(header, true)
		if err != nil {
			return err
		}

		if !shouldContinue {
			break
		}
	}

	// NOTE: any trailing header bytes (vendor extensions) are skipped.
	return nil
}

func (program *LineProgram) parseAndAddFileEntry(
	decode *Cursor,
	expectsTerminalMarker bool,
) (
	bool, // true if valid entry was parsed
	error,
) {
	start := program.SectionOffset

	name, err := decode.String()
	if err != nil {
		return false, corrupt(start, "failed to decode file entry name: %v", err)
	}

	if name == "" {
		if expectsTerminalMarker {
			return false, nil
		}

		return false, corrupt(start, "empty file entry name")
	}

	dirIndex, err := decode.ULEB128(64)
	if err != nil {
		return false, corrupt(
			start,
			"failed to decode file entry directory index: %v",
			err)
	}

	if dirIndex >= uint64(len(program.IncludedDirectories)) {
		return false, corrupt(
			start,
			"file entry directory index out of bound (%d >= %d)",
			dirIndex,
			len(program.IncludedDirectories))
	}

	modTime, err := decode.ULEB128(64)
	if err != nil {
		return false, corrupt(
			start,
			"failed to decode file entry modification time: %v",
			err)
	}

	length, err := decode.ULEB128(64)
	if err != nil {
		return false, corrupt(start, "failed to decode file entry length: %v", err)
	}

	program.FileEntries = append(
		program.FileEntries,
		&FileEntry{
			LineProgram:      program,
			Name:             name,
			DirIndex:         dirIndex,
			ModificationTime: modTime,
			Length:           length,
		})
	return true, nil
}

// PrimaryFile returns the program's first file entry, or nil if the file
// table is empty.
func (program *LineProgram) PrimaryFile() *FileEntry {
	if len(program.FileEntries) == 0 {
		return nil
	}
	return program.FileEntries[0]
}

func (program *LineProgram) Iterator() (*LineEntry, error) {
	return newLineIterator(program, NewCursor(program.byteOrder, program.Content))
}

type LineEntry struct {
	elf.FileAddress
	FileIndex       uint64 // 1-based instead of 0-based
	Line            int64
	Column          uint64
	IsStatement     bool
	BasicBlockStart bool
	EndSequence     bool
	PrologueEnd     bool
	EpilogueBegin   bool
	ISA             uint64
	Discriminator   uint64

	*FileEntry

	reinitialize     bool
	shouldResetFlags bool

	program    *LineProgram
	operations *Cursor
}

func (entry *LineEntry) Program() *LineProgram {
	return entry.program
}

func (entry *LineEntry) String() string {
	return fmt.Sprintf("%s:%d:%d", entry.Path(), entry.Line, entry.Column)
}

func newLineIterator(program *LineProgram, cursor *Cursor) (*LineEntry, error) {
	entry := &LineEntry{
		program:      program,
		operations:   cursor,
		reinitialize: true,
	}
	return entry.advance()
}

func (entry *LineEntry) clone() *LineEntry {
	cloned := *entry
	cloned.operations = entry.operations.Clone()
	return &cloned
}

func (entry *LineEntry) initialize() {
	entry.FileAddress = 0
	entry.FileIndex = 1
	entry.Line = 1
	entry.Column = 0
	entry.IsStatement = entry.program.DefaultIsStatement
	entry.BasicBlockStart = false
	entry.EndSequence = false
	entry.PrologueEnd = false
	entry.EpilogueBegin = false
	entry.ISA = 0
	entry.Discriminator = 0

	entry.reinitialize = false
	entry.shouldResetFlags = false
}

func (entry *LineEntry) resetFlags() {
	entry.BasicBlockStart = false
	entry.PrologueEnd = false
	entry.EpilogueBegin = false
	entry.Discriminator = 0

	entry.reinitialize = false
	entry.shouldResetFlags = false
}

// Next returns the next emitted row.  (nil, nil) indicates the end of the
// program.
func (entry *LineEntry) Next() (*LineEntry, error) {
	nextEntry := entry.clone()
	return nextEntry.advance()
}

// Every executed op consumes at least one byte, so advance always terminates.
func (entry *LineEntry) advance() (*LineEntry, error) {
	if entry.reinitialize {
		entry.initialize()
	} else if entry.shouldResetFlags {
		entry.resetFlags()
	}

	for !entry.operations.HasReachedEnd() {
		shouldEmit, err := entry.execute()
		if err != nil {
			return nil, corrupt(entry.program.SectionOffset, "%v", err)
		}

		if shouldEmit {
			idx := entry.FileIndex - 1
			if entry.FileIndex == 0 ||
				idx >= uint64(len(entry.program.FileEntries)) {

				return nil, corrupt(
					entry.program.SectionOffset,
					"line entry file index out of bound (%d)",
					entry.FileIndex)
			}

			entry.FileEntry = entry.program.FileEntries[idx]
			return entry, nil
		}
	}

	return nil, nil
}

func (entry *LineEntry) advanceAddress(operationAdvance uint64) {
	entry.FileAddress += elf.FileAddress(
		operationAdvance * uint64(entry.program.MinInstructionLength))
}

func (entry *LineEntry) execute() (bool, error) {
	opCode, err := entry.operations.U8()
	if err != nil {
		return false, fmt.Errorf("failed to decode op code: %w", err)
	}

	if opCode >= entry.program.OpCodeBase {
		entry.executeSpecialOp(opCode - entry.program.OpCodeBase)
		return true, nil
	}

	switch opCode {
	case 0:
		return entry.executeExtendedOp()

	case DW_LNS_copy:
		entry.shouldResetFlags = true
		return true, nil

	case DW_LNS_advance_pc:
		operationAdvance, err := entry.operations.ULEB128(64)
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNS_advance_pc operand: %w",
				err)
		}

		entry.advanceAddress(operationAdvance)

	case DW_LNS_advance_line:
		lineDelta, err := entry.operations.SLEB128(64)
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNS_advance_line operand: %w",
				err)
		}

		entry.Line += lineDelta

	case DW_LNS_set_file:
		index, err := entry.operations.ULEB128(64)
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNS_set_file operand: %w",
				err)
		}

		entry.FileIndex = index

	case DW_LNS_set_column:
		column, err := entry.operations.ULEB128(64)
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNS_set_column operand: %w",
				err)
		}

		entry.Column = column

	case DW_LNS_negate_stmt:
		entry.IsStatement = !entry.IsStatement

	case DW_LNS_set_basic_block:
		entry.BasicBlockStart = true

	case DW_LNS_const_add_pc:
		entry.advanceAddress(
			uint64((255 - entry.program.OpCodeBase) / entry.program.LineRange))

	case DW_LNS_fixed_advance_pc:
		addressDelta, err := entry.operations.U16()
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNS_fixed_advance_pc operand: %w",
				err)
		}

		// NOTE: fixed advance is not scaled by minimum instruction length.
		entry.FileAddress += elf.FileAddress(addressDelta)

	case DW_LNS_set_prologue_end:
		entry.PrologueEnd = true

	case DW_LNS_set_epilogue_begin:
		entry.EpilogueBegin = true

	case DW_LNS_set_isa:
		isa, err := entry.operations.ULEB128(64)
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNS_set_isa operand: %w",
				err)
		}

		entry.ISA = isa

	default:
		// Unknown standard op code.  Skip its uleb128 operands.
		numOperands := entry.program.StandardOpCodeLengths[opCode-1]
		for i := uint8(0); i < numOperands; i++ {
			_, err := entry.operations.ULEB128(64)
			if err != nil {
				return false, fmt.Errorf(
					"failed to skip op code (%d) operand: %w",
					opCode,
					err)
			}
		}
	}

	return false, nil
}

func (entry *LineEntry) executeExtendedOp() (bool, error) {
	length, err := entry.operations.ULEB128(64)
	if err != nil {
		return false, fmt.Errorf("failed to decode extended op length: %w", err)
	}

	if length == 0 {
		return false, nil
	}

	if length > uint64(entry.operations.Remaining()) {
		return false, fmt.Errorf(
			"extended op length (%d) exceeds program (%d)",
			length,
			entry.operations.Remaining())
	}

	operands, err := entry.operations.Sub(int(length))
	if err != nil {
		return false, err
	}

	opCode, err := operands.U8()
	if err != nil {
		return false, fmt.Errorf("failed to decode extended op code: %w", err)
	}

	switch opCode {
	case DW_LNE_end_sequence:
		entry.EndSequence = true
		entry.reinitialize = true
		return true, nil

	case DW_LNE_set_address:
		address, err := operands.Address(operands.Remaining())
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNE_set_address operand: %w",
				err)
		}

		entry.FileAddress = elf.FileAddress(address)

	case DW_LNE_define_file:
		_, err := entry.program.parseAndAddFileEntry(operands, false)
		if err != nil {
			return false, fmt.Errorf("DW_LNE_define_file operation failed: %w", err)
		}

	case DW_LNE_set_discriminator:
		discriminator, err := operands.ULEB128(64)
		if err != nil {
			return false, fmt.Errorf(
				"failed to decode DW_LNE_set_discriminator: %w",
				err)
		}

		entry.Discriminator = discriminator

	default:
		// Unknown (or vendor) extended op code.  Its operands were already
		// consumed as part of the length-prefixed payload.
	}

	return false, nil
}

func (entry *LineEntry) executeSpecialOp(index uint8) {
	entry.advanceAddress(uint64(index / entry.program.LineRange))

	lineDelta := int64(entry.program.LineBase) +
		int64(index%entry.program.LineRange)
	entry.Line += lineDelta

	entry.shouldResetFlags = true
}
