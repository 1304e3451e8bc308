package elf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	. "github.com/pattyshack/edb/debugger/common"
)

// edb only debugs little endian x86-64 executables.
var supportedMachines = map[MachineArchitecture]DataEncoding{
	MachineArchitectureX86_64: DataEncodingTwosComplementLittleEndian,
}

// File is a parsed elf64 file.  Section contents are owned by the file.
type File struct {
	ElfHeader

	Sections     []*Section
	SymbolTables []*SymbolTable

	byteOrder binary.ByteOrder
}

func (file *File) ByteOrder() binary.ByteOrder {
	return file.byteOrder
}

// LocateSection returns the first section with the given name.
func (file *File) LocateSection(name string) (*Section, error) {
	for _, section := range file.Sections {
		if section.Name == name {
			return section, nil
		}
	}

	return nil, fmt.Errorf("%w (%s)", ErrSectionNotFound, name)
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w. failed to open %s: %v", ErrResource, path, err)
	}
	defer f.Close()

	file, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	return file, nil
}

// ParseReader rejects non-elf input after reading only the magic number.
func ParseReader(reader io.Reader) (*File, error) {
	content := make([]byte, len(IdentifierMagic))
	_, err := io.ReadFull(reader, content)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf(
			"%w. file too short for magic number",
			ErrInvalidFormat)
	} else if err != nil {
		return nil, fmt.Errorf("%w. failed to read elf file: %v", ErrResource, err)
	}

	err = checkMagic(content)
	if err != nil {
		return nil, err
	}

	buffer := bytes.NewBuffer(content)
	_, err = buffer.ReadFrom(reader)
	if err != nil {
		return nil, fmt.Errorf("%w. failed to read elf file: %v", ErrResource, err)
	}

	return ParseBytes(buffer.Bytes())
}

func checkMagic(content []byte) error {
	if !bytes.HasPrefix(content, IdentifierMagic) {
		return fmt.Errorf("%w. invalid elf magic number", ErrInvalidFormat)
	}
	return nil
}

func ParseBytes(content []byte) (*File, error) {
	err := checkMagic(content)
	if err != nil {
		return nil, err
	}

	file := &File{}

	// e_ident is byte oriented.  It determines the byte order of the rest of
	// the file.
	file.byteOrder, err = parseIdentifier(content)
	if err != nil {
		return nil, err
	}

	err = file.parseHeader(content)
	if err != nil {
		return nil, err
	}

	err = file.parseSections(content)
	if err != nil {
		return nil, err
	}

	return file, nil
}

func parseIdentifier(content []byte) (binary.ByteOrder, error) {
	id := Identifier{}
	_, err := binary.Decode(content, binary.LittleEndian, &id)
	if err != nil {
		return nil, fmt.Errorf(
			"%w. failed to decode identifier: %v",
			ErrInvalidFormat,
			err)
	}

	if id.Class != Class64 {
		return nil, fmt.Errorf(
			"%w. unsupported elf class: %s",
			ErrInvalidFormat,
			id.Class)
	}

	if id.IdentifierVersion != IdentifierVersion {
		return nil, fmt.Errorf(
			"%w. unsupported identifier version: %d",
			ErrInvalidFormat,
			id.IdentifierVersion)
	}

	if id.OperatingSystemABI != OperatingSystemABIUnixSystemV &&
		id.OperatingSystemABI != OperatingSystemABILinux {

		return nil, fmt.Errorf(
			"%w. unsupported os/abi: %s",
			ErrInvalidFormat,
			id.OperatingSystemABI)
	}

	switch id.DataEncoding {
	case DataEncodingTwosComplementLittleEndian:
		return binary.LittleEndian, nil
	case DataEncodingTwosComplementBigEndian:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf(
			"%w. unsupported data encoding: %s",
			ErrInvalidFormat,
			id.DataEncoding)
	}
}

func (file *File) parseHeader(content []byte) error {
	_, err := binary.Decode(content, file.byteOrder, &file.ElfHeader)
	if err != nil {
		return fmt.Errorf("%w. failed to decode header: %v", ErrInvalidFormat, err)
	}

	encoding, ok := supportedMachines[file.MachineArchitecture]
	if !ok {
		return fmt.Errorf(
			"%w. unsupported machine architecture: %s",
			ErrInvalidFormat,
			file.MachineArchitecture)
	}

	if encoding != file.DataEncoding {
		return fmt.Errorf(
			"%w. invalid data encoding (%s) for machine architecture (%s)",
			ErrInvalidFormat,
			file.DataEncoding,
			file.MachineArchitecture)
	}

	switch {
	case file.FormatVersion != FormatVersion:
		return fmt.Errorf(
			"%w. unsupported format version: %d",
			ErrInvalidFormat,
			file.FormatVersion)
	case file.ElfHeaderSize != Elf64HeaderSize:
		return fmt.Errorf(
			"%w. unexpected elf64 header size: %d",
			ErrInvalidFormat,
			file.ElfHeaderSize)
	case file.NumSectionHeaderEntries > 0 &&
		file.SectionHeaderEntrySize < Elf64SectionHeaderEntrySize:
		return fmt.Errorf(
			"%w. unexpected elf64 section header entry size: %d",
			ErrInvalidFormat,
			file.SectionHeaderEntrySize)
	case file.SectionHeaderOffset > 0 && file.NumSectionHeaderEntries == 0:
		// e_shnum overflowed into section 0's sh_size.  Symbol entries can't
		// index that many sections either.
		return fmt.Errorf(
			"%w. extended section header not supported",
			ErrInvalidFormat)
	}

	return nil
}

// slice returns content[offset:offset+size], or an error when the range
// overflows or exceeds the file.
func slice(content []byte, offset uint64, size uint64) ([]byte, bool) {
	end := offset + size
	if end < offset || end > uint64(len(content)) {
		return nil, false
	}
	return content[offset:end], true
}

func (file *File) parseSections(content []byte) error {
	entrySize := uint64(file.SectionHeaderEntrySize)
	for idx := uint64(0); idx < uint64(file.NumSectionHeaderEntries); idx++ {
		raw, ok := slice(content, file.SectionHeaderOffset+idx*entrySize, entrySize)
		if !ok {
			return fmt.Errorf(
				"%w. out of bound section header entry (%d)",
				ErrInvalidFormat,
				idx)
		}

		section := &Section{}
		_, err := binary.Decode(raw, file.byteOrder, &section.SectionHeaderEntry)
		if err != nil {
			return fmt.Errorf(
				"%w. failed to decode section header entry (%d): %v",
				ErrInvalidFormat,
				idx,
				err)
		}

		if section.SectionType != SectionTypeNull &&
			section.SectionType != SectionTypeNoSpace {

			section.Content, ok = slice(content, section.Offset, section.Size)
			if !ok {
				return fmt.Errorf(
					"%w. out of bound section (%d): %d + %d > %d",
					ErrInvalidFormat,
					idx,
					section.Offset,
					section.Size,
					len(content))
			}
		}

		file.Sections = append(file.Sections, section)
	}

	err := file.bindSectionNames()
	if err != nil {
		return err
	}

	return file.parseSymbolTables()
}

func (file *File) stringTable(index uint64, usage string) (StringTable, error) {
	if index >= uint64(len(file.Sections)) {
		return nil, fmt.Errorf(
			"%w. %s index out of bound (%d >= %d)",
			ErrInvalidFormat,
			usage,
			index,
			len(file.Sections))
	}

	section := file.Sections[index]
	if section.SectionType != SectionTypeStringTable {
		return nil, fmt.Errorf(
			"%w. %s index (%d) is not a string table",
			ErrInvalidFormat,
			usage,
			index)
	}

	return StringTable(section.Content), nil
}

func (file *File) bindSectionNames() error {
	if file.SectionStringTableIndex == SectionIndexUndefined {
		return nil
	}

	names, err := file.stringTable(
		uint64(file.SectionStringTableIndex),
		"section name table")
	if err != nil {
		return err
	}

	for idx, section := range file.Sections {
		section.Name, err = names.Get(section.NameIndex)
		if err != nil {
			return fmt.Errorf("%w. section (%d): %v", ErrInvalidFormat, idx, err)
		}
	}

	return nil
}

// A symbol table's sh_link holds its string table's section index.
func (file *File) parseSymbolTables() error {
	for _, section := range file.Sections {
		if section.SectionType != SectionTypeSymbolTable &&
			section.SectionType != SectionTypeDynamicSymbolTable {

			continue
		}

		var names StringTable
		if section.Link != 0 {
			var err error
			names, err = file.stringTable(uint64(section.Link), "string table")
			if err != nil {
				return err
			}
		}

		table, err := newSymbolTable(section, file.byteOrder, names)
		if err != nil {
			return err
		}

		file.SymbolTables = append(file.SymbolTables, table)
	}

	return nil
}
