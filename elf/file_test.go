package elf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	. "github.com/pattyshack/edb/debugger/common"
)

type testSection struct {
	name    string
	stype   SectionType
	link    uint32
	content []byte
}

// buildElf lays out the header, section contents, the section name table and
// finally the section header table.  Section 0 is always the null section.
func buildElf(t *testing.T, sections ...testSection) []byte {
	names := []byte{0}
	nameIndices := []uint32{}
	for _, section := range sections {
		nameIndices = append(nameIndices, uint32(len(names)))
		names = append(names, []byte(section.name)...)
		names = append(names, 0)
	}
	shstrtabNameIndex := uint32(len(names))
	names = append(names, []byte(SectionStringTableName)...)
	names = append(names, 0)

	body := &bytes.Buffer{}
	headers := []SectionHeaderEntry{{}}
	offset := uint64(Elf64HeaderSize)
	for idx, section := range sections {
		headers = append(
			headers,
			SectionHeaderEntry{
				NameIndex:   nameIndices[idx],
				SectionType: section.stype,
				Offset:      offset,
				Size:        uint64(len(section.content)),
				Link:        section.link,
			})
		body.Write(section.content)
		offset += uint64(len(section.content))
	}

	headers = append(
		headers,
		SectionHeaderEntry{
			NameIndex:   shstrtabNameIndex,
			SectionType: SectionTypeStringTable,
			Offset:      offset,
			Size:        uint64(len(names)),
		})
	body.Write(names)
	offset += uint64(len(names))

	header := ElfHeader{
		Identifier: Identifier{
			Class:              Class64,
			DataEncoding:       DataEncodingTwosComplementLittleEndian,
			IdentifierVersion:  IdentifierVersion,
			OperatingSystemABI: OperatingSystemABIUnixSystemV,
		},
		FileType:                FileTypeExecutable,
		MachineArchitecture:     MachineArchitectureX86_64,
		FormatVersion:           FormatVersion,
		EntryPointAddress:       0x401000,
		SectionHeaderOffset:     offset,
		ElfHeaderSize:           Elf64HeaderSize,
		ProgramHeaderEntrySize:  Elf64ProgramHeaderEntrySize,
		SectionHeaderEntrySize:  Elf64SectionHeaderEntrySize,
		NumSectionHeaderEntries: uint16(len(headers)),
		SectionStringTableIndex: SectionIndex(len(headers) - 1),
	}
	copy(header.Magic[:], IdentifierMagic)

	out := &bytes.Buffer{}
	err := binary.Write(out, binary.LittleEndian, header)
	expect.Nil(t, err)
	out.Write(body.Bytes())
	err = binary.Write(out, binary.LittleEndian, headers)
	expect.Nil(t, err)

	return out.Bytes()
}

func symbolTable(t *testing.T, entries ...SymbolEntry) []byte {
	out := &bytes.Buffer{}
	err := binary.Write(out, binary.LittleEndian, entries)
	expect.Nil(t, err)
	return out.Bytes()
}

type countingReader struct {
	io.Reader
	count int
}

func (reader *countingReader) Read(buffer []byte) (int, error) {
	n, err := reader.Reader.Read(buffer)
	reader.count += n
	return n, err
}

type ElfSuite struct{}

func TestElf(t *testing.T) {
	suite.RunTests(t, &ElfSuite{})
}

func (ElfSuite) TestBadMagicOnlyReadsMagic(t *testing.T) {
	reader := &countingReader{
		Reader: bytes.NewReader([]byte("#!/bin/sh\necho hello world\n")),
	}

	_, err := ParseReader(reader)
	expect.Error(t, err, "invalid elf magic number")
	expect.True(t, errors.Is(err, ErrInvalidFormat))
	expect.True(t, errors.Is(err, ErrFormat))
	expect.Equal(t, len(IdentifierMagic), reader.count)
}

func (ElfSuite) TestShortFile(t *testing.T) {
	_, err := ParseReader(bytes.NewReader([]byte{0x7f, 'E'}))
	expect.True(t, errors.Is(err, ErrInvalidFormat))

	_, err = ParseBytes(nil)
	expect.True(t, errors.Is(err, ErrInvalidFormat))
}

func (ElfSuite) TestTruncatedHeader(t *testing.T) {
	content := buildElf(t)
	_, err := ParseBytes(content[:32])
	expect.True(t, errors.Is(err, ErrInvalidFormat))
}

func (ElfSuite) TestParseSections(t *testing.T) {
	strtab := []byte("\x00main\x00_ZN3foo3barEv\x00")
	content := buildElf(
		t,
		testSection{
			name:    ".debug_line",
			stype:   SectionTypeProgramDefinedInfo,
			content: []byte{1, 2, 3, 4},
		},
		testSection{
			name:    StringTableName,
			stype:   SectionTypeStringTable,
			content: strtab,
		},
		testSection{
			name:  ".symtab",
			stype: SectionTypeSymbolTable,
			link:  2,
			content: symbolTable(
				t,
				SymbolEntry{},
				SymbolEntry{
					NameIndex: 1,
					Info:      byte(SymbolTypeFunction),
					Value:     0x401000,
					Size:      0x20,
				},
				SymbolEntry{
					NameIndex: 6,
					Info:      byte(SymbolTypeFunction),
					Value:     0x401020,
					Size:      0x10,
				}),
		})

	file, err := ParseReader(bytes.NewReader(content))
	expect.Nil(t, err)
	expect.Equal(t, uint64(0x401000), file.EntryPointAddress)
	expect.Equal(t, binary.ByteOrder(binary.LittleEndian), file.ByteOrder())
	expect.Equal(t, 5, len(file.Sections))

	section, err := file.LocateSection(".debug_line")
	expect.Nil(t, err)
	expect.Equal(t, []byte{1, 2, 3, 4}, section.Content)

	_, err = file.LocateSection(".debug_info")
	expect.True(t, errors.Is(err, ErrSectionNotFound))
	expect.True(t, errors.Is(err, ErrLookup))

	tables := file.SymbolTables
	expect.Equal(t, 1, len(tables))
	expect.Equal(t, ".symtab", tables[0].Name)
	expect.Equal(t, 3, len(tables[0].Symbols))

	symbols := tables[0].SymbolsByName("main")
	expect.Equal(t, 1, len(symbols))
	expect.Equal(t, "main", symbols[0].PrettyName())

	symbol := tables[0].SymbolSpans(0x401028)
	expect.NotNil(t, symbol)
	expect.Equal(t, "_ZN3foo3barEv", symbol.Name)
	expect.Equal(t, "foo::bar()", symbol.PrettyName())

	symbol = tables[0].SymbolAt(0x401000)
	expect.NotNil(t, symbol)
	expect.Equal(t, "main", symbol.Name)

	expect.Nil(t, tables[0].SymbolSpans(0x402000))
	expect.Nil(t, tables[0].SymbolAt(0x401008))

	symbols = tables[0].SymbolsByName("foo::bar()")
	expect.Equal(t, 1, len(symbols))
	expect.Equal(t, "_ZN3foo3barEv", symbols[0].Name)
}

func (ElfSuite) TestOutOfBoundSectionName(t *testing.T) {
	content := buildElf(
		t,
		testSection{
			name:    ".text",
			stype:   SectionTypeProgramDefinedInfo,
			content: []byte{0xcc},
		})

	// Rewrite section 1's sh_name to point past the end of .shstrtab.
	header := ElfHeader{}
	_, err := binary.Decode(content, binary.LittleEndian, &header)
	expect.Nil(t, err)

	entryOffset := header.SectionHeaderOffset + Elf64SectionHeaderEntrySize
	binary.LittleEndian.PutUint32(content[entryOffset:], 0xffff)

	_, err = ParseBytes(content)
	expect.Error(t, err, "string table index out of bound")
	expect.True(t, errors.Is(err, ErrInvalidFormat))
}

func (ElfSuite) TestUnterminatedSectionName(t *testing.T) {
	content := buildElf(
		t,
		testSection{
			name:    ".text",
			stype:   SectionTypeProgramDefinedInfo,
			content: []byte{0xcc},
		})

	// .shstrtab is the last chunk before the section header table.  Drop its
	// trailing nul.
	header := ElfHeader{}
	_, err := binary.Decode(content, binary.LittleEndian, &header)
	expect.Nil(t, err)
	content[header.SectionHeaderOffset-1] = 'x'

	_, err = ParseBytes(content)
	expect.Error(t, err, "not nul-terminated")
	expect.True(t, errors.Is(err, ErrInvalidFormat))
}

func (ElfSuite) TestOutOfBoundSectionContent(t *testing.T) {
	content := buildElf(
		t,
		testSection{
			name:    ".text",
			stype:   SectionTypeProgramDefinedInfo,
			content: []byte{0xcc},
		})

	header := ElfHeader{}
	_, err := binary.Decode(content, binary.LittleEndian, &header)
	expect.Nil(t, err)

	// sh_size is at offset 32 within the section header entry.
	entryOffset := header.SectionHeaderOffset + Elf64SectionHeaderEntrySize
	binary.LittleEndian.PutUint64(content[entryOffset+32:], 1<<40)

	_, err = ParseBytes(content)
	expect.Error(t, err, "out of bound section")
}

func (ElfSuite) TestUnsupportedMachine(t *testing.T) {
	content := buildElf(t)
	// e_machine is at offset 18.
	binary.LittleEndian.PutUint16(content[18:], 183) // EM_AARCH64

	_, err := ParseBytes(content)
	expect.Error(t, err, "unsupported machine architecture")
}

func (ElfSuite) TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.out")
	err := os.WriteFile(path, buildElf(t), 0644)
	expect.Nil(t, err)

	file, err := Open(path)
	expect.Nil(t, err)
	expect.Equal(t, 2, len(file.Sections))
	expect.Equal(t, "", file.Sections[0].Name)
	expect.Equal(t, SectionStringTableName, file.Sections[1].Name)

	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	expect.True(t, errors.Is(err, ErrResource))
}

func (ElfSuite) TestEnumNames(t *testing.T) {
	expect.Equal(t, "Class64", Class64.String())
	expect.Equal(t, "SharedObject", FileTypeSharedObject.String())
	expect.Equal(t, "SYMTAB", SectionTypeSymbolTable.String())
	expect.Equal(t, "SectionTypeUnknown(42)", SectionType(42).String())
	expect.Equal(t, "FUNC", SymbolInfoToType(0x12).String())
	expect.Equal(t, "GLOBAL", SymbolInfoToBinding(0x12).String())
	expect.Equal(t, "HIDDEN", SymbolVisibility(0x6).String())
}

func (ElfSuite) TestSectionFlags(t *testing.T) {
	expect.Equal(t, "-", SectionFlags(0).String())
	expect.Equal(
		t,
		"AX",
		(SectionOccupiesMemory | SectionContainsInstructions).String())
	expect.Equal(
		t,
		"WAT",
		(SectionContainsWritableData |
			SectionOccupiesMemory |
			SectionContainsTLSData).String())
}
