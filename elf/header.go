// Elf64 on-disk layouts and the subset of elf.h constants needed to locate
// sections and symbols.  See elf(5).
package elf

import (
	"fmt"
)

var (
	IdentifierMagic = []byte{0x7f, 'E', 'L', 'F'} // ELFMAG
)

const (
	IdentifierVersion = 1 // EI_CURRENT
	FormatVersion     = 1 // EV_CURRENT

	Elf64HeaderSize             = 64
	Elf64SectionHeaderEntrySize = 64
	Elf64ProgramHeaderEntrySize = 56
	Elf64SymbolEntrySize        = 24

	SectionStringTableName = ".shstrtab"
	StringTableName        = ".strtab"
)

func enumName[T ~uint8 | ~uint16 | ~uint32](
	names map[T]string,
	kind string,
	value T,
) string {
	name, ok := names[value]
	if ok {
		return name
	}
	return fmt.Sprintf("%sUnknown(%d)", kind, value)
}

// EI_CLASS
type Class byte

const (
	ClassNone = Class(0) // ELFCLASSNONE
	Class32   = Class(1) // ELFCLASS32
	Class64   = Class(2) // ELFCLASS64
)

var classNames = map[Class]string{
	ClassNone: "ClassNone",
	Class32:   "Class32",
	Class64:   "Class64",
}

func (class Class) String() string {
	return enumName(classNames, "Class", class)
}

// EI_DATA
type DataEncoding byte

const (
	DataEncodingNone                       = DataEncoding(0) // ELFDATANONE
	DataEncodingTwosComplementLittleEndian = DataEncoding(1) // ELFDATA2LSB
	DataEncodingTwosComplementBigEndian    = DataEncoding(2) // ELFDATA2MSB
)

var dataEncodingNames = map[DataEncoding]string{
	DataEncodingNone:                       "DataEncodingNone",
	DataEncodingTwosComplementLittleEndian: "LittleEndian",
	DataEncodingTwosComplementBigEndian:    "BigEndian",
}

func (encoding DataEncoding) String() string {
	return enumName(dataEncodingNames, "DataEncoding", encoding)
}

// EI_OSABI.  Only the abis linux binaries are tagged with.
type OperatingSystemABI byte

const (
	OperatingSystemABIUnixSystemV = OperatingSystemABI(0) // ELFOSABI_NONE
	OperatingSystemABILinux       = OperatingSystemABI(3) // ELFOSABI_LINUX
)

var osAbiNames = map[OperatingSystemABI]string{
	OperatingSystemABIUnixSystemV: "UnixSystemV",
	OperatingSystemABILinux:       "Linux",
}

func (abi OperatingSystemABI) String() string {
	return enumName(osAbiNames, "OperatingSystemABI", abi)
}

// e_type
type FileType uint16

const (
	FileTypeNone         = FileType(0) // ET_NONE
	FileTypeRelocatable  = FileType(1) // ET_REL
	FileTypeExecutable   = FileType(2) // ET_EXEC
	FileTypeSharedObject = FileType(3) // ET_DYN
	FileTypeCore         = FileType(4) // ET_CORE
)

var fileTypeNames = map[FileType]string{
	FileTypeNone:         "FileTypeNone",
	FileTypeRelocatable:  "Relocatable",
	FileTypeExecutable:   "Executable",
	FileTypeSharedObject: "SharedObject",
	FileTypeCore:         "Core",
}

func (ft FileType) String() string {
	return enumName(fileTypeNames, "FileType", ft)
}

// e_machine.  edb only debugs x86-64.
type MachineArchitecture uint16

const (
	MachineArchitectureNone   = MachineArchitecture(0)  // EM_NONE
	MachineArchitectureX86_64 = MachineArchitecture(62) // EM_X86_64
)

var machineNames = map[MachineArchitecture]string{
	MachineArchitectureNone:   "MachineNone",
	MachineArchitectureX86_64: "X86_64",
}

func (arch MachineArchitecture) String() string {
	return enumName(machineNames, "Machine", arch)
}

// sh_type
type SectionType uint32

const (
	SectionTypeNull                  = SectionType(0)  // SHT_NULL
	SectionTypeProgramDefinedInfo    = SectionType(1)  // SHT_PROGBITS
	SectionTypeSymbolTable           = SectionType(2)  // SHT_SYMTAB
	SectionTypeStringTable           = SectionType(3)  // SHT_STRTAB
	SectionTypeRelocationWithAddends = SectionType(4)  // SHT_RELA
	SectionTypeSymbolHashTable       = SectionType(5)  // SHT_HASH
	SectionTypeDynamic               = SectionType(6)  // SHT_DYNAMIC
	SectionTypeNote                  = SectionType(7)  // SHT_NOTE
	SectionTypeNoSpace               = SectionType(8)  // SHT_NOBITS
	SectionTypeRelocationNoAddends   = SectionType(9)  // SHT_REL
	SectionTypeDynamicSymbolTable    = SectionType(11) // SHT_DYNSYM
)

var sectionTypeNames = map[SectionType]string{
	SectionTypeNull:                  "NULL",
	SectionTypeProgramDefinedInfo:    "PROGBITS",
	SectionTypeSymbolTable:           "SYMTAB",
	SectionTypeStringTable:           "STRTAB",
	SectionTypeRelocationWithAddends: "RELA",
	SectionTypeSymbolHashTable:       "HASH",
	SectionTypeDynamic:               "DYNAMIC",
	SectionTypeNote:                  "NOTE",
	SectionTypeNoSpace:               "NOBITS",
	SectionTypeRelocationNoAddends:   "REL",
	SectionTypeDynamicSymbolTable:    "DYNSYM",
}

func (stype SectionType) String() string {
	return enumName(sectionTypeNames, "SectionType", stype)
}

// sh_flags
type SectionFlags uint64

const (
	SectionContainsWritableData = SectionFlags(0x1)   // SHF_WRITE
	SectionOccupiesMemory       = SectionFlags(0x2)   // SHF_ALLOC
	SectionContainsInstructions = SectionFlags(0x4)   // SHF_EXECINSTR
	SectionMayBeMerged          = SectionFlags(0x10)  // SHF_MERGE
	SectionContainsStrings      = SectionFlags(0x20)  // SHF_STRINGS
	SectionContainsTLSData      = SectionFlags(0x400) // SHF_TLS
	SectionIsCompressed         = SectionFlags(0x800) // SHF_COMPRESSED
)

// readelf style flag letters, in display order.
var sectionFlagLetters = []struct {
	flag   SectionFlags
	letter byte
}{
	{SectionContainsWritableData, 'W'},
	{SectionOccupiesMemory, 'A'},
	{SectionContainsInstructions, 'X'},
	{SectionMayBeMerged, 'M'},
	{SectionContainsStrings, 'S'},
	{SectionContainsTLSData, 'T'},
	{SectionIsCompressed, 'C'},
}

func (flags SectionFlags) String() string {
	result := []byte{}
	for _, entry := range sectionFlagLetters {
		if flags&entry.flag != 0 {
			result = append(result, entry.letter)
		}
	}

	if len(result) == 0 {
		return "-"
	}
	return string(result)
}

// The bottom 4 bits of st_info
type SymbolType byte

const (
	SymbolTypeNone       = SymbolType(0) // STT_NOTYPE
	SymbolTypeObject     = SymbolType(1) // STT_OBJECT
	SymbolTypeFunction   = SymbolType(2) // STT_FUNC
	SymbolTypeSection    = SymbolType(3) // STT_SECTION
	SymbolTypeSourceFile = SymbolType(4) // STT_FILE
	SymbolTypeCommon     = SymbolType(5) // STT_COMMON
	SymbolTypeTLSObject  = SymbolType(6) // STT_TLS
)

var symbolTypeNames = map[SymbolType]string{
	SymbolTypeNone:       "NOTYPE",
	SymbolTypeObject:     "OBJECT",
	SymbolTypeFunction:   "FUNC",
	SymbolTypeSection:    "SECTION",
	SymbolTypeSourceFile: "FILE",
	SymbolTypeCommon:     "COMMON",
	SymbolTypeTLSObject:  "TLS",
}

func SymbolInfoToType(info byte) SymbolType {
	return SymbolType(info & 0xf)
}

func (st SymbolType) String() string {
	return enumName(symbolTypeNames, "SymbolType", st)
}

// The top 4 bits of st_info
type SymbolBinding byte

const (
	SymbolBindingLocal  = SymbolBinding(0) // STB_LOCAL
	SymbolBindingGlobal = SymbolBinding(1) // STB_GLOBAL
	SymbolBindingWeak   = SymbolBinding(2) // STB_WEAK
)

var symbolBindingNames = map[SymbolBinding]string{
	SymbolBindingLocal:  "LOCAL",
	SymbolBindingGlobal: "GLOBAL",
	SymbolBindingWeak:   "WEAK",
}

func SymbolInfoToBinding(info byte) SymbolBinding {
	return SymbolBinding(info >> 4)
}

func (sb SymbolBinding) String() string {
	return enumName(symbolBindingNames, "SymbolBinding", sb)
}

// st_other (lower 2 bits)
type SymbolVisibility byte

const (
	SymbolVisibilityDefault   = SymbolVisibility(0) // STV_DEFAULT
	SymbolVisibilityInternal  = SymbolVisibility(1) // STV_INTERNAL
	SymbolVisibilityHidden    = SymbolVisibility(2) // STV_HIDDEN
	SymbolVisibilityProtected = SymbolVisibility(3) // STV_PROTECTED
)

var symbolVisibilityNames = map[SymbolVisibility]string{
	SymbolVisibilityDefault:   "DEFAULT",
	SymbolVisibilityInternal:  "INTERNAL",
	SymbolVisibilityHidden:    "HIDDEN",
	SymbolVisibilityProtected: "PROTECTED",
}

func (vis SymbolVisibility) String() string {
	return enumName(symbolVisibilityNames, "SymbolVisibility", vis&0x3)
}

// st_shndx / e_shstrndx
type SectionIndex uint16

const (
	SectionIndexUndefined = SectionIndex(0) // SHN_UNDEF
)

// The structs below mirror the elf64 c structs and are only used for
// decoding.

// e_ident
type Identifier struct {
	Magic              [4]byte
	Class              // EI_CLASS
	DataEncoding       // EI_DATA
	IdentifierVersion  byte
	OperatingSystemABI // EI_OSABI
	ABIVersion         byte
	Padding            [7]byte
}

// Elf64_Ehdr
type ElfHeader struct {
	Identifier
	FileType                // e_type
	MachineArchitecture     // e_machine
	FormatVersion           uint32
	EntryPointAddress       uint64 // e_entry
	ProgramHeaderOffset     uint64
	SectionHeaderOffset     uint64 // e_shoff
	ArchitectureFlags       uint32
	ElfHeaderSize           uint16
	ProgramHeaderEntrySize  uint16
	NumProgramHeaderEntries uint16
	SectionHeaderEntrySize  uint16
	NumSectionHeaderEntries uint16       // e_shnum
	SectionStringTableIndex SectionIndex // e_shstrndx
}

// Elf64_Shdr
type SectionHeaderEntry struct {
	NameIndex        uint32 // sh_name
	SectionType             // sh_type
	SectionFlags            // sh_flags
	Address          uint64 // sh_addr
	Offset           uint64 // sh_offset
	Size             uint64 // sh_size
	Link             uint32 // sh_link
	Info             uint32
	AddressAlignment uint64
	EntrySize        uint64 // sh_entsize
}

// Elf64_Sym
type SymbolEntry struct {
	NameIndex        uint32 // st_name
	Info             byte   // st_info.  (4 bits st_bind, 4 bits st_type)
	SymbolVisibility        // st_other
	SectionIndex            // st_shndx
	Value            uint64 // st_value
	Size             uint64 // st_size
}
