package loadedelf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/dwarf"
	"github.com/pattyshack/edb/elf"
	"github.com/pattyshack/edb/procfs"
)

const (
	symbolTableName        = ".symtab"
	dynamicSymbolTableName = ".dynsym"
)

type Options struct {
	// Upper bound on decoded line table rows.  <= 0 means
	// dwarf.DefaultMaxLineRows.
	MaxLineRows int

	Logger *logrus.Entry
}

// Location is a resolved source position.
type Location struct {
	Address  VirtualAddress
	File     string
	Line     int64
	Function string
}

func (loc Location) String() string {
	result := loc.Address.String()
	if loc.File != "" {
		result += fmt.Sprintf(" %s:%d", loc.File, loc.Line)
	}
	if loc.Function != "" {
		result += " (" + loc.Function + ")"
	}
	return result
}

// File is an elf executable loaded into a traced process, plus the source
// line mapping decoded from its .debug_line section.
type File struct {
	*elf.File
	Path     string
	LoadBias uint64

	Lines *dwarf.LineTable

	symbolTables []*elf.SymbolTable
}

// Load parses the executable at path.  The load bias is computed from pid's
// auxiliary vector; pid 0 means not loaded (zero bias).
func Load(path string, pid int, options Options) (*File, error) {
	elfFile, err := elf.Open(path)
	if err != nil {
		return nil, err
	}

	loadBias := uint64(0)
	if pid != 0 {
		loadBias, err = ComputeLoadBias(elfFile, pid)
		if err != nil {
			return nil, err
		}
	}

	return New(elfFile, path, loadBias, options)
}

// ComputeLoadBias is the difference between the loaded entry point (AT_ENTRY)
// and the elf header's entry point.  This is zero for non-PIE executables.
func ComputeLoadBias(elfFile *elf.File, pid int) (uint64, error) {
	aux, err := procfs.GetAuxiliaryVector(pid)
	if err != nil {
		return 0, fmt.Errorf(
			"%w. failed to compute elf load bias: %v",
			ErrResource,
			err)
	}

	loadedEntryPointAddress, ok := aux[procfs.AT_Entry]
	if !ok {
		return 0, fmt.Errorf(
			"%w. failed to compute elf load bias. "+
				"loaded entry point address not found",
			ErrResource)
	}

	return loadedEntryPointAddress - elfFile.EntryPointAddress, nil
}

func New(
	elfFile *elf.File,
	path string,
	loadBias uint64,
	options Options,
) (
	*File,
	error,
) {
	logger := options.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	lines := &dwarf.LineTable{}
	section, err := dwarf.NewLineSection(elfFile)
	if errors.Is(err, ErrSectionNotFound) {
		logger.WithField("path", path).Warn(
			"no .debug_line section. source line lookup unavailable")
	} else if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	} else {
		lines, err = dwarf.NewLineTable(section, options.MaxLineRows)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	symbolTables := []*elf.SymbolTable{}
	for _, table := range elfFile.SymbolTables {
		if table.Name == symbolTableName || table.Name == dynamicSymbolTableName {
			symbolTables = append(symbolTables, table)
		}
	}

	logger.WithFields(
		logrus.Fields{
			"path":      path,
			"load-bias": fmt.Sprintf("0x%x", loadBias),
			"rows":      len(lines.Rows),
		}).Debug("loaded elf file")

	return &File{
		File:         elfFile,
		Path:         path,
		LoadBias:     loadBias,
		Lines:        lines,
		symbolTables: symbolTables,
	}, nil
}

// ToFileAddress returns false for addresses below the load bias, which no
// file address maps to.
func (file *File) ToFileAddress(
	address VirtualAddress,
) (
	elf.FileAddress,
	bool,
) {
	if uint64(address) < file.LoadBias {
		return 0, false
	}
	return elf.FileAddress(uint64(address) - file.LoadBias), true
}

func (file *File) ToVirtualAddress(address elf.FileAddress) VirtualAddress {
	return VirtualAddress(uint64(address) + file.LoadBias)
}

func (file *File) EntryPointVirtualAddress() VirtualAddress {
	return file.ToVirtualAddress(elf.FileAddress(file.EntryPointAddress))
}

// PrimarySourceFile is the first file entry of the first line program, or ""
// when the executable has no line information.
func (file *File) PrimarySourceFile() string {
	if file.Lines.PrimaryFile == nil {
		return ""
	}
	return file.Lines.PrimaryFile.Path()
}

// ResolveLine returns the lowest address mapped to the line in the primary
// source file.
func (file *File) ResolveLine(line int) (VirtualAddress, error) {
	primary := file.PrimarySourceFile()
	if primary == "" {
		return 0, fmt.Errorf(
			"%w. %s has no line information",
			ErrLineNotFound,
			file.Path)
	}

	addr, ok := file.Lines.AddressOf(primary, int64(line))
	if !ok {
		return 0, fmt.Errorf("%w (%s:%d)", ErrLineNotFound, primary, line)
	}

	return file.ToVirtualAddress(addr), nil
}

// ResolveFileLine is ResolveLine for an arbitrary source file.  pathName
// matches a line table path exactly or as a path suffix.
func (file *File) ResolveFileLine(
	pathName string,
	line int,
) (
	VirtualAddress,
	error,
) {
	found := false
	for _, candidate := range file.Lines.Paths() {
		if candidate != pathName &&
			!strings.HasSuffix(candidate, "/"+pathName) {

			continue
		}

		found = true
		addr, ok := file.Lines.AddressOf(candidate, int64(line))
		if ok {
			return file.ToVirtualAddress(addr), nil
		}
	}

	if !found {
		return 0, fmt.Errorf(
			"%w. no source file matches %s",
			ErrLineNotFound,
			pathName)
	}

	return 0, fmt.Errorf("%w (%s:%d)", ErrLineNotFound, pathName, line)
}

// ResolveAddress maps address to the row with the largest address <= address.
func (file *File) ResolveAddress(address VirtualAddress) (Location, error) {
	fileAddr, ok := file.ToFileAddress(address)
	if !ok {
		return Location{}, fmt.Errorf(
			"%w (%s is below the load bias)",
			ErrAddressNotMapped,
			address)
	}

	row, ok := file.Lines.RowAt(fileAddr)
	if !ok {
		return Location{}, fmt.Errorf("%w (%s)", ErrAddressNotMapped, address)
	}

	return Location{
		Address:  address,
		File:     row.File.Path(),
		Line:     row.Line,
		Function: file.FunctionAt(address),
	}, nil
}

// Describe is ResolveAddress, degrading to the bare address (plus function
// name, if any) when no line row covers the address.
func (file *File) Describe(address VirtualAddress) Location {
	loc, err := file.ResolveAddress(address)
	if err != nil {
		return Location{
			Address:  address,
			Function: file.FunctionAt(address),
		}
	}
	return loc
}

func (file *File) SymbolsByName(name string) []*elf.Symbol {
	results := []*elf.Symbol{}
	for _, table := range file.symbolTables {
		results = append(results, table.SymbolsByName(name)...)
	}

	return results
}

func (file *File) SymbolSpans(address VirtualAddress) *elf.Symbol {
	fileAddr, ok := file.ToFileAddress(address)
	if !ok {
		return nil
	}

	for _, table := range file.symbolTables {
		symbol := table.SymbolSpans(fileAddr)
		if symbol != nil {
			return symbol
		}
	}

	return nil
}

// FunctionAt returns the (demangled) name of the function symbol spanning
// address, or "" if none.
func (file *File) FunctionAt(address VirtualAddress) string {
	symbol := file.SymbolSpans(address)
	if symbol == nil || symbol.Type() != elf.SymbolTypeFunction {
		return ""
	}
	return symbol.PrettyName()
}
