package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ianlancetaylor/demangle"

	. "github.com/pattyshack/edb/debugger/common"
)

// An address as recorded in the elf file, before load bias is applied.
type FileAddress uint64

func (addr FileAddress) String() string {
	return fmt.Sprintf("0x%016x", uint64(addr))
}

type Section struct {
	SectionHeaderEntry

	Name string

	// nil for SHT_NULL and SHT_NOBITS sections.
	Content []byte
}

// StringTable is the content of a SHT_STRTAB section.
type StringTable []byte

// Get returns the nul-terminated string starting at index.
func (table StringTable) Get(index uint32) (string, error) {
	if uint64(index) >= uint64(len(table)) {
		return "", fmt.Errorf(
			"%w. string table index out of bound (%d >= %d)",
			ErrInvalidFormat,
			index,
			len(table))
	}

	chunk := table[index:]
	end := bytes.IndexByte(chunk, 0)
	if end == -1 {
		return "", fmt.Errorf(
			"%w. string at index %d is not nul-terminated",
			ErrInvalidFormat,
			index)
	}

	return string(chunk[:end]), nil
}

type Symbol struct {
	SymbolEntry

	Table *SymbolTable

	Name          string
	DemangledName string // c++ / rust names only
}

func (symbol *Symbol) PrettyName() string {
	if symbol.DemangledName != "" {
		return symbol.DemangledName
	}
	return symbol.Name
}

func (symbol *Symbol) Type() SymbolType {
	return SymbolInfoToType(symbol.Info)
}

func (symbol *Symbol) Binding() SymbolBinding {
	return SymbolInfoToBinding(symbol.Info)
}

// AddressRange returns [start, end).  Unnamed, undefined and thread local
// symbols have no address range.
func (symbol *Symbol) AddressRange() (FileAddress, FileAddress, bool) {
	if symbol.Value == 0 ||
		symbol.Name == "" ||
		symbol.Type() == SymbolTypeTLSObject {

		return 0, 0, false
	}

	return FileAddress(symbol.Value),
		FileAddress(symbol.Value + symbol.Size),
		true
}

// SymbolTable is a decoded SHT_SYMTAB / SHT_DYNSYM section.
type SymbolTable struct {
	*Section

	Symbols []*Symbol

	byName map[string][]*Symbol

	// Symbols with an address range, sorted by start address.
	spans []*Symbol
}

// newSymbolTable decodes the section's entries.  Entries with malformed name
// indices are left unnamed rather than failing the whole table.
func newSymbolTable(
	section *Section,
	byteOrder binary.ByteOrder,
	names StringTable,
) (
	*SymbolTable,
	error,
) {
	if len(section.Content)%Elf64SymbolEntrySize != 0 {
		return nil, fmt.Errorf(
			"%w. invalid symbol table size (%d) for %s",
			ErrInvalidFormat,
			len(section.Content),
			section.Name)
	}

	entries := make([]SymbolEntry, len(section.Content)/Elf64SymbolEntrySize)
	_, err := binary.Decode(section.Content, byteOrder, entries)
	if err != nil {
		return nil, fmt.Errorf(
			"%w. failed to decode %s: %v",
			ErrInvalidFormat,
			section.Name,
			err)
	}

	table := &SymbolTable{
		Section: section,
		Symbols: make([]*Symbol, 0, len(entries)),
		byName:  map[string][]*Symbol{},
	}

	for _, entry := range entries {
		symbol := &Symbol{
			SymbolEntry: entry,
			Table:       table,
		}
		table.Symbols = append(table.Symbols, symbol)

		if entry.NameIndex == 0 || names == nil {
			continue
		}

		symbol.Name, err = names.Get(entry.NameIndex)
		if err != nil {
			continue
		}

		demangled, err := demangle.ToString(symbol.Name)
		if err == nil {
			symbol.DemangledName = demangled
		}

		table.byName[symbol.Name] = append(table.byName[symbol.Name], symbol)
		if symbol.DemangledName != "" {
			table.byName[symbol.DemangledName] = append(
				table.byName[symbol.DemangledName],
				symbol)
		}

		_, _, ok := symbol.AddressRange()
		if ok {
			table.spans = append(table.spans, symbol)
		}
	}

	sort.SliceStable(
		table.spans,
		func(i int, j int) bool {
			return table.spans[i].Value < table.spans[j].Value
		})

	return table, nil
}

// SymbolsByName matches either the raw or the demangled name.
func (table *SymbolTable) SymbolsByName(name string) []*Symbol {
	return append([]*Symbol{}, table.byName[name]...)
}

// firstAfter returns the index of the first span starting after address.
func (table *SymbolTable) firstAfter(address FileAddress) int {
	return sort.Search(
		len(table.spans),
		func(i int) bool {
			return FileAddress(table.spans[i].Value) > address
		})
}

// SymbolAt returns a symbol starting exactly at address.
func (table *SymbolTable) SymbolAt(address FileAddress) *Symbol {
	idx := table.firstAfter(address)
	if idx > 0 && FileAddress(table.spans[idx-1].Value) == address {
		return table.spans[idx-1]
	}
	return nil
}

// SymbolSpans returns the symbol covering address with the closest start
// address.
func (table *SymbolTable) SymbolSpans(address FileAddress) *Symbol {
	for idx := table.firstAfter(address) - 1; idx >= 0; idx-- {
		_, end, _ := table.spans[idx].AddressRange()
		if address < end {
			return table.spans[idx]
		}
	}
	return nil
}
