package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pattyshack/edb/elf"
)

func printElf(path string, showSymbols bool) error {
	file, err := elf.Open(path)
	if err != nil {
		return err
	}

	fmt.Printf("Header: %+v\n", file.ElfHeader)

	fmt.Println("Sections:", len(file.Sections))
	for idx, section := range file.Sections {
		fmt.Printf(
			"  [%d] %s: %s %s address=0x%x offset=%d size=%d link=%d\n",
			idx,
			section.Name,
			section.SectionType,
			section.SectionFlags,
			section.Address,
			section.Offset,
			section.Size,
			section.Link)
	}

	if !showSymbols {
		return nil
	}

	for _, table := range file.SymbolTables {
		fmt.Printf("Symbol table %s: %d entries\n", table.Name, len(table.Symbols))
		for idx, symbol := range table.Symbols {
			fmt.Printf(
				"  %d: %x %d %s %s %s %d %s\n",
				idx,
				symbol.Value,
				symbol.Size,
				symbol.Type(),
				symbol.Binding(),
				symbol.SymbolVisibility,
				symbol.SectionIndex,
				symbol.PrettyName())
		}
	}

	return nil
}

func main() {
	showSymbols := false

	cmd := &cobra.Command{
		Use:   "print-elf <file>",
		Short: "Print an elf file's header, sections and symbols",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printElf(args[0], showSymbols)
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVarP(
		&showSymbols,
		"symbols",
		"s",
		true,
		"print symbol table entries")

	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
