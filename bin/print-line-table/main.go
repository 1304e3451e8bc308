package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pattyshack/edb/dwarf"
	"github.com/pattyshack/edb/elf"
)

func printLineTable(path string, maxRows int, showRows bool) error {
	elfFile, err := elf.Open(path)
	if err != nil {
		return err
	}

	section, err := dwarf.NewLineSection(elfFile)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d programs\n", dwarf.ElfDebugLineSection, len(section.Programs))
	for _, program := range section.Programs {
		fmt.Printf(
			"  Program (%d): Version = %d MinInstructionLength = %d "+
				"LineBase = %d LineRange = %d OpCodeBase = %d\n",
			program.SectionOffset,
			program.Version,
			program.MinInstructionLength,
			program.LineBase,
			program.LineRange,
			program.OpCodeBase)

		for idx, dir := range program.IncludedDirectories {
			fmt.Printf("    Directory %d: %s\n", idx, dir)
		}

		for idx, entry := range program.FileEntries {
			fmt.Printf("    File %d: %s\n", idx+1, entry.Path())
		}
	}

	table, err := dwarf.NewLineTable(section, maxRows)
	if err != nil {
		return err
	}

	fmt.Printf("Rows: %d\n", len(table.Rows))
	if !showRows {
		return nil
	}

	for _, row := range table.Rows {
		if row.EndSequence {
			fmt.Printf("  %s end sequence\n", row.Address)
			continue
		}

		stmt := ""
		if row.IsStatement {
			stmt = " stmt"
		}

		fmt.Printf(
			"  %s %s:%d:%d%s\n",
			row.Address,
			row.File.Path(),
			row.Line,
			row.Column,
			stmt)
	}

	return nil
}

func main() {
	maxRows := 0
	showRows := true

	cmd := &cobra.Command{
		Use:   "print-line-table <file>",
		Short: "Decode and print an elf file's .debug_line section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLineTable(args[0], maxRows, showRows)
		},
		SilenceUsage: true,
	}

	cmd.Flags().IntVar(
		&maxRows,
		"max-rows",
		0,
		"maximum number of decoded rows (0 means the default bound)")
	cmd.Flags().BoolVar(&showRows, "rows", true, "print decoded rows")

	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
