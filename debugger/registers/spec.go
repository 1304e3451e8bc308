package registers

import (
	"fmt"
	"strings"

	. "github.com/pattyshack/edb/debugger/common"
)

// The register set is exactly x86-64 linux's user_regs_struct.  Registers are
// listed in struct order, which doubles as the register's index.
type Spec struct {
	Index int

	Name    string
	DwarfId int // -1 for none

	// syscall.PtraceRegs field name
	Field string
}

func (reg Spec) String() string {
	return reg.Name
}

var (
	OrderedSpecs []Spec
	NameSpecs    = map[string]Spec{}
	DwarfIdSpecs = map[int]Spec{}

	ProgramCounter Spec
	StackPointer   Spec
	FramePointer   Spec
)

// ByName performs an exact, case sensitive match.
func ByName(name string) (Spec, error) {
	reg, ok := NameSpecs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w (%s)", ErrUnknownRegister, name)
	}
	return reg, nil
}

func ByDwarfId(id int) (Spec, error) {
	reg, ok := DwarfIdSpecs[id]
	if !ok {
		return Spec{}, fmt.Errorf("%w (dwarf id %d)", ErrUnknownRegister, id)
	}
	return reg, nil
}

func All() []Spec {
	return OrderedSpecs
}

func init() {
	addRegister := func(name string, dwarfId int) {
		field := strings.ToUpper(name[0:1]) + name[1:]
		entry := Spec{
			Index:   len(OrderedSpecs),
			Name:    name,
			DwarfId: dwarfId,
			Field:   field,
		}

		OrderedSpecs = append(OrderedSpecs, entry)

		_, ok := NameSpecs[name]
		if ok {
			panic("duplicate register info: " + name)
		}
		NameSpecs[name] = entry

		if dwarfId != -1 {
			_, ok := DwarfIdSpecs[dwarfId]
			if ok {
				panic("duplicate register info: " + name)
			}
			DwarfIdSpecs[dwarfId] = entry
		}
	}

	addRegister("r15", 15)
	addRegister("r14", 14)
	addRegister("r13", 13)
	addRegister("r12", 12)
	addRegister("rbp", 6)
	addRegister("rbx", 3)
	addRegister("r11", 11)
	addRegister("r10", 10)
	addRegister("r9", 9)
	addRegister("r8", 8)
	addRegister("rax", 0)
	addRegister("rcx", 2)
	addRegister("rdx", 1)
	addRegister("rsi", 4)
	addRegister("rdi", 5)
	addRegister("orig_rax", -1)
	addRegister("rip", -1)
	addRegister("cs", 51)
	addRegister("eflags", 49)
	addRegister("rsp", 7)
	addRegister("ss", 52)
	addRegister("fs_base", 58)
	addRegister("gs_base", 59)
	addRegister("ds", 53)
	addRegister("es", 50)
	addRegister("fs", 54)
	addRegister("gs", 55)

	ProgramCounter, _ = ByName("rip")
	StackPointer, _ = ByName("rsp")
	FramePointer, _ = ByName("rbp")
}
