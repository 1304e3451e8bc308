package dwarf

import (
	"encoding/binary"
	"fmt"
	"io"

	. "github.com/pattyshack/edb/debugger/common"
)

// Cursor is a bounds checked reader over a byte slice.  Every decoding failure
// wraps ErrCorruptDebugInfo, and a failed read never advances the cursor.
type Cursor struct {
	binary.ByteOrder

	Content  []byte
	Position int
}

func NewCursor(byteOrder binary.ByteOrder, content []byte) *Cursor {
	return &Cursor{
		ByteOrder: byteOrder,
		Content:   content,
	}
}

func (cursor *Cursor) Clone() *Cursor {
	cloned := *cursor
	return &cloned
}

func (cursor *Cursor) remaining() []byte {
	return cursor.Content[cursor.Position:]
}

func (cursor *Cursor) Remaining() int {
	return len(cursor.Content) - cursor.Position
}

func (cursor *Cursor) HasReachedEnd() bool {
	return cursor.Remaining() == 0
}

func (cursor *Cursor) Bytes(size int) ([]byte, error) {
	if size < 0 || cursor.Remaining() < size {
		return nil, fmt.Errorf(
			"%w. cannot read %d bytes at %d (%d remaining)",
			ErrCorruptDebugInfo,
			size,
			cursor.Position,
			cursor.Remaining())
	}

	content := cursor.Content[cursor.Position : cursor.Position+size]
	cursor.Position += size
	return content, nil
}

// Sub returns a cursor over the next size bytes and advances past them.
func (cursor *Cursor) Sub(size int) (*Cursor, error) {
	content, err := cursor.Bytes(size)
	if err != nil {
		return nil, err
	}

	return NewCursor(cursor.ByteOrder, content), nil
}

// String reads a nul-terminated string.  The nul is consumed but not
// returned.
func (cursor *Cursor) String() (string, error) {
	content := cursor.remaining()
	for idx, char := range content {
		if char == 0 {
			cursor.Position += idx + 1
			return string(content[:idx]), nil
		}
	}

	return "", fmt.Errorf(
		"%w. string at %d not terminated",
		ErrCorruptDebugInfo,
		cursor.Position)
}

func (cursor *Cursor) U8() (uint8, error) {
	content, err := cursor.Bytes(1)
	if err != nil {
		return 0, err
	}
	return content[0], nil
}

func (cursor *Cursor) S8() (int8, error) {
	value, err := cursor.U8()
	return int8(value), err
}

func (cursor *Cursor) U16() (uint16, error) {
	content, err := cursor.Bytes(2)
	if err != nil {
		return 0, err
	}
	return cursor.Uint16(content), nil
}

func (cursor *Cursor) U32() (uint32, error) {
	content, err := cursor.Bytes(4)
	if err != nil {
		return 0, err
	}
	return cursor.Uint32(content), nil
}

func (cursor *Cursor) U64() (uint64, error) {
	content, err := cursor.Bytes(8)
	if err != nil {
		return 0, err
	}
	return cursor.Uint64(content), nil
}

// Address decodes a 4 or 8 byte target address.
func (cursor *Cursor) Address(size int) (uint64, error) {
	switch size {
	case 4:
		value, err := cursor.U32()
		return uint64(value), err
	case 8:
		return cursor.U64()
	default:
		return 0, fmt.Errorf(
			"%w. unsupported address size (%d)",
			ErrCorruptDebugInfo,
			size)
	}
}

// leb128 decodes at most bitSize bits worth of 7 bit groups.  It returns the
// raw value, the number of bits decoded and the final byte.
func (cursor *Cursor) leb128(bitSize int) (uint64, int, byte, error) {
	if cursor.HasReachedEnd() {
		return 0, 0, 0, fmt.Errorf(
			"%w. cannot decode LEB128 at %d: %v",
			ErrCorruptDebugInfo,
			cursor.Position,
			io.EOF)
	}

	result := uint64(0)
	shift := 0
	for idx, current := range cursor.remaining() {
		if shift >= bitSize {
			break
		}

		result |= uint64(current&0x7f) << shift
		shift += 7

		if current&0x80 == 0 {
			cursor.Position += idx + 1
			return result, shift, current, nil
		}
	}

	return 0, 0, 0, fmt.Errorf(
		"%w. LEB128 at %d not terminated",
		ErrCorruptDebugInfo,
		cursor.Position)
}

func (cursor *Cursor) ULEB128(bitSize int) (uint64, error) {
	result, _, _, err := cursor.leb128(bitSize)
	return result, err
}

func (cursor *Cursor) SLEB128(bitSize int) (int64, error) {
	result, shift, last, err := cursor.leb128(bitSize)
	if err != nil {
		return 0, err
	}

	// Sign extend from the last group's sign bit.
	if shift < 64 && last&0x40 != 0 {
		result |= ^uint64(0) << shift
	}

	return int64(result), nil
}
