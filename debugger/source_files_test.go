package debugger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	. "github.com/pattyshack/edb/debugger/common"
)

type SourceFilesSuite struct{}

func TestSourceFiles(t *testing.T) {
	suite.RunTests(t, &SourceFilesSuite{})
}

func writeSource(t *testing.T, lines string) string {
	pathName := filepath.Join(t.TempDir(), "source.c")
	err := os.WriteFile(pathName, []byte(lines), 0644)
	expect.Nil(t, err)
	return pathName
}

func (SourceFilesSuite) TestSnippet(t *testing.T) {
	files, err := NewSourceFiles(0)
	expect.Nil(t, err)

	pathName := writeSource(t, "a\nb\nc\nd\ne")

	snippet, err := files.GetSnippet(pathName, 3, 1)
	expect.Nil(t, err)
	expect.Equal(t, 2, snippet.Start)
	expect.Equal(t, 5, snippet.End)
	expect.Equal(t, []string{"b", "c", "d"}, snippet.Lines)
	expect.Equal(t, "  2 b\n> 3 c\n  4 d", snippet.String())

	snippet, err = files.GetSnippet(pathName, 1, 3)
	expect.Nil(t, err)
	expect.Equal(t, 1, snippet.Start)
	expect.Equal(t, []string{"a", "b", "c", "d"}, snippet.Lines)

	snippet, err = files.GetSnippet(pathName, 5, 2)
	expect.Nil(t, err)
	expect.Equal(t, 6, snippet.End)
	expect.Equal(t, []string{"c", "d", "e"}, snippet.Lines)

	_, err = files.GetSnippet(pathName, 6, 0)
	expect.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = files.GetSnippet(pathName, 1, -1)
	expect.True(t, errors.Is(err, ErrInvalidArgument))
}

func (SourceFilesSuite) TestCachedContent(t *testing.T) {
	files, err := NewSourceFiles(1)
	expect.Nil(t, err)

	pathName := writeSource(t, "a\nb")
	_, err = files.GetSnippet(pathName, 1, 0)
	expect.Nil(t, err)

	// Served from the cache after the file is gone.
	err = os.Remove(pathName)
	expect.Nil(t, err)

	snippet, err := files.GetSnippet(pathName, 2, 0)
	expect.Nil(t, err)
	expect.Equal(t, []string{"b"}, snippet.Lines)

	// Evicted once another file is loaded.
	other := writeSource(t, "x")
	_, err = files.GetSnippet(other, 1, 0)
	expect.Nil(t, err)

	_, err = files.GetSnippet(pathName, 1, 0)
	expect.True(t, errors.Is(err, ErrResource))
}

func (SourceFilesSuite) TestTrailingNewline(t *testing.T) {
	files, err := NewSourceFiles(0)
	expect.Nil(t, err)

	pathName := writeSource(t, "int main() {\n  return 0;\n}\n")

	snippet, err := files.GetSnippet(pathName, 2, 5)
	expect.Nil(t, err)
	expect.Equal(t, 4, snippet.End)
	expect.Equal(t, "  1 int main() {\n> 2   return 0;\n  3 }", snippet.String())

	_, err = files.GetSnippet(pathName, 4, 0)
	expect.True(t, errors.Is(err, ErrInvalidArgument))
}
