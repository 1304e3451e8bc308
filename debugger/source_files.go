package debugger

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	. "github.com/pattyshack/edb/debugger/common"
)

const (
	DefaultSourceCacheSize = 16
)

// Snippet is a window of source lines around a focus line.
type Snippet struct {
	Start int // 1-based, inclusive
	Focus int
	End   int // exclusive
	Lines []string
}

// String renders the snippet with right aligned line numbers and the focus
// line marked with '>'.
func (snippet Snippet) String() string {
	width := len(strconv.Itoa(snippet.End))

	builder := strings.Builder{}
	for idx, line := range snippet.Lines {
		if idx > 0 {
			builder.WriteString("\n")
		}

		lineNumber := snippet.Start + idx
		marker := ' '
		if lineNumber == snippet.Focus {
			marker = '>'
		}

		fmt.Fprintf(&builder, "%c %*d %s", marker, width, lineNumber, line)
	}

	return builder.String()
}

// SourceFiles is an lru cache of source file lines, keyed by cleaned path.
type SourceFiles struct {
	files *lru.Cache
}

func NewSourceFiles(cacheSize int) (*SourceFiles, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSourceCacheSize
	}

	files, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w. %v", ErrInvalidArgument, err)
	}

	return &SourceFiles{
		files: files,
	}, nil
}

func (files *SourceFiles) load(pathName string) ([]string, error) {
	cached, ok := files.files.Get(pathName)
	if ok {
		return cached.([]string), nil
	}

	content, err := os.ReadFile(pathName)
	if err != nil {
		return nil, fmt.Errorf(
			"%w. failed to read %s: %v",
			ErrResource,
			pathName,
			err)
	}

	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	files.files.Add(pathName, lines)
	return lines, nil
}

// GetSnippet returns up to delta lines on either side of the focus line.
func (files *SourceFiles) GetSnippet(
	pathName string,
	focus int,
	delta int,
) (
	Snippet,
	error,
) {
	if delta < 0 {
		return Snippet{}, fmt.Errorf(
			"%w. negative line delta (%d)",
			ErrInvalidArgument,
			delta)
	}

	lines, err := files.load(path.Clean(pathName))
	if err != nil {
		return Snippet{}, err
	}

	if focus < 1 || focus > len(lines) {
		return Snippet{}, fmt.Errorf(
			"%w. out of bound focus line (%d) for %s (%d lines)",
			ErrInvalidArgument,
			focus,
			pathName,
			len(lines))
	}

	start := max(focus-delta, 1)
	end := min(focus+delta+1, len(lines)+1)

	return Snippet{
		Start: start,
		Focus: focus,
		End:   end,
		Lines: lines[start-1 : end-1],
	}, nil
}
