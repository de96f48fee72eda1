// ABOUTME: Byte-offset to line/character mapping built once per text blob
// ABOUTME: Forward scans are amortized O(1) via a cursor; backward queries binary search

package protocol

import "sort"

// maxLinearStep bounds how far the cursor walks forward before falling
// back to binary search.
const maxLinearStep = 8

// LineIndex maps byte offsets in a text to positions. The line table is
// immutable once built; the lookup cursor is not, so a LineIndex must not
// be shared across goroutines.
type LineIndex struct {
	starts []int
	size   int
	cursor int
}

// NewLineIndex scans text once and records where every line starts.
func NewLineIndex(text string) *LineIndex {
	starts := make([]int, 1, 16)
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(text)}
}

// LineCount returns the number of lines, counting a trailing empty line.
func (x *LineIndex) LineCount() int {
	return len(x.starts)
}

// LineStart returns the byte offset of the given line.
func (x *LineIndex) LineStart(line int) int {
	if line < 0 {
		return 0
	}
	if line >= len(x.starts) {
		return x.size
	}
	return x.starts[line]
}

// Position converts a byte offset to a position. Offsets past the end clamp
// to the text length; negative offsets clamp to zero.
func (x *LineIndex) Position(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > x.size {
		offset = x.size
	}

	line := x.cursor
	if offset >= x.starts[line] {
		steps := 0
		for line+1 < len(x.starts) && x.starts[line+1] <= offset {
			line++
			steps++
			if steps == maxLinearStep {
				line = x.search(offset)
				break
			}
		}
	} else {
		line = x.search(offset)
	}
	x.cursor = line

	return Position{Line: uint32(line), Character: uint32(offset - x.starts[line])}
}

// Range converts a [start, end) byte span to a range.
func (x *LineIndex) Range(start, end int) Range {
	return Range{Start: x.Position(start), End: x.Position(end)}
}

func (x *LineIndex) search(offset int) int {
	return sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > offset }) - 1
}
