// Package chunker splits oversized text into bounded, overlapping chunks,
// preferring paragraph, then line, then sentence, then word boundaries
// before falling back to a hard cut.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	DefaultSize    = 4000
	DefaultOverlap = 200
)

// DefaultSeparators are tried in order, coarsest first.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Chunk is a slice of the input. Start and End are rune offsets; the first
// Overlap runes of Text repeat the tail of the previous chunk.
type Chunk struct {
	Index   int
	Start   int
	End     int
	Overlap int
	Text    string
}

// Body returns the chunk text without the overlap shared with its
// predecessor.
func (c Chunk) Body() string {
	if c.Overlap == 0 {
		return c.Text
	}
	return string([]rune(c.Text)[c.Overlap:])
}

// Len is the chunk length in runes.
func (c Chunk) Len() int { return c.End - c.Start }

// Splitter holds the chunk geometry. Sizes are counted in runes.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// New returns a Splitter with the default separators.
func New(size, overlap int) (*Splitter, error) {
	s := &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Split is a shorthand for New(size, overlap) followed by Split.
func Split(text string, size, overlap int) ([]Chunk, error) {
	s, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

func (s *Splitter) validate() error {
	switch {
	case s.Size <= 0:
		return fmt.Errorf("%w: size %d must be positive", ErrInvalidConfig, s.Size)
	case s.Overlap < 0:
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidConfig, s.Overlap)
	case s.Overlap >= s.Size:
		return fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidConfig, s.Overlap, s.Size)
	}
	return nil
}

// Split cuts text into chunks of at most Size runes. Stripping each chunk's
// Overlap prefix and concatenating the rest yields text again.
func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= s.Size {
		return []Chunk{{Index: 0, Start: 0, End: n, Text: text}}
	}

	// Each piece leaves room for the overlap prepended to it.
	budget := s.Size - s.Overlap
	ends := attachBlank(runes, s.cut(runes, 0, n, 0, budget), budget)

	chunks := make([]Chunk, 0, len(ends))
	pieceStart, prevStart := 0, 0
	for i, end := range ends {
		start := pieceStart
		if i > 0 {
			start = s.overlapStart(runes, pieceStart)
			// reaching back to the predecessor's start would repeat it whole
			if start <= prevStart {
				start = pieceStart
			}
		}
		chunks = append(chunks, Chunk{
			Index:   i,
			Start:   start,
			End:     end,
			Overlap: pieceStart - start,
			Text:    string(runes[start:end]),
		})
		pieceStart, prevStart = end, start
	}
	return chunks
}

// overlapStart picks where a chunk whose own content begins at pieceStart
// should start, reaching back up to Overlap runes and nudging forward to a
// word start within the first half of that window.
func (s *Splitter) overlapStart(runes []rune, pieceStart int) int {
	start := pieceStart - s.Overlap
	if start <= 0 {
		return 0
	}
	limit := start + s.Overlap/2
	for j := start; j <= limit && j < pieceStart; j++ {
		if unicode.IsSpace(runes[j-1]) && !unicode.IsSpace(runes[j]) {
			return j
		}
	}
	return start
}

// cut returns the end offsets of consecutive pieces covering [start, end),
// each at most budget runes long.
func (s *Splitter) cut(runes []rune, start, end, level, budget int) []int {
	if end-start <= budget {
		return []int{end}
	}
	if level >= len(s.Separators) {
		var out []int
		for p := start + budget; p < end; p += budget {
			out = append(out, p)
		}
		return append(out, end)
	}

	atoms := splitAfter(runes, start, end, []rune(s.Separators[level]))
	if len(atoms) == 1 {
		return s.cut(runes, start, end, level+1, budget)
	}

	var out []int
	pieceStart, last := start, start
	for _, a := range atoms {
		if a-pieceStart <= budget {
			last = a
			continue
		}
		// Close the pending piece only if it holds text and the next atom
		// fits on its own. Otherwise split [pieceStart, a) one level finer
		// so the pending prefix joins the first sub-piece.
		if a-last <= budget && !blank(runes[pieceStart:last]) {
			out = append(out, last)
			pieceStart, last = last, a
			continue
		}
		out = append(out, s.cut(runes, pieceStart, a, level+1, budget)...)
		pieceStart, last = a, a
	}
	if last > pieceStart {
		out = append(out, last)
	}
	return out
}

// attachBlank removes whitespace-only pieces where the budget allows: a
// blank piece is merged into its predecessor, or failing that takes over the
// predecessor's last word character.
func attachBlank(runes []rune, ends []int, budget int) []int {
	for i := 1; i < len(ends); i++ {
		start, end := ends[i-1], ends[i]
		if !blank(runes[start:end]) {
			continue
		}
		prevStart := 0
		if i > 1 {
			prevStart = ends[i-2]
		}
		if end-prevStart <= budget {
			ends = append(ends[:i-1], ends[i:]...)
			i--
			continue
		}
		b := start - 1
		for b > prevStart && unicode.IsSpace(runes[b]) {
			b--
		}
		if b > prevStart && end-b <= budget && !blank(runes[prevStart:b]) {
			ends[i-1] = b
		}
	}
	return ends
}

func blank(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// splitAfter returns the end offsets of the segments of [start, end) that
// each finish right after an occurrence of sep. The last offset is end.
func splitAfter(runes []rune, start, end int, sep []rune) []int {
	var out []int
	if len(sep) > 0 {
		for i := start; i+len(sep) <= end; {
			if matchAt(runes, i, sep) {
				i += len(sep)
				if i < end {
					out = append(out, i)
				}
				continue
			}
			i++
		}
	}
	return append(out, end)
}

func matchAt(runes []rune, i int, sep []rune) bool {
	for k, r := range sep {
		if runes[i+k] != r {
			return false
		}
	}
	return true
}

// Join reassembles the original text from a complete, ordered chunk list.
func Join(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Body())
	}
	return sb.String()
}
