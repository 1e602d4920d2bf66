package document

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators split at paragraphs, then lines, then words, then
// single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter breaks text into pieces of at most Size characters that
// overlap by up to Overlap characters. Lengths are counted in runes.
//
// Text is split on the first separator that occurs in it; pieces still
// longer than Size are split again with the remaining separators. Small
// pieces are merged greedily back up to Size. Separators stay attached to
// the start of the piece that follows them, and merged chunks are trimmed
// of surrounding whitespace.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// Span is one chunk and its rune offset within the source text. Start is
// -1 when the chunk could not be located (only possible for chunks whose
// whitespace was collapsed across a separator boundary).
type Span struct {
	Text  string
	Start int
}

// NewSplitter returns a Splitter with DefaultSeparators.
func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split chunks text and locates each chunk in it.
func (s *Splitter) Split(text string) []Span {
	chunks := s.SplitText(text)
	spans := make([]Span, 0, len(chunks))

	index, prevLen := 0, 0
	for _, c := range chunks {
		offset := max(0, index+prevLen-s.Overlap)
		byteOff := runeToByteOffset(text, offset)
		found := strings.Index(text[byteOff:], c)
		if found < 0 {
			index = -1
		} else {
			index = utf8.RuneCountInString(text[:byteOff+found])
		}
		prevLen = utf8.RuneCountInString(c)
		spans = append(spans, Span{Text: c, Start: index})
		if index < 0 {
			index = 0
		}
	}
	return spans
}

// SplitText returns the chunk texts only.
func (s *Splitter) SplitText(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge joins consecutive pieces into chunks no longer than Size, carrying
// up to Overlap characters of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var docs, current []string
	total := 0

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.Overlap || (total+n > s.Size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepingSeparator splits text on sep, prefixing every piece after
// the first with the separator. An empty sep splits into runes. Empty
// pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	var out []string
	if sep == "" {
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func runeToByteOffset(s string, runes int) int {
	if runes <= 0 {
		return 0
	}
	i := 0
	for pos := range s {
		if i == runes {
			return pos
		}
		i++
	}
	return len(s)
}
