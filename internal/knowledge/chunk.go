package knowledge

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into overlapping chunks, preferring paragraph breaks,
// then line breaks, then spaces, and finally single characters.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter creates a Splitter. Non-positive size uses the default; an
// overlap not smaller than size is reduced to a fifth of size.
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return Splitter{Size: size, Overlap: overlap}
}

// Split returns the chunks of text. Whitespace-only text yields none.
func (s Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, defaultSeparators)
}

func (s Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var (
		out  []string
		good []string
	)
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) < s.Size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge packs pieces into chunks of at most Size characters, carrying up to
// Overlap characters of trailing pieces into the next chunk.
func (s Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out    []string
		window []string
		total  int
	)
	joinedLen := func(n int) int {
		if len(window) > 0 {
			return n + sepLen
		}
		return n
	}
	for _, p := range pieces {
		n := runeLen(p)
		if total+joinedLen(n) > s.Size && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
				out = append(out, doc)
			}
			for total > s.Overlap || (total+joinedLen(n) > s.Size && total > 0) {
				first := runeLen(window[0])
				if len(window) > 1 {
					first += sepLen
				}
				total -= first
				window = window[1:]
			}
		}
		total += joinedLen(n)
		window = append(window, p)
	}
	if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
		out = append(out, doc)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
