package splitter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidOverlap is returned when the chunk overlap is not smaller than the chunk size.
var ErrInvalidOverlap = errors.New("chunk overlap must be smaller than chunk size")

// DefaultSeparators is the split priority used by the recursive splitter.
// The empty string must stay last: it splits into single characters.
var DefaultSeparators = []string{"\n\n", "\n", ".", ",", ">", "<", " ", ""}

// TextSplitter splits text on a priority list of separators and greedily
// merges the pieces back into chunks close to ChunkSize.
type TextSplitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewRecursiveCharacterTextSplitter creates a new recursive character text splitter.
// Sizes are measured in characters (runes).
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) (*TextSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d, size %d", ErrInvalidOverlap, chunkOverlap, chunkSize)
	}
	return &TextSplitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}, nil
}

// ChunkSize reports the target chunk length.
func (ts *TextSplitter) ChunkSize() int { return ts.chunkSize }

// ChunkOverlap reports the maximum overlap retained between neighbouring chunks.
func (ts *TextSplitter) ChunkOverlap() int { return ts.chunkOverlap }

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) []string {
	separator := ts.pickSeparator(text)

	var pieces []string
	if separator == "" {
		pieces = splitChars(text)
	} else {
		pieces = strings.Split(text, separator)
	}

	var chunks []string
	var good []string
	for _, piece := range pieces {
		if runeLen(piece) < ts.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, ts.mergeSplits(good, separator)...)
			good = nil
		}
		// A single character cannot be split further.
		if separator == "" {
			if doc, ok := joinDocs([]string{piece}, separator); ok {
				chunks = append(chunks, doc)
			}
			continue
		}
		chunks = append(chunks, ts.SplitText(piece)...)
	}
	if len(good) > 0 {
		chunks = append(chunks, ts.mergeSplits(good, separator)...)
	}
	return chunks
}

func (ts *TextSplitter) pickSeparator(text string) string {
	for _, s := range ts.separators {
		if s == "" || strings.Contains(text, s) {
			return s
		}
	}
	return ""
}

// mergeSplits joins pieces into windows that stay under chunkSize where the
// pieces allow it. After a window is emitted, leading pieces are dropped
// until at most chunkOverlap characters remain and the next piece fits.
// Separator lengths are not counted towards the window total.
func (ts *TextSplitter) mergeSplits(pieces []string, separator string) []string {
	var docs []string
	var window []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n >= ts.chunkSize && len(window) > 0 {
			if doc, ok := joinDocs(window, separator); ok {
				docs = append(docs, doc)
			}
			// Inclusive bound: a remainder of exactly chunkOverlap is kept.
			for total > ts.chunkOverlap || (total+n > ts.chunkSize && total > 0) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}

	if doc, ok := joinDocs(window, separator); ok {
		docs = append(docs, doc)
	}
	return docs
}

func joinDocs(docs []string, separator string) (string, bool) {
	text := strings.TrimSpace(strings.Join(docs, separator))
	if text == "" {
		return "", false
	}
	return text, true
}

func splitChars(text string) []string {
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
