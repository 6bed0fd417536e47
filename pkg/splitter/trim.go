package splitter

const (
	// MinChunkSize is the character floor below which TrimPrompt hard-truncates.
	MinChunkSize = 140

	// CharsPerToken is the heuristic used to turn a token overflow into a
	// character target. It is approximate for code and non-Latin scripts.
	CharsPerToken = 3
)

// Trimmer cuts prompts down to a token budget by taking the largest prefix
// chunk the splitter produces.
type Trimmer struct {
	Counter TokenCounter
}

// NewTrimmer returns a trimmer using counter, or a tiktoken counter if nil.
func NewTrimmer(counter TokenCounter) *Trimmer {
	if counter == nil {
		counter = NewTiktokenCounter(DefaultEncoding)
	}
	return &Trimmer{Counter: counter}
}

var defaultTrimmer = NewTrimmer(nil)

// TrimPrompt trims text with the package default tiktoken counter.
func TrimPrompt(text string, contextSize int) string {
	return defaultTrimmer.Trim(text, contextSize)
}

// Trim returns text unchanged if it fits contextSize tokens. Otherwise it
// returns a prefix that fits, or the first MinChunkSize characters when the
// estimated target falls below that floor.
func (t *Trimmer) Trim(text string, contextSize int) string {
	if text == "" {
		return ""
	}

	tokens := t.Counter.CountTokens(text)
	if tokens <= contextSize {
		return text
	}

	length := runeLen(text)
	overflow := tokens - contextSize
	chunkSize := length - overflow*CharsPerToken
	if chunkSize < MinChunkSize {
		return prefix(text, MinChunkSize)
	}

	// chunkSize < length here since overflow > 0, so the hard slice below
	// always shrinks the input.
	ts, err := NewRecursiveCharacterTextSplitter(chunkSize, 0)
	if err != nil {
		return prefix(text, chunkSize)
	}
	trimmed := ""
	if chunks := ts.SplitText(text); len(chunks) > 0 {
		trimmed = chunks[0]
	}

	if runeLen(trimmed) == length {
		return t.Trim(prefix(text, chunkSize), contextSize)
	}
	return t.Trim(trimmed, contextSize)
}

func prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
