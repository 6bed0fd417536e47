package splitter

import (
	"log/slog"
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures the token length of a string.
type TokenCounter interface {
	CountTokens(text string) int
}

// CounterFunc adapts a plain function to TokenCounter.
type CounterFunc func(text string) int

func (f CounterFunc) CountTokens(text string) int { return f(text) }

// DefaultEncoding is the BPE encoding used for length-only tokenization.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts tokens with a tiktoken BPE encoding. The encoding
// is loaded lazily; if it cannot be loaded the counter falls back to
// EstimateTokens.
type TiktokenCounter struct {
	Encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter for the named encoding.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{Encoding: encoding}
}

func (c *TiktokenCounter) CountTokens(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.Encoding)
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using estimate", "encoding", c.Encoding, "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates the token count at ~4 characters per token.
func EstimateTokens(text string) int {
	n := runeLen(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / 4.0))
}
