// Package tokens estimates how many model tokens a text occupies. The count
// only gates summarization, so any BPE-compatible estimate will do.
package tokens

import (
	"fmt"
	"log"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the reference byte-pair encoding.
const DefaultEncoding = "cl100k_base"

// Counter returns a deterministic, non-negative token estimate for text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Tiktoken counts tokens with a BPE encoding loaded from the embedded
// offline vocabulary, so counting never touches the network.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

var loaderOnce sync.Once

// NewTiktoken loads the named encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: encoding, enc: enc}, nil
}

// Count encodes text, treating special-token markers as plain text.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Encoding returns the encoding name.
func (t *Tiktoken) Encoding() string { return t.encoding }

// Estimate approximates the token count as one token per four characters.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns the shared cl100k_base counter, or the Estimate
// heuristic if the encoding cannot be loaded.
func Default() Counter {
	defaultOnce.Do(func() {
		tk, err := NewTiktoken(DefaultEncoding)
		if err != nil {
			log.Printf("Token counter: %v, falling back to character estimate", err)
			defaultCounter = CounterFunc(Estimate)
			return
		}
		defaultCounter = tk
	})
	return defaultCounter
}
