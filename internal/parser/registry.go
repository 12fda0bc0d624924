package parser

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/logdict/backend/internal/dictionary"
)

// Reserved tokenizer names understood by Resolve.
const (
	FormatWhitespace = "whitespace"
	FormatAuto       = "auto"
)

// ErrUnknownFormat is wrapped when a format name is not registered.
var ErrUnknownFormat = errors.New("log format not found")

// detectSample is how many non-blank lines Detect looks at, and detectRatio
// the share of them a header must match.
const (
	detectSample = 10
	detectRatio  = 0.6
)

// Registry holds the known log formats and provides auto-detection.
type Registry struct {
	mu         sync.RWMutex
	tokenizers []*FormatTokenizer
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry returns a registry holding the built-in formats.
func NewRegistry() *Registry {
	r := &Registry{}
	for _, f := range BuiltinFormats() {
		r.tokenizers = append(r.tokenizers, MustFormatTokenizer(f))
	}
	return r
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register compiles f and adds it. A format with the name of an existing one
// replaces it in place, keeping its detection position.
func (r *Registry) Register(f LogFormat) error {
	if isReserved(f.Name) {
		return fmt.Errorf("format name %q is reserved", f.Name)
	}
	t, err := NewFormatTokenizer(f)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.tokenizers {
		if strings.EqualFold(existing.format.Name, f.Name) {
			r.tokenizers[i] = t
			return nil
		}
	}
	r.tokenizers = append(r.tokenizers, t)
	return nil
}

// GetByName returns the tokenizer of a format, matching names case-insensitively.
func (r *Registry) GetByName(name string) (*FormatTokenizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokenizers {
		if strings.EqualFold(t.format.Name, name) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

// Formats lists the registered formats in detection order.
func (r *Registry) Formats() []LogFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LogFormat, len(r.tokenizers))
	for i, t := range r.tokenizers {
		out[i] = t.format
	}
	return out
}

// Names lists the registered format names in detection order.
func (r *Registry) Names() []string {
	formats := r.Formats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.Name
	}
	return names
}

// Detect returns the first format whose header matches at least 60% of the
// first 10 non-blank lines of sample.
func (r *Registry) Detect(sample []string) (*FormatTokenizer, error) {
	lines := make([]string, 0, detectSample)
	for _, line := range sample {
		if len(lines) == detectSample {
			break
		}
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("cannot detect log format: no non-blank lines")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokenizers {
		matched := 0
		for _, line := range lines {
			if t.Match(line) {
				matched++
			}
		}
		if float64(matched)/float64(len(lines)) >= detectRatio {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no suitable log format found")
}

// Resolve maps a tokenizer name to a tokenizer: "" and "whitespace" split
// whole lines, "auto" detects a format from sample, anything else is looked
// up by name.
func (r *Registry) Resolve(name string, sample []string) (dictionary.Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FormatWhitespace:
		return WhitespaceTokenizer{}, nil
	case FormatAuto:
		t, err := r.Detect(sample)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		t, err := r.GetByName(name)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// ResolvedName is the display name of a tokenizer returned by Resolve.
func ResolvedName(t dictionary.Tokenizer) string {
	if ft, ok := t.(*FormatTokenizer); ok {
		return ft.format.Name
	}
	return FormatWhitespace
}

func isReserved(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == FormatWhitespace || n == FormatAuto
}
