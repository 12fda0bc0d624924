package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/logdict/backend/internal/dictionary"
)

// ErrMalformedLine is returned for a non-blank line that does not match the
// format header.
var ErrMalformedLine = errors.New("line does not match log format")

const excerptLen = 80

// WhitespaceTokenizer splits the whole line on white space and never fails.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Tokenize(line string) ([]string, error) {
	return strings.Fields(line), nil
}

// FormatTokenizer extracts the Content field of a known log format, censors
// its variable parts and splits the rest on white space.
// It holds only compiled regular expressions and is safe for concurrent use.
type FormatTokenizer struct {
	format  LogFormat
	header  *regexp.Regexp
	content int
	censor  []*regexp.Regexp
	detect  *regexp.Regexp
}

var (
	_ dictionary.Tokenizer = WhitespaceTokenizer{}
	_ dictionary.Tokenizer = (*FormatTokenizer)(nil)
)

// NewFormatTokenizer compiles f.
func NewFormatTokenizer(f LogFormat) (*FormatTokenizer, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, errors.New("log format has no name")
	}
	header, err := HeaderRegex(f.Header)
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", f.Name, err)
	}
	content := header.SubexpIndex(ContentField)
	if content < 0 {
		return nil, fmt.Errorf("format %s: header has no <%s> field", f.Name, ContentField)
	}

	censor := make([]*regexp.Regexp, 0, len(f.Censor))
	for _, expr := range f.Censor {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("format %s: censor %q: %w", f.Name, expr, err)
		}
		censor = append(censor, re)
	}

	var detect *regexp.Regexp
	if f.Detect != "" {
		if detect, err = regexp.Compile(f.Detect); err != nil {
			return nil, fmt.Errorf("format %s: detect %q: %w", f.Name, f.Detect, err)
		}
	}

	return &FormatTokenizer{format: f, header: header, content: content, censor: censor, detect: detect}, nil
}

// MustFormatTokenizer is like NewFormatTokenizer but panics on error.
func MustFormatTokenizer(f LogFormat) *FormatTokenizer {
	t, err := NewFormatTokenizer(f)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *FormatTokenizer) Format() LogFormat {
	return t.format
}

// Match reports whether the trimmed line fits the header and, when set, the
// detect expression.
func (t *FormatTokenizer) Match(line string) bool {
	line = strings.TrimSpace(line)
	if t.detect != nil && !t.detect.MatchString(line) {
		return false
	}
	return t.header.MatchString(line)
}

// Tokenize returns the censored content tokens of line. Blank lines yield no
// tokens; any other line that does not fit the header yields ErrMalformedLine.
func (t *FormatTokenizer) Tokenize(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	m := t.header.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("%w %s: %q", ErrMalformedLine, t.format.Name, excerpt(line))
	}
	return strings.Fields(t.Censor(m[t.content])), nil
}

// Censor replaces every censor match in s with the wildcard. s is prefixed
// with a space first so expressions anchored on a leading separator also
// match at the start of the message.
func (t *FormatTokenizer) Censor(s string) string {
	s = " " + s
	for _, re := range t.censor {
		s = re.ReplaceAllLiteralString(s, Wildcard)
	}
	return s
}

func excerpt(s string) string {
	if len(s) <= excerptLen {
		return s
	}
	return s[:excerptLen] + "..."
}
