package parser

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FormatProfile is the YAML document listing user-defined log formats:
//
//	formats:
//	  - name: nginx
//	    header: '<IP> - - \[<Time>\] <Content>'
//	    censor: ['\d+']
type FormatProfile struct {
	Formats []LogFormat `yaml:"formats"`
}

// LoadFormats parses a YAML format profile file.
func LoadFormats(filePath string) ([]LogFormat, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadFormatsFromReader(file)
}

// LoadFormatsFromReader parses a format profile from an io.Reader.
func LoadFormatsFromReader(r io.Reader) ([]LogFormat, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var profile FormatProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, err
	}

	for i, f := range profile.Formats {
		if f.Name == "" {
			return nil, fmt.Errorf("format #%d: missing name", i+1)
		}
		if f.Header == "" {
			return nil, fmt.Errorf("format %s: missing header", f.Name)
		}
	}
	return profile.Formats, nil
}

// LoadFile registers every format of a profile file and returns how many
// were added or replaced.
func (r *Registry) LoadFile(filePath string) (int, error) {
	formats, err := LoadFormats(filePath)
	if err != nil {
		return 0, fmt.Errorf("load formats %s: %w", filePath, err)
	}
	for _, f := range formats {
		if err := r.Register(f); err != nil {
			return 0, err
		}
	}
	return len(formats), nil
}
