package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// LogFormat describes how to pull the message out of one family of log lines.
//
// Header is a line template: every <Field> placeholder captures one field and
// runs of spaces match any run of white space. Text between placeholders is a
// regular expression fragment, so brackets and pipes must be escaped there.
// A header must contain a <Content> placeholder; only that field is tokenized.
//
// Censor lists regular expressions whose matches in the content are replaced
// with the <*> wildcard before splitting, applied in order.
//
// Headers are loose (a Linux header also fits HDFS lines), so Detect is an
// optional stricter expression a line must also match during auto-detection.
type LogFormat struct {
	Name   string   `yaml:"name" json:"name"`
	Header string   `yaml:"header" json:"header"`
	Censor []string `yaml:"censor,omitempty" json:"censor,omitempty"`
	Detect string   `yaml:"detect,omitempty" json:"detect,omitempty"`
}

// ContentField is the placeholder whose capture is tokenized.
const ContentField = "Content"

// Wildcard replaces censored variable parts of a message.
const Wildcard = "<*>"

// Built-in formats, in detection order: the more distinctive headers come
// first so a loose header like HPC only wins when nothing else matches.
var (
	HealthApp = LogFormat{
		Name:   "HealthApp",
		Detect: `^\d{8}-\d{1,2}:\d{1,2}:\d{1,2}:\d{1,3}\|`,
		Header: `<Time>\|<Component>\|<Pid>\|<Content>`,
	}
	Proxifier = LogFormat{
		Name:   "Proxifier",
		Detect: `^\[\d{2}\.\d{2} \d{2}:\d{2}:\d{2}\]`,
		Header: `\[<Time>\] <Program> - <Content>`,
		Censor: []string{
			`<\d+\ssec`,
			`([\w-]+\.)+[\w-]+(:\d+)?`,
			`\d{2}:\d{2}(:\d{2})*`,
			`[KGTM]B`,
		},
	}
	OpenStack = LogFormat{
		Name:   "OpenStack",
		Detect: `^\S+ \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d+ \d+ [A-Z]+ `,
		Header: `<Logrecord> <Date> <Time> <Pid> <Level> <Component> \[<ADDR>\] <Content>`,
		Censor: []string{
			`((\d+\.){3}\d+,?)+`,
			`/.+?\s`,
		},
	}
	Linux = LogFormat{
		Name:   "Linux",
		Detect: `^[A-Z][a-z]{2}\s+\d{1,2} \d{2}:\d{2}:\d{2} `,
		Header: `<Month> <Date> <Time> <Level> <Component>(\[<PID>\])?: <Content>`,
		Censor: []string{
			`(\d+\.){3}\d+`,
			`\w{3} \w{3} \d{2} \d{2}:\d{2}:\d{2} \d{4}`,
			`\d{2}:\d{2}:\d{2}`,
		},
	}
	Android = LogFormat{
		Name:   "Android",
		Detect: `^\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\s+\d+\s+\d+ [VDIWEFA] `,
		Header: `<Date> <Time>  <Pid>  <Tid> <Level> <Component>: <Content>`,
		Censor: []string{
			`(/[\w-]+)+`,
			`([\w-]+\.){2,}[\w-]+`,
			`\b(\-?\+?\d+)\b|\b0[Xx][a-fA-F\d]+\b|\b[a-fA-F\d]{4,}\b`,
		},
	}
	HDFS = LogFormat{
		Name:   "HDFS",
		Detect: `^\d{6} \d{6} \d+ [A-Z]+ `,
		Header: `<Date> <Time> <Pid> <Level> <Component>: <Content>`,
		Censor: []string{
			`blk_(|-)[0-9]+`,
			`(/|)([0-9]+\.){3}[0-9]+(:[0-9]+|)(:|)`,
		},
	}
	Spark = LogFormat{
		Name:   "Spark",
		Detect: `^\d{2}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} [A-Z]+ `,
		Header: `<Date> <Time> <Level> <Component>: <Content>`,
		Censor: []string{
			`(\d+\.){3}\d+`,
			`\b[KGTM]?B\b`,
			`([\w-]+\.){2,}[\w-]+`,
		},
	}
	HPC = LogFormat{
		Name:   "HPC",
		Detect: `^\d+ \S+ \S+ \S+ \d{9,} \d `,
		Header: `<LogId> <Node> <Component> <State> <Time> <Flag> <Content>`,
		Censor: []string{`=\d+`},
	}
)

// BuiltinFormats returns the formats every registry starts with.
func BuiltinFormats() []LogFormat {
	return []LogFormat{HealthApp, Proxifier, OpenStack, Linux, Android, HDFS, Spark, HPC}
}

var (
	placeholderRegex = regexp.MustCompile(`<([^<>]+)>`)
	spacesRegex      = regexp.MustCompile(` +`)
	fieldNameRegex   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// HeaderRegex compiles a header template into an anchored regular expression
// with one lazy named group per placeholder.
func HeaderRegex(header string) (*regexp.Regexp, error) {
	matches := placeholderRegex.FindAllStringSubmatchIndex(header, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("header %q has no <Field> placeholders", header)
	}

	var b strings.Builder
	b.WriteString("^")
	prev := 0
	for _, m := range matches {
		b.WriteString(spacesRegex.ReplaceAllLiteralString(header[prev:m[0]], `\s+`))
		name := header[m[2]:m[3]]
		if !fieldNameRegex.MatchString(name) {
			return nil, fmt.Errorf("header %q: invalid field name %q", header, name)
		}
		fmt.Fprintf(&b, "(?P<%s>.*?)", name)
		prev = m[1]
	}
	b.WriteString(spacesRegex.ReplaceAllLiteralString(header[prev:], `\s+`))
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("header %q: %w", header, err)
	}
	return re, nil
}
