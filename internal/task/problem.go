package task

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Severity grades a Problem.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Problem is a diagnostic a tool printed, or one reported by an in-process
// stage such as the annotator.
type Problem struct {
	File     string
	Line     int // 1-based, 0 if unknown
	Column   int // 1-based, 0 if unknown
	Severity Severity
	Message  string
	Source   string // reporting tool
}

// String formats the problem as file:line:col: message.
func (p Problem) String() string {
	loc := p.File
	if loc != "" && p.Line > 0 {
		loc += ":" + strconv.Itoa(p.Line)
		if p.Column > 0 {
			loc += ":" + strconv.Itoa(p.Column)
		}
	}
	if loc == "" {
		return p.Message
	}
	return loc + ": " + p.Message
}

// Matcher turns output lines of one tool into problems. Its expressions
// capture the named groups file, line, col, severity and message; any of
// them may be absent. The first expression that matches a line wins.
type Matcher struct {
	Name     string
	Source   string
	fallback Severity
	exprs    []*regexp.Regexp
}

// NewMatcher compiles a matcher. fallback is the severity of problems whose
// line names none; empty means error.
func NewMatcher(name, source string, fallback Severity, exprs ...string) (*Matcher, error) {
	if fallback == "" {
		fallback = SeverityError
	}
	m := &Matcher{Name: name, Source: source, fallback: fallback}
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("problem matcher %q: %w", name, err)
		}
		m.exprs = append(m.exprs, re)
	}
	return m, nil
}

// Match extracts a problem from line.
func (m *Matcher) Match(line string) (Problem, bool) {
	for _, re := range m.exprs {
		sub := re.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		field := func(name string) string {
			if i := re.SubexpIndex(name); i > 0 {
				return strings.TrimSpace(sub[i])
			}
			return ""
		}
		p := Problem{
			File:     field("file"),
			Message:  field("message"),
			Source:   m.Source,
			Severity: m.fallback,
		}
		p.Line, _ = strconv.Atoi(field("line"))
		p.Column, _ = strconv.Atoi(field("col"))
		if s := field("severity"); s != "" {
			p.Severity = severityOf(s)
		}
		return p, true
	}
	return Problem{}, false
}

func severityOf(s string) Severity {
	switch strings.ToLower(s) {
	case "warning", "warn":
		return SeverityWarning
	case "info", "note":
		return SeverityInfo
	}
	return SeverityError
}

// lintCompact is the compact reporter shared by jshint, csslint and eslint:
// file: line 3, col 7, [Error - ]message
const lintCompact = `^(?P<file>.+?): line (?P<line>\d+), col (?P<col>\d+), `

var builtinMatchers = map[string]*Matcher{
	"jshint":  mustMatcher("jshint", "jshint", "", lintCompact+`(?P<message>.+)$`),
	"csslint": mustMatcher("csslint", "csslint", "", lintCompact+`(?P<severity>Error|Warning) - (?P<message>.+)$`),
	"eslint-compact": mustMatcher("eslint-compact", "eslint", "",
		lintCompact+`(?P<severity>Error|Warning) - (?P<message>.+)$`),
	// ng-annotate puts the parser position after the message:
	// Unexpected token (12:4)
	"ng-annotate": mustMatcher("ng-annotate", "ng-annotate", "",
		`^(?P<message>.+) \((?P<line>\d+):(?P<col>\d+)\)$`,
		`^error: (?P<message>.+)$`),
	"go": mustMatcher("go", "go", "",
		`^(?P<file>\S+\.go):(?P<line>\d+):(?P<col>\d+):\s*(?P<message>.+)$`,
		`^(?P<file>\S+\.go):(?P<line>\d+):\s*(?P<message>.+)$`),
}

func mustMatcher(name, source string, fallback Severity, exprs ...string) *Matcher {
	m, err := NewMatcher(name, source, fallback, exprs...)
	if err != nil {
		panic(err)
	}
	return m
}

// LookupMatcher returns the built-in matcher called name, or nil.
func LookupMatcher(name string) *Matcher {
	return builtinMatchers[name]
}

// MatcherNames lists the built-in matchers, sorted.
func MatcherNames() []string {
	names := make([]string, 0, len(builtinMatchers))
	for name := range builtinMatchers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
