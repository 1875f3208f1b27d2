// fnmatch.go - Shell-Patterns fuer Allow/Ignore-Listen
//
// Wie fnmatch: '*' passt auch auf '/', '?' auf genau ein Zeichen,
// '[...]' und '[!...]' sind Zeichenklassen.
package huggingface

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// Pattern is a compiled shell pattern.
type Pattern struct {
	raw string
	re  *regexp2.Regexp
}

// CompilePattern compiles a shell pattern. A trailing '/' matches every
// file below that directory.
func CompilePattern(pattern string) (*Pattern, error) {
	raw := pattern
	if strings.HasSuffix(pattern, "/") {
		pattern += "*"
	}

	re, err := regexp2.Compile(translate(pattern), regexp2.Singleline)
	if err != nil {
		return nil, err
	}
	return &Pattern{raw: raw, re: re}, nil
}

func (p *Pattern) String() string { return p.raw }

// Match reports whether name matches the whole pattern.
func (p *Pattern) Match(name string) bool {
	ok, err := p.re.MatchString(name)
	return err == nil && ok
}

func translate(pattern string) string {
	var sb strings.Builder
	sb.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			j := i + 1
			if j < len(runes) && runes[j] == '!' {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				sb.WriteString(`\[`)
				continue
			}

			class := string(runes[i+1 : j])
			class = strings.ReplaceAll(class, `\`, `\\`)
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			} else if strings.HasPrefix(class, "^") {
				class = `\` + class
			}
			sb.WriteString("[" + class + "]")
			i = j
		default:
			sb.WriteString(regexp2.Escape(string(r)))
		}
	}

	sb.WriteString(`\z`)
	return sb.String()
}

// Filter keeps the names matching at least one allow pattern, or all when
// allow is empty, and none of the ignore patterns.
type Filter struct {
	allow, ignore []*Pattern
}

func NewFilter(allow, ignore []string) (*Filter, error) {
	var f Filter
	for _, s := range allow {
		p, err := CompilePattern(s)
		if err != nil {
			return nil, err
		}
		f.allow = append(f.allow, p)
	}
	for _, s := range ignore {
		p, err := CompilePattern(s)
		if err != nil {
			return nil, err
		}
		f.ignore = append(f.ignore, p)
	}
	return &f, nil
}

func (f *Filter) Match(name string) bool {
	if len(f.allow) > 0 && !matchAny(f.allow, name) {
		return false
	}
	return !matchAny(f.ignore, name)
}

func matchAny(patterns []*Pattern, name string) bool {
	for _, p := range patterns {
		if p.Match(name) {
			return true
		}
	}
	return false
}
