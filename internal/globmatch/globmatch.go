// Package globmatch implements the double-star-aware glob matching
// spec.md §4.5 requires for the exclude and search filters' pattern
// lists ("double-star supported"). path/filepath.Match alone cannot
// express "**" crossing path-segment boundaries, so patterns are
// compiled to an equivalent anchored regexp once and reused per match.
package globmatch

import (
	"regexp"
	"strings"
)

// Pattern is one compiled glob pattern.
type Pattern struct {
	src string
	re  *regexp.Regexp
}

// Compile builds a Pattern from a shell-glob-style string. Supported
// wildcards: "*" (any run of non-"/" characters), "?" (one non-"/"
// character), "**" (any run of characters, including "/").
func Compile(pattern string) *Pattern {
	return &Pattern{src: pattern, re: toRegexp(pattern)}
}

// CompileAll compiles every pattern in patterns.
func CompileAll(patterns []string) []*Pattern {
	out := make([]*Pattern, len(patterns))
	for i, p := range patterns {
		out[i] = Compile(p)
	}
	return out
}

// String returns the original glob text.
func (p *Pattern) String() string { return p.src }

// Match reports whether name satisfies the pattern.
func (p *Pattern) Match(name string) bool {
	return p.re.MatchString(name)
}

// MatchAny reports whether name matches any pattern in patterns.
func MatchAny(patterns []*Pattern, name string) bool {
	for _, p := range patterns {
		if p.Match(name) {
			return true
		}
	}
	return false
}

var metaEscape = strings.NewReplacer(
	".", `\.`, "+", `\+`, "(", `\(`, ")", `\)`, "|", `\|`,
	"^", `\^`, "$", `\$`, "[", `\[`, "]", `\]`, "{", `\{`, "}", `\}`, `\`, `\\`,
)

func toRegexp(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString("(?:.*/)?")
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			sb.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			sb.WriteString("[^/]")
			i++
		default:
			sb.WriteString(metaEscape.Replace(string(pattern[i])))
			i++
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}
