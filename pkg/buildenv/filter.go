package buildenv

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultSrcFilter is the filter the host tool applies when a project doesn't configure one
const DefaultSrcFilter = "+<*> -<.git/> -<.svn/>"

// FilterRule is a single +<pattern> or -<pattern> entry of a source filter
type FilterRule struct {
	Include bool
	Pattern string
}

func (r FilterRule) String() string {
	if r.Include {
		return "+<" + r.Pattern + ">"
	}
	return "-<" + r.Pattern + ">"
}

// ParseFilter splits a filter string into its rules. One string may contain several rules.
func ParseFilter(filter string) ([]FilterRule, error) {
	rules := make([]FilterRule, 0)
	rest := strings.TrimSpace(filter)

	for rest != "" {
		if len(rest) < 2 || (rest[0] != '+' && rest[0] != '-') || rest[1] != '<' {
			return nil, eris.Errorf("malformed source filter %q: expected +<...> or -<...> at %q", filter, rest)
		}

		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return nil, eris.Errorf("malformed source filter %q: missing >", filter)
		}

		rules = append(rules, FilterRule{
			Include: rest[0] == '+',
			Pattern: strings.TrimSpace(rest[2:end]),
		})
		rest = strings.TrimSpace(rest[end+1:])
	}

	return rules, nil
}

// EffectiveRules parses all filters. A filter list without a single include rule is evaluated on top of
// DefaultSrcFilter since that's what the host starts with before extra scripts append to it.
func EffectiveRules(filters []string) ([]FilterRule, error) {
	rules := make([]FilterRule, 0, len(filters))
	for _, filter := range filters {
		parsed, err := ParseFilter(filter)
		if err != nil {
			return nil, err
		}
		rules = append(rules, parsed...)
	}

	for _, rule := range rules {
		if rule.Include {
			return rules, nil
		}
	}

	defaults, err := ParseFilter(DefaultSrcFilter)
	if err != nil {
		return nil, err
	}
	return append(defaults, rules...), nil
}

func compileSegment(seg string) (*regexp.Regexp, error) {
	expr, err := pattern.Regexp(seg, pattern.Filenames)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid pattern %s", seg)
	}

	return regexp.Compile("^(?:" + expr + ")$")
}

func matchSegments(pat, path []string) (bool, error) {
	if len(pat) == 0 {
		return len(path) == 0, nil
	}

	if pat[0] == "**" {
		for idx := 0; idx <= len(path); idx++ {
			ok, err := matchSegments(pat[1:], path[idx:])
			if ok || err != nil {
				return ok, err
			}
		}
		return false, nil
	}

	if len(path) == 0 {
		return false, nil
	}

	re, err := compileSegment(pat[0])
	if err != nil {
		return false, err
	}

	if !re.MatchString(path[0]) {
		return false, nil
	}
	return matchSegments(pat[1:], path[1:])
}

// MatchFilter reports whether the slash-separated relPath is selected by the filter pattern. A pattern which
// matches one of the parent directories selects everything below it.
func MatchFilter(pat, relPath string) (bool, error) {
	pat = strings.Trim(filepath.ToSlash(pat), "/")
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	if pat == "" || relPath == "" {
		return false, nil
	}

	patParts := strings.Split(pat, "/")
	pathParts := strings.Split(relPath, "/")

	for end := len(pathParts); end > 0; end-- {
		ok, err := matchSegments(patParts, pathParts[:end])
		if ok || err != nil {
			return ok, err
		}
	}

	return false, nil
}

// Excluded reports whether relPath is excluded from the build by the given filters. The last matching rule wins.
func Excluded(filters []string, relPath string) (bool, error) {
	rules, err := EffectiveRules(filters)
	if err != nil {
		return false, err
	}

	included := false
	for _, rule := range rules {
		ok, err := MatchFilter(rule.Pattern, relPath)
		if err != nil {
			return false, err
		}

		if ok {
			included = rule.Include
		}
	}

	return !included, nil
}

// shellSpecial lists the characters that would change how a pattern is split or expanded, glob syntax excluded
const shellSpecial = " \t\n$'\"`\\;&|<>(){}#~="

// escapePattern backslash-escapes shellSpecial characters so the pattern is only globbed
func escapePattern(item string) string {
	var buf strings.Builder
	for _, r := range item {
		if strings.ContainsRune(shellSpecial, r) {
			buf.WriteByte('\\')
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

// expandPattern globs item inside base and returns the absolute matches
func expandPattern(base, item string) ([]string, error) {
	// base is handed over as PWD so it never passes through the shell parser
	cfg := expand.Config{
		Env:      expand.ListEnviron("PWD=" + base),
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	item = escapePattern(strings.TrimPrefix(filepath.ToSlash(item), "/"))

	words := make([]*syntax.Word, 0)
	parser := syntax.NewParser()
	err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
		words = append(words, w)
		return true
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
	}

	matches, err := expand.Fields(&cfg, words...)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
	}

	result := make([]string, 0, len(matches))
	for _, match := range matches {
		// If a pattern didn't match anything, it's returned as a result. Skip those results.
		if strings.Contains(match, "*") {
			continue
		}

		result = append(result, filepath.Join(base, filepath.FromSlash(match)))
	}
	return result, nil
}

func collectFiles(srcDir, match string, out map[string]bool, include bool) error {
	info, err := os.Stat(match)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil
		}
		return eris.Wrapf(err, "failed to check %s", match)
	}

	record := func(path string) error {
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return eris.Wrapf(err, "failed to simplify %s", path)
		}

		rel = filepath.ToSlash(rel)
		if include {
			out[rel] = true
		} else {
			delete(out, rel)
		}
		return nil
	}

	if !info.IsDir() {
		return record(match)
	}

	return filepath.Walk(match, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return record(path)
	})
}

// ResolveSources applies the filters to the contents of srcDir and returns the selected files relative to
// srcDir (slash-separated and sorted).
func ResolveSources(ctx context.Context, srcDir string, filters []string) ([]string, error) {
	rules, err := EffectiveRules(filters)
	if err != nil {
		return nil, err
	}

	srcDir, err = filepath.Abs(srcDir)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool)
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := expandPattern(srcDir, rule.Pattern)
		if err != nil {
			return nil, err
		}

		for _, match := range matches {
			err = collectFiles(srcDir, match, selected, rule.Include)
			if err != nil {
				return nil, err
			}
		}

		Log(ctx).Debug().
			Str("rule", rule.String()).
			Int("matches", len(matches)).
			Msg("resolved source filter")
	}

	result := make([]string, 0, len(selected))
	for path := range selected {
		result = append(result, path)
	}
	sort.Strings(result)

	return result, nil
}
