// Package signals extracts normalized, source-attributed evidence from a
// request and its execution context. Extraction is a pure function: it never
// consults the registry and never fails: empty or garbage input yields an
// empty SignalSet.
package signals

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

// Lexicon carries the keyword vocabulary to scan for. The engine builds it
// from trigger patterns so the extractor itself stays registry-agnostic.
type Lexicon struct {
	Keywords []string
}

// originRequest marks signals extracted from the request text itself
const originRequest = "request"

var importPatterns = []*regexp.Regexp{
	// Go: import "pkg" (single or grouped form lines)
	regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:\w+\s+)?"([\w./\-]+)"`),
	// Python: import pkg / from pkg import ...
	regexp.MustCompile(`(?m)^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`),
	// JS/TS: import ... from 'pkg'
	regexp.MustCompile(`import\s+[^;]*?from\s+['"]([^'"]+)['"]`),
	// CommonJS: require('pkg')
	regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
}

// Extract converts a raw request and execution context into a SignalSet.
// Keywords are scanned case-insensitively over the normalized request text
// and over active file contents; each signal records its originating span.
func Extract(req dispatchtypes.Request, execCtx dispatchtypes.ExecContext, lex Lexicon) dispatchtypes.SignalSet {
	set := dispatchtypes.SignalSet{
		NormalizedText: Normalize(req.Text),
		RawLength:      utf8.RuneCountInString(req.Text),
	}

	set.Keywords = scanKeywords(set.NormalizedText, execCtx, lex.Keywords)

	for _, file := range execCtx.ActiveFiles {
		if file == "" {
			continue
		}
		set.Files = append(set.Files, dispatchtypes.Signal{
			Category: dispatchtypes.SignalFile,
			Value:    file,
			Origin:   originRequest,
			Span:     dispatchtypes.Span{Start: 0, End: len(file)},
		})
	}

	for _, tool := range execCtx.RecentTools {
		if tool == "" {
			continue
		}
		set.Tools = append(set.Tools, dispatchtypes.Signal{
			Category: dispatchtypes.SignalTool,
			Value:    strings.ToLower(strings.TrimSpace(tool)),
			Origin:   originRequest,
			Span:     dispatchtypes.Span{Start: 0, End: len(tool)},
		})
	}

	set.Imports = detectImports(req.Text, execCtx)

	return set
}

// Normalize applies NFKC folding, lowercasing, and whitespace collapsing
func Normalize(text string) string {
	folded := norm.NFKC.String(text)
	lowered := strings.ToLower(folded)
	return strings.Join(strings.Fields(lowered), " ")
}

func scanKeywords(normalizedText string, execCtx dispatchtypes.ExecContext, keywords []string) []dispatchtypes.Signal {
	var out []dispatchtypes.Signal
	seen := make(map[string]bool)

	match := func(haystack, origin, keyword string) {
		normalized := Normalize(keyword)
		if normalized == "" {
			return
		}
		idx := strings.Index(haystack, normalized)
		if idx < 0 {
			return
		}
		key := normalized + "\x00" + origin
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, dispatchtypes.Signal{
			Category: dispatchtypes.SignalKeyword,
			Value:    normalized,
			Origin:   origin,
			Span:     dispatchtypes.Span{Start: idx, End: idx + len(normalized)},
		})
	}

	paths := sortedPaths(execCtx.FileContents)
	for _, kw := range keywords {
		match(normalizedText, originRequest, kw)
		for _, path := range paths {
			match(Normalize(execCtx.FileContents[path]), path, kw)
		}
	}

	return out
}

// sortedPaths returns file content keys in sorted order so signal order, and
// therefore scoring, stays deterministic.
func sortedPaths(contents map[string]string) []string {
	paths := make([]string, 0, len(contents))
	for path := range contents {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func detectImports(requestText string, execCtx dispatchtypes.ExecContext) []dispatchtypes.Signal {
	var out []dispatchtypes.Signal
	seen := make(map[string]bool)

	scan := func(content, origin string) {
		for _, re := range importPatterns {
			for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
				// first non-empty capture group
				for g := 1; g*2 < len(m); g++ {
					start, end := m[g*2], m[g*2+1]
					if start < 0 {
						continue
					}
					value := strings.ToLower(content[start:end])
					key := value + "\x00" + origin
					if seen[key] {
						break
					}
					seen[key] = true
					out = append(out, dispatchtypes.Signal{
						Category: dispatchtypes.SignalImport,
						Value:    value,
						Origin:   origin,
						Span:     dispatchtypes.Span{Start: start, End: end},
					})
					break
				}
			}
		}
	}

	scan(requestText, originRequest)
	for _, path := range sortedPaths(execCtx.FileContents) {
		scan(execCtx.FileContents[path], path)
	}

	return out
}
