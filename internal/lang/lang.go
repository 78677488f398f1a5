// Package lang holds the closed set of conversion target languages and the
// per-language knowledge the pipeline needs: artifact file extension, line
// comment syntax for the governance header, and the declaration keywords the
// structural gate looks for.
package lang

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Language describes one supported conversion target.
type Language struct {
	// Name is the canonical uppercase identifier used in flags, manifests
	// and bus messages, e.g. "CSHARP".
	Name string
	// Extension is the artifact file extension including the dot.
	Extension string
	// CommentPrefix is the line comment marker used for the governance header.
	CommentPrefix string
	// OpenDelim and CloseDelim are the block delimiters counted by the
	// structural gate.
	OpenDelim, CloseDelim rune

	declPattern *regexp.Regexp
}

// DeclPattern reports whether text contains at least one of the language's
// type or module declaration keywords.
func (l Language) DeclPattern(text string) bool {
	if l.declPattern == nil {
		return false
	}
	return l.declPattern.MatchString(text)
}

// ArtifactName derives the artifact file name for a converted source:
// the source's base name with its extension swapped for the language's.
func (l Language) ArtifactName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "source"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "source"
	}
	return stem + l.Extension
}

var registry = map[string]Language{
	"CSHARP": {
		Name:          "CSHARP",
		Extension:     ".cs",
		CommentPrefix: "//",
		OpenDelim:     '{',
		CloseDelim:    '}',
		declPattern:   regexp.MustCompile(`\b(namespace|class|interface|struct|enum|record)\b`),
	},
	"JAVA": {
		Name:          "JAVA",
		Extension:     ".java",
		CommentPrefix: "//",
		OpenDelim:     '{',
		CloseDelim:    '}',
		declPattern:   regexp.MustCompile(`\b(package|class|interface|enum|record)\b`),
	},
}

// Get returns the language registered under name. The lookup is
// case-insensitive so manifest entries can say "csharp" or "CSHARP".
func Get(name string) (Language, error) {
	l, ok := registry[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Language{}, fmt.Errorf("unsupported target language %q (supported: %s)", name, strings.Join(Supported(), ", "))
	}
	return l, nil
}

// FromExtension returns the language that produces files with the given
// extension (".cs", ".java"). Used by the standalone validator to recognize
// artifacts on disk.
func FromExtension(ext string) (Language, bool) {
	ext = strings.ToLower(ext)
	for _, l := range registry {
		if l.Extension == ext {
			return l, true
		}
	}
	return Language{}, false
}

// Supported lists the registered language names in stable order.
func Supported() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
