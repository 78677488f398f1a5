// Package gate runs the structural checks an artifact must pass before it
// counts as a conversion. The checks are cheap shape heuristics, not parsers.
// Every check runs even after one fails so a rejection names everything
// wrong at once.
package gate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-modernizer/internal/lang"
	"github.com/tendant/simple-modernizer/internal/stamp"
)

// Check names one structural check.
type Check string

const (
	CheckDelimiters  Check = "delimiter_balance"
	CheckDeclaration Check = "declaration_presence"
	CheckHeader      Check = "header_presence"
)

// Violation records one failed check.
type Violation struct {
	Check  Check  `json:"check"`
	Detail string `json:"detail"`
}

// Outcome is the combined result of all checks, violations in check order.
type Outcome struct {
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations,omitempty"`
}

// Evaluate runs the three checks against content. When the exact header is
// known (freshly stamped artifacts) pass it as expectedHeader and the
// artifact must begin with it verbatim. Pass "" for artifacts found on disk
// and the header is checked structurally instead.
func Evaluate(content string, target lang.Language, expectedHeader string) Outcome {
	var violations []Violation
	if v, ok := checkDelimiters(content, target); !ok {
		violations = append(violations, v)
	}
	if v, ok := checkDeclaration(content, target); !ok {
		violations = append(violations, v)
	}
	if v, ok := checkHeader(content, target, expectedHeader); !ok {
		violations = append(violations, v)
	}
	return Outcome{Pass: len(violations) == 0, Violations: violations}
}

func checkDelimiters(content string, target lang.Language) (Violation, bool) {
	opens := strings.Count(content, string(target.OpenDelim))
	closes := strings.Count(content, string(target.CloseDelim))
	if opens == closes {
		return Violation{}, true
	}
	return Violation{
		Check:  CheckDelimiters,
		Detail: fmt.Sprintf("%d opening vs %d closing %c%c delimiters", opens, closes, target.OpenDelim, target.CloseDelim),
	}, false
}

func checkDeclaration(content string, target lang.Language) (Violation, bool) {
	if target.DeclPattern(content) {
		return Violation{}, true
	}
	return Violation{
		Check:  CheckDeclaration,
		Detail: fmt.Sprintf("no recognizable %s type or module declaration", target.Name),
	}, false
}

func checkHeader(content string, target lang.Language, expected string) (Violation, bool) {
	if expected != "" {
		if strings.HasPrefix(content, expected) {
			return Violation{}, true
		}
		return Violation{
			Check:  CheckHeader,
			Detail: "artifact does not begin with the expected governance header",
		}, false
	}

	required := append([]string{stamp.Banner}, stamp.FieldLabels...)
	required = append(required, stamp.Warning)
	for _, want := range required {
		if !strings.Contains(content, target.CommentPrefix+" "+want) {
			return Violation{
				Check:  CheckHeader,
				Detail: fmt.Sprintf("missing header line %q", want),
			}, false
		}
	}
	return Violation{}, true
}

// FileReport pairs one scanned artifact with its outcome.
type FileReport struct {
	Path    string  `json:"path"`
	Lang    string  `json:"lang"`
	Outcome Outcome `json:"outcome"`
}

// ScanDir re-validates every recognized artifact under root, in lexical
// order. Files whose extension maps to no known language are skipped, so an
// empty or unrelated directory yields an empty, passing report.
func ScanDir(root string) ([]FileReport, error) {
	var reports []FileReport
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		target, ok := lang.FromExtension(filepath.Ext(path))
		if !ok {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		reports = append(reports, FileReport{
			Path:    path,
			Lang:    target.Name,
			Outcome: Evaluate(string(data), target, ""),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}
