// Package stamp renders the provenance header prepended to every generated
// artifact. The header is a deterministic function of its fields, so two
// runs over the same input differ only in the timestamp line.
package stamp

import (
	"fmt"
	"strings"
	"time"

	"github.com/tendant/simple-modernizer/internal/lang"
)

const (
	// Banner is the first header line after the comment marker. The
	// structural gate keys on it when no exact header is known.
	Banner = "AUTO-GENERATED CODE"
	// Warning closes the header on every artifact.
	Warning = "WARNING: Review required before production use"
)

// FieldLabels are the header field prefixes in stamped order.
var FieldLabels = []string{
	"Pipeline Run ID:",
	"Source File:",
	"Model:",
	"Generated:",
	"Prompt Hash:",
}

// Header carries the provenance of one conversion.
type Header struct {
	RunID      string
	SourceFile string
	Model      string
	Timestamp  time.Time
	PromptHash string
}

// Render produces the header comment block for the target language,
// without a trailing newline.
func Render(h Header, target lang.Language) string {
	c := target.CommentPrefix
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", c, Banner)
	fmt.Fprintf(&b, "%s Pipeline Run ID: %s\n", c, h.RunID)
	fmt.Fprintf(&b, "%s Source File: %s\n", c, h.SourceFile)
	fmt.Fprintf(&b, "%s Model: %s\n", c, h.Model)
	fmt.Fprintf(&b, "%s Generated: %s\n", c, h.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "%s Prompt Hash: %s\n", c, h.PromptHash)
	fmt.Fprintf(&b, "%s %s", c, Warning)
	return b.String()
}

// Apply prepends the rendered header to code, separated by a blank line.
func Apply(code string, h Header, target lang.Language) string {
	return Render(h, target) + "\n\n" + code
}
