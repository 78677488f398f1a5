// Package prompt loads the conversion prompt templates from disk and splices
// per-job material into them. Templates are read once at startup so a missing
// file fails the run before any model call is made.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-modernizer/internal/lang"
)

const (
	// SystemTemplateFile carries the reviewer persona sent as the system message.
	SystemTemplateFile = "system_prompt.txt"
	// TaskTemplateFile carries the conversion instruction sent as the user message.
	TaskTemplateFile = "task_prompt.txt"

	placeholderTargetLang = "{{TARGET_LANG}}"
	placeholderSourceCode = "{{SOURCE_CODE}}"
)

// ErrTemplateMissing marks a template file that is absent or empty. Callers
// treat it as a configuration error and abort the run.
var ErrTemplateMissing = errors.New("prompt template missing")

// Templates is the raw template pair plus a digest over both files. The
// digest travels with every artifact produced from these templates.
type Templates struct {
	System string
	Task   string
	Hash   string
}

// Bundle is the assembled prompt material for one conversion job.
type Bundle struct {
	System string
	Task   string
	Hash   string
}

// LoadTemplates reads both template files from dir.
func LoadTemplates(dir string) (Templates, error) {
	system, err := readTemplate(filepath.Join(dir, SystemTemplateFile))
	if err != nil {
		return Templates{}, err
	}
	task, err := readTemplate(filepath.Join(dir, TaskTemplateFile))
	if err != nil {
		return Templates{}, err
	}

	sum := sha256.Sum256([]byte(system + "\x00" + task))
	return Templates{
		System: system,
		Task:   task,
		Hash:   hex.EncodeToString(sum[:]),
	}, nil
}

func readTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrTemplateMissing, path)
		}
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrTemplateMissing, path)
	}
	return string(data), nil
}

// Assemble splices the target language and source text into the task
// template. The system persona is passed through untouched and the bundle
// keeps the template hash so provenance survives into the stamped header.
func Assemble(t Templates, target lang.Language, source string) Bundle {
	task := strings.ReplaceAll(t.Task, placeholderTargetLang, target.Name)
	task = strings.ReplaceAll(task, placeholderSourceCode, source)
	return Bundle{
		System: t.System,
		Task:   task,
		Hash:   t.Hash,
	}
}
