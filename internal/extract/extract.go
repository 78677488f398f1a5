// Package extract isolates the code payload from a raw model response.
// Only fenced blocks count as code. Surrounding prose is discarded and a
// response without a complete fenced block is an extraction failure, never
// a fallback to the raw text.
package extract

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoCodeBlock marks a response with no complete fenced code block.
var ErrNoCodeBlock = errors.New("no code block found in response")

const fence = "```"

// declLine matches top-level declaration lines. Two blocks opening the same
// declaration are treated as alternative answers rather than halves of one
// compilation unit.
var declLine = regexp.MustCompile(`^\s*(?:public\s+|internal\s+|static\s+|final\s+|abstract\s+|sealed\s+)*(?:namespace|package|class|interface|struct|enum|record)\b`)

// Code returns the code payload of raw. A single fenced block is returned
// as-is. Multiple blocks are joined in document order when they look like
// pieces of one compilation unit; when a later block restates a declaration
// from the first, only the first block is kept.
func Code(raw string) (string, error) {
	blocks := fencedBlocks(raw)
	if len(blocks) == 0 {
		return "", ErrNoCodeBlock
	}
	if len(blocks) == 1 {
		return blocks[0], nil
	}

	first := declSet(blocks[0])
	for _, b := range blocks[1:] {
		for _, line := range declLines(b) {
			if first[line] {
				return blocks[0], nil
			}
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

// fencedBlocks collects the content of every complete fenced region, in
// order. The opening fence may carry a language tag. An unterminated fence
// at the end of the response is dropped.
func fencedBlocks(raw string) []string {
	var blocks []string
	var current []string
	inBlock := false

	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			if inBlock {
				if block := strings.TrimSpace(strings.Join(current, "\n")); block != "" {
					blocks = append(blocks, block)
				}
				current = nil
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			current = append(current, line)
		}
	}
	return blocks
}

func declLines(block string) []string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		if declLine.MatchString(line) {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return lines
}

func declSet(block string) map[string]bool {
	set := make(map[string]bool)
	for _, line := range declLines(block) {
		set[line] = true
	}
	return set
}
