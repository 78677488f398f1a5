package extract

import (
	"errors"
	"strings"
	"testing"
)

func TestCodeSingleBlock(t *testing.T) {
	raw := "Here is the converted class:\n\n```csharp\npublic class Calculator\n{\n    public int Add(int a, int b) => a + b;\n}\n```\n\nLet me know if you need changes."

	code, err := Code(raw)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if !strings.HasPrefix(code, "public class Calculator") {
		t.Errorf("unexpected start: %q", code)
	}
	if strings.Contains(code, "```") {
		t.Errorf("fence markers leaked into payload: %q", code)
	}
	if strings.Contains(code, "Let me know") {
		t.Errorf("prose leaked into payload: %q", code)
	}
}

func TestCodeLanguageTags(t *testing.T) {
	for _, tag := range []string{"", "csharp", "cs", "java"} {
		t.Run("tag_"+tag, func(t *testing.T) {
			raw := "```" + tag + "\nclass A { }\n```"
			code, err := Code(raw)
			if err != nil {
				t.Fatalf("Code: %v", err)
			}
			if code != "class A { }" {
				t.Errorf("Code = %q", code)
			}
		})
	}
}

func TestCodeNoBlock(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain prose", "I cannot convert this file because the source is incomplete."},
		{"code without fences", "public class Calculator { }"},
		{"empty response", ""},
		{"empty block", "```\n\n```"},
		{"unterminated fence", "```csharp\npublic class Calculator {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Code(tt.raw)
			if !errors.Is(err, ErrNoCodeBlock) {
				t.Errorf("Code(%q) error = %v, want ErrNoCodeBlock", tt.raw, err)
			}
		})
	}
}

func TestCodeMultipleBlocksJoined(t *testing.T) {
	raw := "The class:\n```java\npackage billing;\n\npublic class Invoice {\n}\n```\nAnd the helper:\n```java\nclass InvoiceFormatter {\n}\n```"

	code, err := Code(raw)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	invoice := strings.Index(code, "class Invoice")
	formatter := strings.Index(code, "class InvoiceFormatter")
	if invoice < 0 || formatter < 0 {
		t.Fatalf("missing block content: %q", code)
	}
	if formatter < invoice {
		t.Error("blocks joined out of document order")
	}
	if strings.Contains(code, "And the helper") {
		t.Errorf("prose between blocks leaked: %q", code)
	}
}

func TestCodeAlternativeBlocksKeepFirst(t *testing.T) {
	raw := "First version:\n```csharp\npublic class Calculator\n{\n    public int Add(int a, int b) => a + b;\n}\n```\nOr more defensively:\n```csharp\npublic class Calculator\n{\n    public int Add(int a, int b) { checked { return a + b; } }\n}\n```"

	code, err := Code(raw)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if strings.Count(code, "public class Calculator") != 1 {
		t.Errorf("alternative block was not dropped: %q", code)
	}
	if strings.Contains(code, "checked") {
		t.Errorf("kept the wrong alternative: %q", code)
	}
}

func TestCodeTrimsBlockEdges(t *testing.T) {
	raw := "```\n\n\nclass A { }\n\n```"
	code, err := Code(raw)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if code != "class A { }" {
		t.Errorf("Code = %q", code)
	}
}
