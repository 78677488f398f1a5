package lang

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name    string
		wantExt string
		wantErr bool
	}{
		{"CSHARP", ".cs", false},
		{"csharp", ".cs", false},
		{" Java ", ".java", false},
		{"JAVA", ".java", false},
		{"COBOL", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := Get(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Get(%q) expected error, got %+v", tt.name, l)
				}
				if !strings.Contains(err.Error(), "unsupported target language") {
					t.Errorf("unexpected error text: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", tt.name, err)
			}
			if l.Extension != tt.wantExt {
				t.Errorf("Get(%q).Extension = %q, want %q", tt.name, l.Extension, tt.wantExt)
			}
			if l.CommentPrefix != "//" {
				t.Errorf("Get(%q).CommentPrefix = %q, want //", tt.name, l.CommentPrefix)
			}
		})
	}
}

func TestFromExtension(t *testing.T) {
	if l, ok := FromExtension(".cs"); !ok || l.Name != "CSHARP" {
		t.Errorf("FromExtension(.cs) = %v, %v", l.Name, ok)
	}
	if l, ok := FromExtension(".JAVA"); !ok || l.Name != "JAVA" {
		t.Errorf("FromExtension(.JAVA) = %v, %v", l.Name, ok)
	}
	if _, ok := FromExtension(".vb"); ok {
		t.Error("FromExtension(.vb) should not resolve")
	}
}

func TestDeclPattern(t *testing.T) {
	csharp, _ := Get("CSHARP")
	java, _ := Get("JAVA")

	tests := []struct {
		name string
		l    Language
		text string
		want bool
	}{
		{"csharp class", csharp, "public class Calculator { }", true},
		{"csharp namespace", csharp, "namespace Legacy.Billing;", true},
		{"csharp record", csharp, "public record Point(int X, int Y);", true},
		{"csharp none", csharp, "// just a comment\nvar x = 1;", false},
		{"java package", java, "package com.example;", true},
		{"java interface", java, "interface Runner { void run(); }", true},
		{"java none", java, "int x = 0;", false},
		{"java no struct", java, "struct NotJava { }", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.DeclPattern(tt.text); got != tt.want {
				t.Errorf("DeclPattern(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	got := Supported()
	if len(got) != 2 || got[0] != "CSHARP" || got[1] != "JAVA" {
		t.Errorf("Supported() = %v", got)
	}
}

func TestArtifactName(t *testing.T) {
	csharp, _ := Get("CSHARP")
	java, _ := Get("JAVA")

	tests := []struct {
		name   string
		l      Language
		source string
		want   string
	}{
		{"plain", csharp, "calculator.vb", "calculator.cs"},
		{"nested path", csharp, "legacy/src/Payroll.VB", "Payroll.cs"},
		{"java target", java, "invoice.vb", "invoice.java"},
		{"no extension", csharp, "README", "README.cs"},
		{"dotfile", csharp, ".vb", "source.cs"},
		{"empty", csharp, "", "source.cs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.ArtifactName(tt.source); got != tt.want {
				t.Errorf("ArtifactName(%q) = %q, want %q", tt.source, got, tt.want)
			}
		})
	}
}
