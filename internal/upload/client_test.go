package upload

import "testing"

func TestConversionVariant(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CSHARP", "conversion_csharp"},
		{"JAVA", "conversion_java"},
		{" java ", "conversion_java"},
	}
	for _, tt := range tests {
		if got := ConversionVariant(tt.in); got != tt.want {
			t.Errorf("ConversionVariant(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
