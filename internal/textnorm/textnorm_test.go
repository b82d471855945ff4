package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only spaces", " \t\n ", ""},
		{"collapse", "hello   \n\n world", "hello world"},
		{"trim", "  hi  ", "hi"},
		{"angles", "<b>bold</b>", "bbold/b"},
		{"cyrillic", "  привет,\tмир ", "привет, мир"},
		{"comparison", "a < b", "a b"},
		{"leading bracket", "< x", "x"},
		{"trailing bracket", "x >", "x"},
		{"only brackets", " <> ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"a  b", " <x> \n y ", "plain", "a < b", "< x", "x >\n"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}
