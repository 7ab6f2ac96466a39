package lineup

import (
	"reflect"
	"testing"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"b2b billing", "Boris Brejcha B2B Ben Böhmer", []string{"Boris Brejcha", "Ben Böhmer"}},
		{"lowercase b2b", "adam beyer b2b cirez d", []string{"adam beyer", "cirez d"}},
		{"ampersand", "Mind Against & Tale Of Us", []string{"Mind Against", "Tale Of Us"}},
		{"parenthesis cut", "Amelie Lens (Belgium)", []string{"Amelie Lens"}},
		{"live suffix", "Charlotte de Witte Live", []string{"Charlotte de Witte"}},
		{"dj set suffix", "Ben Klock DJ Set", []string{"Ben Klock"}},
		{"multiple lines", "Solomun\n\nAnna (live)\r\nSolomun", []string{"Solomun", "Anna"}},
		{"word containing b2b", "B2Boys", []string{"B2Boys"}},
		{"x is part of the name", "Bicep x Hammer", []string{"Bicep x Hammer"}},
		{"vs is part of the name", "Adam Beyer vs Layton Giordani", []string{"Adam Beyer vs Layton Giordani"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoleAndName(t *testing.T) {
	if got := roleFrom("Boris Brejcha ( Live )"); got != "Live" {
		t.Errorf("roleFrom = %q, want Live", got)
	}
	if got := roleFrom("no role"); got != "" {
		t.Errorf("roleFrom = %q, want empty", got)
	}
	if got := nameFrom("  Boris   Brejcha (Live)"); got != "Boris Brejcha" {
		t.Errorf("nameFrom = %q, want Boris Brejcha", got)
	}
}
