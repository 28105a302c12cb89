package shell

import "testing"

func TestDetectPrompt(t *testing.T) {
	cases := []struct {
		name       string
		buffered   string
		wantPrompt bool
		wantDef    string
	}{
		{"yes no parens", "Overwrite file? (y/n)", true, "y"},
		{"yes no brackets", "Proceed [y/n]", true, "y"},
		{"yes no spelled", "Continue? yes/no?", true, "y"},
		{"question mark", "What is your name?", true, ""},
		{"enter prompt", "Press enter to continue>", true, ""},
		{"password prompt", "Password:", true, ""},
		{"plain colon without password or url", "Notes:", true, ""},
		{"colon with url, no password", "See https://example.com/path:", false, ""},
		{"ordinary output", "hello world", false, ""},
		{"empty", "", false, ""},
		{"trailing blank lines ignored", "What now?\n\n\n", true, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := detectPrompt(tc.buffered)
			if ok != tc.wantPrompt {
				t.Fatalf("detectPrompt(%q) ok = %v, want %v", tc.buffered, ok, tc.wantPrompt)
			}
			if ok && p.Default != tc.wantDef {
				t.Fatalf("detectPrompt(%q) default = %q, want %q", tc.buffered, p.Default, tc.wantDef)
			}
		})
	}
}
