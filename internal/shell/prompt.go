package shell

import "strings"

// detectPrompt decides whether the shell's pending output ends in an
// interactive prompt awaiting stdin, per the exact grammar in spec §4.2.
// All comparisons are case-insensitive and consider only the last
// non-empty line of buffered output.
func detectPrompt(buffered string) (Prompt, bool) {
	line := lastNonEmptyLine(buffered)
	if line == "" {
		return Prompt{}, false
	}
	lower := strings.ToLower(strings.TrimSpace(line))
	if lower == "" {
		return Prompt{}, false
	}

	switch {
	case strings.HasSuffix(lower, "(y/n)"),
		strings.HasSuffix(lower, "[y/n]"),
		strings.HasSuffix(lower, "yes/no?"):
		return Prompt{Text: line, Default: "y"}, true

	case strings.HasSuffix(lower, "?"):
		return Prompt{Text: line, Default: ""}, true

	case strings.HasSuffix(lower, ">") && strings.Contains(lower, "enter"):
		return Prompt{Text: line, Default: ""}, true

	case strings.HasSuffix(lower, ":") &&
		(strings.Contains(lower, "password") || !strings.Contains(lower, "//")):
		return Prompt{Text: line, Default: ""}, true
	}

	return Prompt{}, false
}

// lastNonEmptyLine returns the final non-blank line of s, ignoring a
// trailing newline.
func lastNonEmptyLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return ""
	}
	idx := strings.LastIndexAny(s, "\r\n")
	var line string
	if idx < 0 {
		line = s
	} else {
		line = s[idx+1:]
	}
	return line
}
