package helperfabric

import "testing"

func TestBuildTriggerMessage_CompletedIncludesResult(t *testing.T) {
	msg := BuildTriggerMessage(HelperOutcome{Name: "researcher", Status: StatusCompleted, Result: "found 3 articles"})
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
	if !contains(msg, "found 3 articles") {
		t.Fatalf("message missing result: %s", msg)
	}
}

func TestBuildTriggerMessage_FailedIncludesError(t *testing.T) {
	msg := BuildTriggerMessage(HelperOutcome{Name: "coder", Status: StatusFailed, Error: "compile error"})
	if !contains(msg, "compile error") {
		t.Fatalf("message missing error: %s", msg)
	}
}

func TestBuildHelperSystemPrompt_IncludesTaskAndIDs(t *testing.T) {
	prompt := BuildHelperSystemPrompt("parent-1", "helper-1", "summarize the repo")
	for _, want := range []string{"parent-1", "helper-1", "summarize the repo"} {
		if !contains(prompt, want) {
			t.Fatalf("prompt missing %q: %s", want, prompt)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
