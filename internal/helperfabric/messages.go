package helperfabric

import (
	"fmt"
	"strings"
	"time"
)

// HelperOutcome summarizes one completed helper run, used to build the
// message injected into the parent session's history.
type HelperOutcome struct {
	HelperID string
	Name     string
	Task     string
	Status   Status
	Result   string
	Error    string
	Ended    time.Time
}

// BuildTriggerMessage renders a helper's outcome as a user-role message to
// append to the parent session, following the teacher's "summarize this
// naturally" framing.
func BuildTriggerMessage(o HelperOutcome) string {
	label := o.Name
	if label == "" {
		label = o.Task
	}
	if label == "" {
		label = "helper task"
	}

	var statusLabel string
	switch o.Status {
	case StatusCompleted:
		statusLabel = "completed successfully"
	case StatusCancelled:
		statusLabel = "was cancelled"
	case StatusFailed:
		if o.Error != "" {
			statusLabel = fmt.Sprintf("failed: %s", o.Error)
		} else {
			statusLabel = "failed: unknown error"
		}
	default:
		statusLabel = "finished with unknown status"
	}

	reply := o.Result
	if reply == "" {
		reply = "(no output)"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf(`Helper agent %q just %s.`, label, statusLabel))
	lines = append(lines, "")
	lines = append(lines, "Result:")
	lines = append(lines, reply)
	lines = append(lines, "")
	lines = append(lines, "Summarize this naturally for the user in 1-2 sentences; do not mention that this ran as a background helper.")

	return strings.Join(lines, "\n")
}

// BuildHelperSystemPrompt renders the system prompt a spawned helper agent
// runs under, scoping it to its task and away from user-facing channel
// behavior that belongs to the parent session.
func BuildHelperSystemPrompt(parentID, helperID, task string) string {
	var lines []string
	lines = append(lines, "# Helper Agent Context")
	lines = append(lines, "")
	lines = append(lines, "You were spawned by another session to complete one task.")
	lines = append(lines, fmt.Sprintf("Task: %s", task))
	lines = append(lines, "")
	lines = append(lines, "Rules:")
	lines = append(lines, "1. Stay focused on the assigned task.")
	lines = append(lines, "2. Your final response is reported back to the session that spawned you.")
	lines = append(lines, "3. Do not send notifications or talk to the user directly.")
	lines = append(lines, "4. Be concise: what you found or did, nothing else.")
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Parent session: %s", parentID))
	lines = append(lines, fmt.Sprintf("Helper id: %s", helperID))
	return strings.Join(lines, "\n")
}
