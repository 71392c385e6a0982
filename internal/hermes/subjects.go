package hermes

import "strings"

const (
	SubjectLayersDiscovered = "phantom.layers.discovered"

	StreamName     = "PHANTOM_EVENTS"
	StreamSubjects = "phantom.>"
	StreamMaxAge   = "720h" // 30 days
)

func SubjectRunSolved(runID string) string     { return runSubject(runID, "solved") }
func SubjectRunDegenerate(runID string) string { return runSubject(runID, "degenerate") }
func SubjectRunFailed(runID string) string     { return runSubject(runID, "failed") }

func runSubject(runID, event string) string {
	return strings.Join([]string{"phantom", "sobp", runID, event}, ".")
}
