package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReviewApproved(t *testing.T) {
	output := `Looking at the diff now.
REVIEW_RESULT: APPROVED
FILES_REVIEWED: internal/hook/hook.go, internal/store/store.go
SECURITY_ISSUES: none
PERFORMANCE_ISSUES: none
NOTES: Clean, no concerns.
Done.`

	r := ParseReview(output)
	assert.True(t, r.Found())
	assert.Equal(t, ReviewApproved, r.Result)
	assert.Equal(t, []string{"internal/hook/hook.go", "internal/store/store.go"}, r.FilesReviewed)
	assert.Empty(t, r.SecurityIssues)
	assert.Empty(t, r.PerformanceIssues)
	assert.Equal(t, "Clean, no concerns.", r.Notes)
}

func TestParseReviewChangesRequestedWithIssues(t *testing.T) {
	output := `REVIEW_RESULT: CHANGES_REQUESTED
FILES_REVIEWED: main.go
SECURITY_ISSUES: unsanitized input on line 42
PERFORMANCE_ISSUES: none
NOTES: Fix the input handling before merge.`

	r := ParseReview(output)
	assert.Equal(t, ReviewChangesRequested, r.Result)
	assert.Equal(t, []string{"unsanitized input on line 42"}, r.SecurityIssues)
}

func TestParseReviewUnknownPrefixIgnored(t *testing.T) {
	output := `SOME_OTHER_MARKER: irrelevant
REVIEW_RESULT: COMMENTED`
	r := ParseReview(output)
	assert.Equal(t, ReviewCommented, r.Result)
}

func TestParseReviewNoMarkerFound(t *testing.T) {
	r := ParseReview("just some chatter, no markers here")
	assert.False(t, r.Found())
}

func TestParseReviewLastOccurrenceWins(t *testing.T) {
	output := `REVIEW_RESULT: COMMENTED
still thinking...
REVIEW_RESULT: APPROVED`
	r := ParseReview(output)
	assert.Equal(t, ReviewApproved, r.Result)
}

func TestParseTestPassed(t *testing.T) {
	output := `running suite...
TEST_RESULT: PASSED
NOTES: 42 tests, 0 failures`
	r := ParseTest(output)
	assert.True(t, r.Found())
	assert.Equal(t, TestPassed, r.Outcome)
	assert.Equal(t, "42 tests, 0 failures", r.Notes)
}

func TestParseTestFailed(t *testing.T) {
	r := ParseTest("TEST_RESULT: FAILED")
	assert.Equal(t, TestFailed, r.Outcome)
}
