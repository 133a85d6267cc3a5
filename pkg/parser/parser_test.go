package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePMPrefersLastFencedBlock(t *testing.T) {
	text := "stray thoughts\n```json\n{\"subtasks\": []}\n```\nmore prose\n```json\n{\"analysis\": \"ok\", \"subtasks\": [{\"title\": \"do first\", \"description\": \"first desc\"}, {\"title\": \"do thing\", \"description\": \"second desc\", \"depends_on\": [0, 5]}]}\n```\n"
	plan, ok := ParsePM(text)
	require.True(t, ok)
	assert.Equal(t, "ok", plan.Analysis)
	require.Len(t, plan.Subtasks, 2)
	assert.Equal(t, "do thing", plan.Subtasks[1].Title)
	assert.Equal(t, []int{0}, plan.Subtasks[1].DependsOn)
}

func TestParsePMFallsBackToBalancedBraceScan(t *testing.T) {
	text := `The agent forgot the fence: {"analysis": "fallback", "subtasks": [{"title": "x", "description": "y"}]} end of response.`
	plan, ok := ParsePM(text)
	require.True(t, ok)
	assert.Equal(t, "fallback", plan.Analysis)
	require.Len(t, plan.Subtasks, 1)
}

func TestParsePMDropsUntitledSubtasks(t *testing.T) {
	text := "```json\n{\"subtasks\": [{\"title\": \"\", \"description\": \"d\"}, {\"title\": \"keep\", \"description\": \"d\"}]}\n```"
	plan, ok := ParsePM(text)
	require.True(t, ok)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "keep", plan.Subtasks[0].Title)
}

func TestParsePMDropsSubtasksMissingDescription(t *testing.T) {
	text := "```json\n{\"subtasks\": [{\"title\": \"no desc\"}, {\"title\": \"keep\", \"description\": \"d\"}]}\n```"
	plan, ok := ParsePM(text)
	require.True(t, ok)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "keep", plan.Subtasks[0].Title)
}

func TestParsePMDropsSelfAndForwardReferencingDeps(t *testing.T) {
	text := "```json\n{\"subtasks\": [{\"title\": \"first\", \"description\": \"d\", \"depends_on\": [0, 1]}]}\n```"
	plan, ok := ParsePM(text)
	require.True(t, ok)
	require.Len(t, plan.Subtasks, 1)
	assert.Empty(t, plan.Subtasks[0].DependsOn)
}

func TestParsePMReturnsFalseWhenNoSubtasksSurvive(t *testing.T) {
	text := "```json\n{\"subtasks\": [{\"title\": \"\"}]}\n```"
	_, ok := ParsePM(text)
	assert.False(t, ok)
}

func TestParseReviewerRequiresKnownVerdict(t *testing.T) {
	text := "```json\n{\"verdict\": \"maybe\", \"summary\": \"huh\"}\n```"
	_, ok := ParseReviewer(text)
	assert.False(t, ok)

	text = "```json\n{\"verdict\": \"approve\", \"summary\": \"lgtm\"}\n```"
	r, ok := ParseReviewer(text)
	require.True(t, ok)
	assert.True(t, r.Approved())
}

func TestParseQAVerdicts(t *testing.T) {
	text := "```json\n{\"verdict\": \"fail\", \"failure_details\": \"boom\"}\n```"
	q, ok := ParseQA(text)
	require.True(t, ok)
	assert.False(t, q.Passed())
	assert.Equal(t, "boom", q.FailureDetails)
}

func TestParseArchitectAppendixIdempotentMarker(t *testing.T) {
	text := "```json\n{\"decisions\": [\"use chi\"], \"interfaces\": [\"Store\"]}\n```"
	d, ok := ParseArchitect(text)
	require.True(t, ok)
	appendix := d.Appendix()
	assert.Contains(t, appendix, ArchitectureGuidanceMarker)
	assert.Contains(t, appendix, "use chi")
}

func TestParsePMAcceptance(t *testing.T) {
	text := "```json\n{\"verdict\": \"accept\", \"feedback\": \"ship it\"}\n```"
	a, ok := ParsePMAcceptance(text)
	require.True(t, ok)
	assert.True(t, a.Accepted())
}

func TestParseDocs(t *testing.T) {
	text := "```json\n{\"files_updated\": [\"README.md\"], \"summary\": \"updated docs\"}\n```"
	d, ok := ParseDocs(text)
	require.True(t, ok)
	assert.Equal(t, []string{"README.md"}, d.FilesUpdated)
}

func TestParseReturnsFalseOnNoMatch(t *testing.T) {
	_, ok := ParsePM("no json here at all")
	assert.False(t, ok)
}

func TestSchemasCoverEveryRole(t *testing.T) {
	schemas := Schemas()
	for _, role := range []string{"pm", "architect", "reviewer", "qa", "pm_acceptance", "docs"} {
		assert.Contains(t, schemas, role)
	}
}
