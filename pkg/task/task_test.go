package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateCreated, StatePlanned, true},
		{StatePlanned, StateActive, true},
		{StateActive, StateReview, true},
		{StateActive, StateBlocked, true},
		{StateActive, StateTesting, true},
		{StateBlocked, StateActive, true},
		{StateReview, StateDone, true},
		{StateReview, StateRejected, true},
		{StateReview, StateTesting, true},
		{StateTesting, StateDone, true},
		{StateTesting, StateRejected, true},
		{StateRejected, StatePlanned, true},
		{StateDone, StateActive, false},
		{StateCreated, StateActive, false},
		{StateBlocked, StateDone, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, ValidTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestWithStatusRefusesInvalidTransition(t *testing.T) {
	tsk := New("t", "d", "proj", 3)
	tsk.Status = StateDone
	_, err := tsk.WithStatus(StateActive, "reactor", "bogus")
	require.Error(t, err)
}

func TestWithStatusAppendsHistory(t *testing.T) {
	tsk := New("t", "d", "proj", 3)
	tsk.Status = StateCreated
	next, err := tsk.WithStatus(StatePlanned, "reactor", "pm complete")
	require.NoError(t, err)
	require.Len(t, next.History, 1)
	assert.Equal(t, StateCreated, next.History[0].From)
	assert.Equal(t, StatePlanned, next.History[0].To)
	assert.Equal(t, StatePlanned, next.Status)
	// original untouched
	assert.Equal(t, StateCreated, tsk.Status)
}

func TestRetryCount(t *testing.T) {
	tsk := New("t", "d", "proj", 1)
	assert.Equal(t, 0, tsk.RetryCount("reviewer_retry_count"))
	tsk.AgentOutputs["reviewer_retry_count"] = "2"
	assert.Equal(t, 2, tsk.RetryCount("reviewer_retry_count"))
	tsk.AgentOutputs["qa_retry_count"] = "not-a-number"
	assert.Equal(t, 0, tsk.RetryCount("qa_retry_count"))
}

func TestPriorityClamped(t *testing.T) {
	assert.Equal(t, 1, New("a", "b", "p", 0).Priority)
	assert.Equal(t, 5, New("a", "b", "p", 99).Priority)
}
