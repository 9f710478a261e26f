package consultation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateCancelled}

func newRecord(t *testing.T) *Record {
	t.Helper()
	return New(uuid.New(), "accordeur", Input{Situation: "une situation assez longue"}, Metadata{}, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
}

func TestCanTransition(t *testing.T) {
	valid := map[[2]State]bool{
		{StatePending, StateProcessing}:    true,
		{StatePending, StateCancelled}:     true,
		{StateProcessing, StateProcessing}: true,
		{StateProcessing, StateCompleted}:  true,
		{StateProcessing, StateFailed}:     true,
		{StateProcessing, StateCancelled}:  true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			assert.Equal(t, valid[[2]State{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRecord_HappyPath(t *testing.T) {
	rec := newRecord(t)
	assert.Equal(t, StatePending, rec.State)
	assert.NotEqual(t, uuid.Nil, rec.ID)

	rec.Start()
	assert.Equal(t, StateProcessing, rec.State)
	assert.Equal(t, 0, rec.AttemptCount)

	rec.BeginAttempt()
	rec.BeginAttempt()
	assert.Equal(t, 2, rec.AttemptCount)

	done := rec.CreatedAt.Add(1500 * time.Millisecond)
	rec.Complete(Output{Text: "réponse", Signature: "L'Accordeur"}, done)

	assert.Equal(t, StateCompleted, rec.State)
	require.NotNil(t, rec.Output)
	assert.Equal(t, "réponse", rec.Output.Text)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, done, *rec.CompletedAt)
	assert.Equal(t, int64(1500), rec.ProcessingMS)
	assert.True(t, rec.State.Terminal())
}

func TestRecord_Fail(t *testing.T) {
	rec := newRecord(t)
	rec.Start()
	rec.BeginAttempt()
	rec.Fail("webhook returned 503", rec.CreatedAt.Add(time.Second))

	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "webhook returned 503", rec.LastError)
	assert.Nil(t, rec.Output)
	assert.NotNil(t, rec.CompletedAt)
}

func TestRecord_CancelFromPendingAndProcessing(t *testing.T) {
	rec := newRecord(t)
	rec.Cancel("client went away", rec.CreatedAt)
	assert.Equal(t, StateCancelled, rec.State)

	rec = newRecord(t)
	rec.Start()
	rec.Cancel("client went away", rec.CreatedAt)
	assert.Equal(t, StateCancelled, rec.State)
}

func TestRecord_InvalidTransitionsPanicInTests(t *testing.T) {
	require.True(t, strictTransitions)

	t.Run("complete from pending", func(t *testing.T) {
		rec := newRecord(t)
		assert.Panics(t, func() { rec.Complete(Output{Text: "x"}, time.Now()) })
	})

	t.Run("attempt before start", func(t *testing.T) {
		rec := newRecord(t)
		assert.Panics(t, func() { rec.BeginAttempt() })
	})

	t.Run("leave a terminal state", func(t *testing.T) {
		rec := newRecord(t)
		rec.Start()
		rec.Fail("boom", time.Now())
		assert.Panics(t, func() { rec.Cancel("late", time.Now()) })
		assert.Panics(t, func() { rec.Start() })
	})
}

func TestRecord_InvalidTransitionIsNoopWhenNotStrict(t *testing.T) {
	strictTransitions = false
	t.Cleanup(func() { strictTransitions = true })

	rec := newRecord(t)
	rec.Start()
	rec.Complete(Output{Text: "première"}, rec.CreatedAt.Add(time.Second))
	completedAt := *rec.CompletedAt

	rec.Fail("should be ignored", time.Now())
	rec.BeginAttempt()

	assert.Equal(t, StateCompleted, rec.State)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.Equal(t, completedAt, *rec.CompletedAt)
}

func TestState_Valid(t *testing.T) {
	for _, s := range allStates {
		assert.True(t, s.Valid())
	}
	assert.False(t, State("archived").Valid())
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{Page: 0, PageSize: 500}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.PageSize)
}
