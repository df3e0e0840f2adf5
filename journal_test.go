package paysaga

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepStatus_Transitions(t *testing.T) {
	tests := []struct {
		from    StepStatus
		event   JournalEventType
		want    StepStatus
		wantErr bool
	}{
		{StepNeverStarted, EventStarted, StepStarted, false},
		{StepStarted, EventSucceeded, StepSucceeded, false},
		{StepStarted, EventFailed, StepFailed, false},
		{StepStarted, EventResumed, StepStarted, false},
		{StepSucceeded, EventUndoStarted, StepUndoStarted, false},
		{StepUndoStarted, EventUndoFinished, StepUndoFinished, false},
		{StepUndoStarted, EventUndoFailed, StepUndoFailed, false},
		{StepUndoStarted, EventResumed, StepUndoStarted, false},

		{StepNeverStarted, EventSucceeded, 0, true},
		{StepSucceeded, EventStarted, 0, true},
		{StepFailed, EventUndoStarted, 0, true},
		{StepUndoFinished, EventUndoStarted, 0, true},
		{StepSucceeded, EventResumed, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"+"+tt.event.String(), func(t *testing.T) {
			got, err := tt.from.nextStatus(tt.event)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJournal_RefusesToRunAStepTwice(t *testing.T) {
	j := NewJournal("payment-1")
	require.NoError(t, j.Record(JournalEvent{Step: StepCapture, Type: EventStarted}))
	require.NoError(t, j.Record(JournalEvent{Step: StepCapture, Type: EventSucceeded}))

	err := j.Record(JournalEvent{Step: StepCapture, Type: EventStarted})
	assert.ErrorContains(t, err, "step capture")
	assert.Equal(t, StepSucceeded, j.Status(StepCapture))
	assert.Len(t, j.Events(), 2)
	assert.False(t, j.Unwinding())
}

func TestJournal_UnwindingAfterFailure(t *testing.T) {
	j := NewJournal("payment-1")
	require.NoError(t, j.Record(JournalEvent{Step: StepLockRate, Type: EventStarted}))
	require.NoError(t, j.Record(JournalEvent{Step: StepLockRate, Type: EventSucceeded}))
	require.NoError(t, j.Record(JournalEvent{Step: StepCapture, Type: EventStarted}))
	require.NoError(t, j.Record(JournalEvent{Step: StepCapture, Type: EventFailed}))
	assert.True(t, j.Unwinding())

	require.NoError(t, j.Record(JournalEvent{Step: StepLockRate, Type: EventUndoStarted}))
	require.NoError(t, j.Record(JournalEvent{Step: StepLockRate, Type: EventUndoFinished}))
	assert.Equal(t, StepUndoFinished, j.Status(StepLockRate))
	assert.Equal(t, 1, j.Count(StepLockRate, EventUndoFinished))
	assert.Equal(t, StepNeverStarted, j.Status(StepNotify))

	out := j.String()
	assert.True(t, strings.HasPrefix(out, "SAGA JOURNAL:\n"))
	assert.Contains(t, out, "direction: unwinding")
	assert.Contains(t, out, "events (6 total)")
}

func TestRecoverJournal(t *testing.T) {
	events := []JournalEvent{
		{Step: StepValidate, Type: EventStarted},
		{Step: StepValidate, Type: EventSucceeded},
		{Step: StepLockRate, Type: EventStarted},
	}
	data, err := json.Marshal(events)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"succeeded"`)

	var decoded []JournalEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	j, err := RecoverJournal("payment-1", decoded)
	require.NoError(t, err)
	assert.Equal(t, StepSucceeded, j.Status(StepValidate))
	assert.Equal(t, StepStarted, j.Status(StepLockRate))
	require.NoError(t, j.Record(JournalEvent{Step: StepLockRate, Type: EventResumed}))

	_, err = RecoverJournal("payment-1", []JournalEvent{{Step: StepValidate, Type: EventSucceeded}})
	assert.Error(t, err)

	var bad JournalEventType
	assert.Error(t, json.Unmarshal([]byte(`"exploded"`), &bad))
}
