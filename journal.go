package paysaga

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StepName identifies a forward step of the payment saga.
type StepName string

const (
	StepValidate   StepName = "validate"
	StepLockRate   StepName = "lock_rate"
	StepFraud      StepName = "fraud_check"
	StepAML        StepName = "aml_check"
	StepSanctions  StepName = "sanctions_check"
	StepApproval   StepName = "approval"
	StepAuthorize  StepName = "authorize"
	StepCapture    StepName = "capture"
	StepLedger     StepName = "update_ledgers"
	StepNotify     StepName = "notify"
	StepCompliance StepName = "compliance"
)

// checkStep maps a compliance check to its journal step.
func checkStep(check CheckType) StepName {
	switch check {
	case CheckFraud:
		return StepFraud
	case CheckAML:
		return StepAML
	case CheckSanctions:
		return StepSanctions
	}
	return StepCompliance
}

// stepCheck is the inverse of checkStep.
func stepCheck(step StepName) (CheckType, bool) {
	for _, check := range ComplianceChecks {
		if checkStep(check) == step {
			return check, true
		}
	}
	return "", false
}

// JournalEventType is the kind of a journal entry.
type JournalEventType int

const (
	EventStarted JournalEventType = iota
	EventSucceeded
	EventFailed
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
	// EventResumed re-enters a step that was started but never finished,
	// after the saga was restored from a checkpoint.
	EventResumed
)

func (t JournalEventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventUndoStarted:
		return "undo_started"
	case EventUndoFinished:
		return "undo_finished"
	case EventUndoFailed:
		return "undo_failed"
	case EventResumed:
		return "resumed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

func (t JournalEventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *JournalEventType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for candidate := EventStarted; candidate <= EventResumed; candidate++ {
		if candidate.String() == str {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("invalid journal event type: %s", str)
}

// JournalEvent is one entry of the step journal.
type JournalEvent struct {
	Step StepName         `json:"step"`
	Type JournalEventType `json:"type"`
	At   time.Time        `json:"at"`
}

func (e JournalEvent) String() string {
	return fmt.Sprintf("%-16s %s", e.Step, e.Type)
}

// StepStatus is the status of a step derived from its journal events.
type StepStatus int

const (
	StepNeverStarted StepStatus = iota
	StepStarted
	StepSucceeded
	StepFailed
	StepUndoStarted
	StepUndoFinished
	StepUndoFailed
)

// nextStatus returns the status of a step after recording eventType.
func (s StepStatus) nextStatus(eventType JournalEventType) (StepStatus, error) {
	switch s {
	case StepNeverStarted:
		if eventType == EventStarted {
			return StepStarted, nil
		}
	case StepStarted:
		switch eventType {
		case EventSucceeded:
			return StepSucceeded, nil
		case EventFailed:
			return StepFailed, nil
		case EventResumed:
			return StepStarted, nil
		}
	case StepSucceeded:
		if eventType == EventUndoStarted {
			return StepUndoStarted, nil
		}
	case StepUndoStarted:
		switch eventType {
		case EventUndoFinished:
			return StepUndoFinished, nil
		case EventUndoFailed:
			return StepUndoFailed, nil
		case EventResumed:
			return StepUndoStarted, nil
		}
	}
	return StepNeverStarted, fmt.Errorf("illegal event %s for status %s", eventType, s)
}

func (s StepStatus) String() string {
	switch s {
	case StepNeverStarted:
		return "NeverStarted"
	case StepStarted:
		return "Started"
	case StepSucceeded:
		return "Succeeded"
	case StepFailed:
		return "Failed"
	case StepUndoStarted:
		return "UndoStarted"
	case StepUndoFinished:
		return "UndoFinished"
	case StepUndoFailed:
		return "UndoFailed"
	default:
		return fmt.Sprintf("Unknown StepStatus: %d", int(s))
	}
}

// Journal is the write-ahead log of a saga's steps. It refuses transitions
// that would run a step twice.
type Journal struct {
	sync.Mutex
	sagaID    string
	unwinding bool
	events    []JournalEvent
	status    map[StepName]StepStatus
}

// NewJournal creates an empty journal.
func NewJournal(sagaID string) *Journal {
	return &Journal{
		sagaID: sagaID,
		events: make([]JournalEvent, 0),
		status: make(map[StepName]StepStatus),
	}
}

// RecoverJournal replays persisted events in the order they were written.
func RecoverJournal(sagaID string, events []JournalEvent) (*Journal, error) {
	j := NewJournal(sagaID)
	for _, event := range events {
		if err := j.Record(event); err != nil {
			return nil, fmt.Errorf("error recovering journal for saga %s: %w", sagaID, err)
		}
	}
	return j, nil
}

// Record appends event if it is a legal transition for its step.
func (j *Journal) Record(event JournalEvent) error {
	j.Lock()
	defer j.Unlock()

	current := j.statusLocked(event.Step)
	next, err := current.nextStatus(event.Type)
	if err != nil {
		return fmt.Errorf("step %s: %w", event.Step, err)
	}

	switch next {
	case StepFailed, StepUndoStarted, StepUndoFinished, StepUndoFailed:
		j.unwinding = true
	}

	j.status[event.Step] = next
	j.events = append(j.events, event)
	return nil
}

// Status returns the current status of step.
func (j *Journal) Status(step StepName) StepStatus {
	j.Lock()
	defer j.Unlock()
	return j.statusLocked(step)
}

func (j *Journal) statusLocked(step StepName) StepStatus {
	status, ok := j.status[step]
	if !ok {
		return StepNeverStarted
	}
	return status
}

// Unwinding reports whether any step failed or was undone.
func (j *Journal) Unwinding() bool {
	j.Lock()
	defer j.Unlock()
	return j.unwinding
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []JournalEvent {
	j.Lock()
	defer j.Unlock()
	out := make([]JournalEvent, len(j.events))
	copy(out, j.events)
	return out
}

// Count returns how many events of eventType were recorded for step.
func (j *Journal) Count(step StepName, eventType JournalEventType) int {
	j.Lock()
	defer j.Unlock()
	n := 0
	for _, e := range j.events {
		if e.Step == step && e.Type == eventType {
			n++
		}
	}
	return n
}

// String pretty-prints the journal.
func (j *Journal) String() string {
	j.Lock()
	defer j.Unlock()

	var sb strings.Builder
	sb.WriteString("SAGA JOURNAL:\n")
	sb.WriteString(fmt.Sprintf("saga id:   %s\n", j.sagaID))
	direction := "forward"
	if j.unwinding {
		direction = "unwinding"
	}
	sb.WriteString(fmt.Sprintf("direction: %s\n", direction))
	sb.WriteString(fmt.Sprintf("events (%d total):\n\n", len(j.events)))
	for i, event := range j.events {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, event.String()))
	}
	return sb.String()
}
